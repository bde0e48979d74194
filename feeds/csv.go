package feeds

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CSV CANDLE LOADER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads OHLCV exports with a header row. Recognised columns (any case):
//   Date | Gmt time | Datetime, optional Time, Open, High, Low, Close, Volume
//
// ═══════════════════════════════════════════════════════════════════════════════

// LoadOptions controls parsing and slicing
type LoadOptions struct {
	Delimiter      rune // ',' when zero
	DropZeroVolume bool // skip bars that did not trade
	Begin          int  // first row kept (after filtering)
	End            int  // one past the last row kept, <= 0 keeps the rest
}

var timeLayouts = []string{
	"02.01.2006 15:04:05.000",
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ErrNoData is returned when nothing is left after filtering and slicing
var ErrNoData = errors.New("no candles loaded")

// LoadCSV reads candles from a file
func LoadCSV(path string, opts LoadOptions) ([]types.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	candles, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("candles", len(candles)).
		Msg("📈 Candles loaded")

	return candles, nil
}

// ReadCSV parses candles from r
func ReadCSV(r io.Reader, opts LoadOptions) ([]types.Candle, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	need := []string{"open", "high", "low", "close"}
	for _, name := range need {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	dateCol := -1
	for _, name := range []string{"date", "gmt time", "datetime", "timestamp"} {
		if i, ok := cols[name]; ok {
			dateCol = i
			break
		}
	}
	timeCol, hasTime := cols["time"]
	volCol, hasVol := cols["volume"]

	var candles []types.Candle
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var c types.Candle
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
		for i, name := range need {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			*fields[i] = v
		}

		if hasVol {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[volCol]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: volume: %w", line, err)
			}
			c.Volume = v
		}

		if opts.DropZeroVolume && hasVol && c.Volume == 0 {
			continue
		}

		if dateCol >= 0 {
			stamp := strings.TrimSpace(rec[dateCol])
			if hasTime && timeCol != dateCol {
				stamp += " " + strings.TrimSpace(rec[timeCol])
			}
			c.Time = parseTime(stamp)
		}

		candles = append(candles, c)
	}

	candles = slice(candles, opts.Begin, opts.End)
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	return types.Reindex(candles), nil
}

func slice(candles []types.Candle, begin, end int) []types.Candle {
	if begin < 0 {
		begin = 0
	}
	if end <= 0 || end > len(candles) {
		end = len(candles)
	}
	if begin >= end {
		return nil
	}
	return candles[begin:end]
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
