package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/pivot"
	"github.com/web3guy0/breakoutbot/risk"
	"github.com/web3guy0/breakoutbot/strategy"
)

// Config holds all configuration for a run
type Config struct {
	// Data
	Ticker         string
	DataFile       string
	Delimiter      rune
	DropZeroVolume bool
	Begin          int
	End            int

	// Detector
	PivotWindow int
	Detector    strategy.Params

	// Trading
	Controller  execution.ControllerConfig
	ShortMA     int
	LongMA      int
	Paper       execution.PaperConfig
	Breaker     risk.BreakerConfig
	BridgeURL   string
	SignalLevel string
	SignalShow  string

	// Outputs
	StoreSignals   bool
	DatabasePath   string
	TelegramToken  string
	TelegramChatID int64
	MetricsAddr    string

	// Logging
	Debug      bool
	LogFile    string
	LogMaxSize int
	LogBackups int
	LogMaxAge  int

	// Source of the YAML overrides, empty when none
	ParamsFile string
}

// File mirrors the optional YAML parameter file. Absent keys keep the
// values from the environment.
type File struct {
	Ticker string `yaml:"ticker"`

	Data struct {
		File           string `yaml:"file"`
		Delimiter      string `yaml:"delimiter"`
		DropZeroVolume *bool  `yaml:"drop_zero_volume"`
		Begin          *int   `yaml:"begin"`
		End            *int   `yaml:"end"`
	} `yaml:"data"`

	Run struct {
		PivotWindow    *int     `yaml:"pivot_window"`
		GapWindow      *int     `yaml:"gap_window"`
		Backcandles    *int     `yaml:"backcandles"`
		ZoneHeight     *float64 `yaml:"zone_height"`
		BreakoutFactor *float64 `yaml:"breakout_factor"`
		SLDistance     *float64 `yaml:"sl_distance"`
		TPSLRatio      *float64 `yaml:"tp_sl_ratio"`
	} `yaml:"run"`

	Trading struct {
		Amount      *float64 `yaml:"amount"`
		Size        *float64 `yaml:"size"`
		Sizing      string   `yaml:"sizing"`
		Commission  *float64 `yaml:"commission"`
		SlippageBps *int     `yaml:"slippage_bps"`
		Long        *bool    `yaml:"long"`
		Short       *bool    `yaml:"short"`
		TrendFilter *bool    `yaml:"trend_filter"`
		ShortMA     *int     `yaml:"short_ma"`
		LongMA      *int     `yaml:"long_ma"`
		MaxLosses   *int     `yaml:"max_consecutive_losses"`
		MaxDrawdown *float64 `yaml:"max_drawdown"`
		Cooldown    *int     `yaml:"cooldown_bars"`
	} `yaml:"trading"`

	Options struct {
		StoreSignals *bool  `yaml:"store_signals"`
		SignalLevel  string `yaml:"signal_level"`
		SignalShow   string `yaml:"signal_show"`
	} `yaml:"options"`
}

// Load reads .env, the environment and, when PARAMS_FILE is set, the YAML
// parameter file. The result is validated.
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.ParamsFile != "" {
		if err := cfg.ApplyFile(cfg.ParamsFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from environment variables and defaults only
func FromEnv() (*Config, error) {
	params := strategy.DefaultParams()
	paper := execution.DefaultPaperConfig()
	env := &envReader{}

	cfg := &Config{
		// Data
		Ticker:         getEnv("TICKER", "EURUSD"),
		DataFile:       os.Getenv("DATA_FILE"),
		Delimiter:      []rune(getEnv("CSV_DELIMITER", ","))[0],
		DropZeroVolume: env.getBool("DROP_ZERO_VOLUME", true),
		Begin:          env.getInt("DATA_BEGIN", 0),
		End:            env.getInt("DATA_END", 0),

		// Detector
		PivotWindow: env.getInt("PIVOT_WINDOW", pivot.DefaultWindow),
		Detector: strategy.Params{
			Backcandles:    env.getInt("BACKCANDLES", params.Backcandles),
			GapWindow:      env.getInt("GAP_WINDOW", params.GapWindow),
			ZoneHeight:     env.getFloat("ZONE_HEIGHT", params.ZoneHeight),
			BreakoutFactor: env.getFloat("BREAKOUT_FACTOR", params.BreakoutFactor),
			BounceCount:    strategy.DefaultBounceCount,
		},

		// Trading
		Controller: execution.ControllerConfig{
			Bracket: risk.BracketConfig{
				SLDistance: env.getFloat("SL_DISTANCE", 0.025),
				TPSLRatio:  env.getFloat("TP_SL_RATIO", 1.9),
			},
			AllowLong:   env.getBool("TRADE_LONG", true),
			AllowShort:  env.getBool("TRADE_SHORT", false),
			TrendFilter: env.getBool("TREND_FILTER", false),
		},
		ShortMA: env.getInt("SHORT_MA", 14),
		LongMA:  env.getInt("LONG_MA", 50),
		Paper: execution.PaperConfig{
			Cash:        env.getFloat("CASH", paper.Cash),
			Commission:  env.getFloat("COMMISSION", paper.Commission),
			SlippageBps: env.getInt("SLIPPAGE_BPS", paper.SlippageBps),
			Sizing:      risk.SizingMode(getEnv("SIZING", string(paper.Sizing))),
			SizeValue:   env.getFloat("SIZE", paper.SizeValue),
		},
		Breaker: risk.BreakerConfig{
			MaxConsecutiveLosses: env.getInt("MAX_CONSECUTIVE_LOSSES", 0),
			MaxDrawdown:          env.getFloat("MAX_DRAWDOWN", 0),
			CooldownBars:         env.getInt("BREAKER_COOLDOWN_BARS", 20),
		},
		BridgeURL:   os.Getenv("BRIDGE_URL"),
		SignalLevel: getEnv("SIGNAL_LOG_LEVEL", "debug"),
		SignalShow:  getEnv("SIGNAL_SHOW", "either"),

		// Outputs
		StoreSignals:  env.getBool("STORE_SIGNALS", false),
		DatabasePath:  getEnv("DATABASE_PATH", "data/breakout.db"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),

		// Logging
		Debug:      env.getBool("DEBUG", false),
		LogFile:    os.Getenv("LOG_FILE"),
		LogMaxSize: env.getInt("LOG_MAX_SIZE_MB", 50),
		LogBackups: env.getInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:  env.getInt("LOG_MAX_AGE_DAYS", 30),

		ParamsFile: os.Getenv("PARAMS_FILE"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// ApplyFile overlays the YAML parameter file at path
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read params file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse params file %s: %w", path, err)
	}

	c.apply(&f)
	c.ParamsFile = path
	return nil
}

func (c *Config) apply(f *File) {
	if f.Ticker != "" {
		c.Ticker = f.Ticker
	}

	if f.Data.File != "" {
		c.DataFile = f.Data.File
	}
	if f.Data.Delimiter != "" {
		c.Delimiter = []rune(f.Data.Delimiter)[0]
	}
	setBool(&c.DropZeroVolume, f.Data.DropZeroVolume)
	setInt(&c.Begin, f.Data.Begin)
	setInt(&c.End, f.Data.End)

	setInt(&c.PivotWindow, f.Run.PivotWindow)
	setInt(&c.Detector.GapWindow, f.Run.GapWindow)
	setInt(&c.Detector.Backcandles, f.Run.Backcandles)
	setFloat(&c.Detector.ZoneHeight, f.Run.ZoneHeight)
	setFloat(&c.Detector.BreakoutFactor, f.Run.BreakoutFactor)
	setFloat(&c.Controller.Bracket.SLDistance, f.Run.SLDistance)
	setFloat(&c.Controller.Bracket.TPSLRatio, f.Run.TPSLRatio)

	setFloat(&c.Paper.Cash, f.Trading.Amount)
	setFloat(&c.Paper.SizeValue, f.Trading.Size)
	if f.Trading.Sizing != "" {
		c.Paper.Sizing = risk.SizingMode(f.Trading.Sizing)
	}
	setFloat(&c.Paper.Commission, f.Trading.Commission)
	setInt(&c.Paper.SlippageBps, f.Trading.SlippageBps)
	setBool(&c.Controller.AllowLong, f.Trading.Long)
	setBool(&c.Controller.AllowShort, f.Trading.Short)
	setBool(&c.Controller.TrendFilter, f.Trading.TrendFilter)
	setInt(&c.ShortMA, f.Trading.ShortMA)
	setInt(&c.LongMA, f.Trading.LongMA)
	setInt(&c.Breaker.MaxConsecutiveLosses, f.Trading.MaxLosses)
	setFloat(&c.Breaker.MaxDrawdown, f.Trading.MaxDrawdown)
	setInt(&c.Breaker.CooldownBars, f.Trading.Cooldown)

	setBool(&c.StoreSignals, f.Options.StoreSignals)
	if f.Options.SignalLevel != "" {
		c.SignalLevel = f.Options.SignalLevel
	}
	if f.Options.SignalShow != "" {
		c.SignalShow = f.Options.SignalShow
	}
}

// Validate checks every parameter before any run starts
func (c *Config) Validate() error {
	if err := c.Detector.Validate(c.PivotWindow); err != nil {
		return err
	}
	if err := c.Controller.Validate(); err != nil {
		return err
	}
	if err := c.Paper.Validate(); err != nil {
		return err
	}
	if c.Controller.TrendFilter && (c.ShortMA <= 0 || c.LongMA <= 0) {
		return fmt.Errorf("invalid moving averages short=%d long=%d: must be > 0", c.ShortMA, c.LongMA)
	}
	if c.Breaker.MaxConsecutiveLosses < 0 || c.Breaker.MaxDrawdown < 0 || c.Breaker.CooldownBars < 0 {
		return fmt.Errorf("invalid circuit breaker limits: must be >= 0")
	}
	if c.Breaker.MaxDrawdown >= 1 {
		return fmt.Errorf("invalid MAX_DRAWDOWN=%g: a fraction of peak equity below 1", c.Breaker.MaxDrawdown)
	}
	if !c.Controller.AllowLong && !c.Controller.AllowShort {
		return fmt.Errorf("both long and short trading are disabled")
	}
	if c.Begin < 0 || c.End < 0 || (c.End > 0 && c.End <= c.Begin) {
		return fmt.Errorf("invalid data range [%d,%d)", c.Begin, c.End)
	}
	if _, err := strategy.ParseFilter(c.SignalShow); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.SignalLevel); err != nil {
		return fmt.Errorf("invalid SIGNAL_LOG_LEVEL %q: %w", c.SignalLevel, err)
	}
	return nil
}

// SignalLogLevel returns the level signal lines are logged at
func (c *Config) SignalLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.SignalLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.DebugLevel
	}
	return level
}

// DetectorFilter returns the parsed SignalShow filter
func (c *Config) DetectorFilter() strategy.SignalFilter {
	f, err := strategy.ParseFilter(c.SignalShow)
	if err != nil {
		return strategy.FilterEither
	}
	return f
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and collects every malformed one
type envReader struct {
	errs []error
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	switch strings.ToLower(value) {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("invalid %s: %q is not a boolean", key, value))
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %q is not an integer", key, value))
		return defaultValue
	}
	return i
}

func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %q is not a number", key, value))
		return defaultValue
	}
	return f
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
