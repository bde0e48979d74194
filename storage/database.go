package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Run, signal, intent and trade persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// SQLite by default, PostgreSQL when the DSN is a postgres:// URL.
// Every row carries the run ID so several runs can share one database.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// Run is one backtest or signal pass over a candle buffer
type Run struct {
	ID             string `gorm:"primaryKey"`
	Number         int
	Ticker         string `gorm:"index"`
	Mode           string
	Candles        int
	PivotWindow    int
	Backcandles    int
	GapWindow      int
	ZoneHeight     float64
	BreakoutFactor float64
	SLDistance     float64
	TPSLRatio      float64
	BuySignals     int
	SellSignals    int
	Trades         int
	Wins           int
	Losses         int
	Gross          decimal.Decimal `gorm:"type:decimal(20,6)"`
	Net            decimal.Decimal `gorm:"type:decimal(20,6)"`
	FinalCash      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status         string          `gorm:"index"` // "running", "done", "failed"
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SignalRow is one labeled candle of a run
type SignalRow struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"index"`
	Index  int    `gorm:"column:bar_index"`
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Pivot  string
	Signal string `gorm:"index"`
}

// Intent is a submitted bracket and what became of it
type Intent struct {
	ID         string `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	Index      int    `gorm:"column:bar_index"`
	Direction  string
	Signal     string
	Entry      decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status     string          `gorm:"index"`
	FillPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	FillValue  decimal.Decimal `gorm:"type:decimal(20,6)"`
	FillIndex  int
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trade is a closed round trip
type Trade struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index"`
	IntentID   string `gorm:"index"`
	Direction  string
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	Gross      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Net        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason     string
	BarOpen    int
	BarClose   int
	CreatedAt  time.Time
}

// New opens dsn and migrates the schema. ":memory:" gives a private
// in-memory SQLite database.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if dsn == ":memory:" {
			// each pooled connection would see its own empty database
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Run{}, &SignalRow{}, &Intent{}, &Trade{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// Close releases the connection pool
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Run operations

func (d *Database) CreateRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	return d.db.Create(run).Error
}

func (d *Database) SaveRun(run *Run) error {
	return d.db.Save(run).Error
}

func (d *Database) GetRun(id string) (*Run, error) {
	var run Run
	err := d.db.First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (d *Database) GetRecentRuns(limit int) ([]Run, error) {
	var runs []Run
	err := d.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// Signal operations

// SaveSignals stores rows in batches
func (d *Database) SaveSignals(rows []SignalRow) error {
	if len(rows) == 0 {
		return nil
	}
	return d.db.CreateInBatches(rows, 500).Error
}

func (d *Database) GetSignals(runID string, onlyTriggers bool) ([]SignalRow, error) {
	var rows []SignalRow
	q := d.db.Where("run_id = ?", runID)
	if onlyTriggers {
		q = q.Where("signal <> ?", "NONE")
	}
	err := q.Order("bar_index ASC").Find(&rows).Error
	return rows, err
}

// Intent operations

func (d *Database) SaveIntent(intent *Intent) error {
	return d.db.Create(intent).Error
}

func (d *Database) UpdateIntentStatus(id, status string, fillPrice, fillValue decimal.Decimal, fillIndex int, reason string) error {
	return d.db.Model(&Intent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"fill_price": fillPrice,
		"fill_value": fillValue,
		"fill_index": fillIndex,
		"reason":     reason,
	}).Error
}

func (d *Database) GetIntents(runID string) ([]Intent, error) {
	var intents []Intent
	err := d.db.Where("run_id = ?", runID).Order("bar_index ASC").Find(&intents).Error
	return intents, err
}

// Trade operations

func (d *Database) SaveTrade(trade *Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) GetTrades(runID string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("run_id = ?", runID).Order("bar_open ASC").Find(&trades).Error
	return trades, err
}

// GetRecentTrades returns the last limit trades across runs for display
func (d *Database) GetRecentTrades(limit int) ([]types.TradeRecord, error) {
	var trades []Trade
	if err := d.db.Order("created_at DESC, id DESC").Limit(limit).Find(&trades).Error; err != nil {
		return nil, err
	}

	result := make([]types.TradeRecord, len(trades))
	for i, t := range trades {
		result[i] = types.TradeRecord{
			ID:        t.IntentID,
			RunID:     t.RunID,
			Direction: types.Direction(t.Direction),
			Entry:     t.EntryPrice,
			Exit:      t.ExitPrice,
			Gross:     t.Gross,
			Net:       t.Net,
			Reason:    t.Reason,
			BarOpen:   t.BarOpen,
			BarClose:  t.BarClose,
			Timestamp: t.CreatedAt,
		}
	}
	return result, nil
}
