package storage

import (
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
)

// ═══════════════════════════════════════════════════════════════════════════════
// JOURNAL - Durable history of dispatched triggers and alerts
// ═══════════════════════════════════════════════════════════════════════════════
//
// The JSON state files carry only the live rules; this is the append
// side used by /autosell_logs and /status. An empty path disables the
// journal entirely and every method becomes a no-op.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Models

// TriggerRecord is one fired exit rule (including dry-run fills).
type TriggerRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	RuleID    string          `gorm:"index"`
	ChatID    int64           `gorm:"index"`
	Token     string          `gorm:"index"`
	Kind      string          // TAKE_PROFIT, STOP_LOSS, TRAILING_STOP
	Price     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Threshold decimal.Decimal `gorm:"type:decimal(30,12)"`
	TxRef     string
	CreatedAt time.Time
}

// AlertRecord is one delivered watch-move alert.
type AlertRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	ChatID    int64           `gorm:"index"`
	Token     string          `gorm:"index"`
	MovePct   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Price     decimal.Decimal `gorm:"type:decimal(30,12)"`
	CreatedAt time.Time
}

type Journal struct {
	db      *gorm.DB
	enabled bool
}

// Stats aggregates journal counts for /status.
type Stats struct {
	Triggers int64
	Alerts   int64
}

// NewJournal opens the journal at path. A postgres:// URL selects the
// Postgres driver, anything else is treated as a SQLite file path. An
// empty path returns a disabled journal.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		log.Info().Msg("Journal disabled (no path configured)")
		return &Journal{}, nil
	}

	var db *gorm.DB
	var err error

	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		db, err = gorm.Open(postgres.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Journal connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TriggerRecord{}, &AlertRecord{}); err != nil {
		return nil, err
	}

	return &Journal{db: db, enabled: true}, nil
}

// Enabled reports whether writes reach a real database.
func (j *Journal) Enabled() bool { return j.enabled }

// LogTrigger records a fired exit rule. Write failures are logged,
// never propagated; the journal must not block dispatch.
func (j *Journal) LogTrigger(ruleID string, chatID int64, token, kind string, price, threshold decimal.Decimal, txRef string) {
	if !j.enabled {
		return
	}
	rec := TriggerRecord{
		RuleID:    ruleID,
		ChatID:    chatID,
		Token:     token,
		Kind:      kind,
		Price:     price,
		Threshold: threshold,
		TxRef:     txRef,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Error().Err(err).Str("rule_id", ruleID).Msg("Journal trigger write failed")
	}
}

// LogAlert records a delivered watch alert.
func (j *Journal) LogAlert(chatID int64, token string, movePct, price decimal.Decimal) {
	if !j.enabled {
		return
	}
	rec := AlertRecord{
		ChatID:  chatID,
		Token:   token,
		MovePct: movePct,
		Price:   price,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Error().Err(err).Str("token", token).Msg("Journal alert write failed")
	}
}

// RecentTriggers returns the newest trigger records for one chat,
// newest first.
func (j *Journal) RecentTriggers(chatID int64, limit int) ([]TriggerRecord, error) {
	if !j.enabled {
		return nil, nil
	}
	var recs []TriggerRecord
	err := j.db.Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// JournalStats returns total row counts.
func (j *Journal) JournalStats() (Stats, error) {
	if !j.enabled {
		return Stats{}, nil
	}
	var s Stats
	if err := j.db.Model(&TriggerRecord{}).Count(&s.Triggers).Error; err != nil {
		return s, err
	}
	if err := j.db.Model(&AlertRecord{}).Count(&s.Alerts).Error; err != nil {
		return s, err
	}
	return s, nil
}
