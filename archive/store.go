// Package archive persists finalized call sessions for audit and
// post-mortem review.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/callpilot-ai/callpilot/types"
)

// Config selects the archive backend.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CallRecord is the persisted form of one finished call. Transcript and
// latency data are stored as JSON blobs; the queryable fields get their
// own columns.
type CallRecord struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    string `gorm:"uniqueIndex;size:64;not null"`
	TenantID     string `gorm:"index;size:64"`
	LeadRef      string `gorm:"size:128"`
	ScriptPackID string `gorm:"size:64"`
	Outcome      string `gorm:"index;size:32;not null"`
	FinalState   string `gorm:"size:32;not null"`
	StartedAt    time.Time
	EndedAt      time.Time

	Transcript string `gorm:"type:text"`
	Latency    string `gorm:"type:text"`

	SlotAt        *time.Time
	SlotConfirmed bool

	ErrorDetail string `gorm:"type:text"`
	CreatedAt   time.Time
}

// Store archives outcome packages.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured backend and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "callpilot.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}

	return &Store{db: db, logger: logger.With(zap.String("component", "archive"))}, nil
}

// Save writes one finalized session. Saving the same session twice is
// an error; the archive is append-only.
func (s *Store) Save(ctx context.Context, pkg *types.OutcomePackage) error {
	rec, err := toRecord(pkg)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("archive session %s: %w", pkg.SessionID, err)
	}
	s.logger.Debug("session archived",
		zap.String("session_id", pkg.SessionID),
		zap.String("outcome", string(pkg.Outcome)))
	return nil
}

// Get loads one archived session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.OutcomePackage, error) {
	var rec CallRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s not archived", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return fromRecord(&rec)
}

// ListByOutcome returns up to limit sessions with the given outcome,
// newest first.
func (s *Store) ListByOutcome(ctx context.Context, outcome types.Outcome, limit int) ([]*types.OutcomePackage, error) {
	var recs []CallRecord
	err := s.db.WithContext(ctx).
		Where("outcome = ?", string(outcome)).
		Order("ended_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*types.OutcomePackage, 0, len(recs))
	for i := range recs {
		pkg, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}

func toRecord(pkg *types.OutcomePackage) (*CallRecord, error) {
	transcript, err := json.Marshal(pkg.Turns)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	latency, err := json.Marshal(pkg.Latency)
	if err != nil {
		return nil, fmt.Errorf("marshal latency samples: %w", err)
	}

	rec := &CallRecord{
		SessionID:    pkg.SessionID,
		TenantID:     pkg.TenantID,
		LeadRef:      pkg.LeadRef,
		ScriptPackID: pkg.ScriptPackID,
		Outcome:      string(pkg.Outcome),
		FinalState:   string(pkg.FinalState),
		StartedAt:    pkg.StartedAt,
		EndedAt:      pkg.EndedAt,
		Transcript:   string(transcript),
		Latency:      string(latency),
		ErrorDetail:  pkg.ErrorDetail,
	}
	if pkg.Slot != nil {
		at := pkg.Slot.At
		rec.SlotAt = &at
		rec.SlotConfirmed = pkg.Slot.Confirmed
	}
	return rec, nil
}

func fromRecord(rec *CallRecord) (*types.OutcomePackage, error) {
	pkg := &types.OutcomePackage{
		SessionID:    rec.SessionID,
		TenantID:     rec.TenantID,
		LeadRef:      rec.LeadRef,
		ScriptPackID: rec.ScriptPackID,
		Outcome:      types.Outcome(rec.Outcome),
		FinalState:   types.DialogueState(rec.FinalState),
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		ErrorDetail:  rec.ErrorDetail,
	}
	if rec.Transcript != "" {
		if err := json.Unmarshal([]byte(rec.Transcript), &pkg.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal transcript for %s: %w", rec.SessionID, err)
		}
	}
	if rec.Latency != "" {
		if err := json.Unmarshal([]byte(rec.Latency), &pkg.Latency); err != nil {
			return nil, fmt.Errorf("unmarshal latency for %s: %w", rec.SessionID, err)
		}
	}
	if rec.SlotAt != nil {
		pkg.Slot = &types.AppointmentSlot{At: *rec.SlotAt, Confirmed: rec.SlotConfirmed}
	}
	return pkg, nil
}
