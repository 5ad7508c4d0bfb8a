package state

import (
	"encoding/json"
	"fmt"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// checkpointRow and iterationRow are the SQLite-backed append-only
// audit trail SPEC_FULL.md's domain stack adds on top of the
// original's plain-file EngineState: a queryable history a human can
// inspect after the fact, never consulted for recovery decisions
// (StateRepository alone is authoritative, per spec §4.L).
type checkpointRow struct {
	gorm.Model
	RunID      string `gorm:"index"`
	Status     string
	Summary    string
	Suggestion string
}

type iterationRow struct {
	gorm.Model
	RunID        string `gorm:"index"`
	N            int
	ExecutorName string
	ReviewerName string
	Decision     string
	FindingsJSON string
}

// AuditStore is the concrete repository.AuditStore backed by a SQLite
// file via gorm, following the teacher's gorm.io/driver/sqlite usage
// elsewhere in the pack for local embedded persistence.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(path string) (*AuditStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit sqlite db: %w", err)
	}
	if err := db.AutoMigrate(&checkpointRow{}, &iterationRow{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

var _ repository.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) RecordCheckpoint(runID string, cp entity.Checkpoint) error {
	row := checkpointRow{
		RunID:      runID,
		Status:     cp.Status,
		Summary:    cp.Summary,
		Suggestion: cp.Suggestion,
	}
	return a.db.Create(&row).Error
}

func (a *AuditStore) RecordIteration(runID string, it entity.LoopIteration) error {
	findingsJSON, err := json.Marshal(it.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	row := iterationRow{
		RunID:        runID,
		N:            it.N,
		ExecutorName: it.ExecutorName,
		ReviewerName: it.ReviewerName,
		Decision:     string(it.Decision),
		FindingsJSON: string(findingsJSON),
	}
	return a.db.Create(&row).Error
}

func (a *AuditStore) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
