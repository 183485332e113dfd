package etl

import (
	"context"

	"gorm.io/gorm"
)

// Translation is the audit row written per translated knowledge object.
type Translation struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Bucket     string `gorm:"type:varchar(128);not null" json:"bucket"`
	SourceKey  string `gorm:"type:varchar(512);not null;index" json:"source_key"`
	OutputKey  string `gorm:"type:varchar(512);not null" json:"output_key"`
	TargetLang string `gorm:"type:varchar(8);not null" json:"target_lang"`
	CreatedAt  int64  `gorm:"not null" json:"created_at"`
}

func (Translation) TableName() string { return "kb_translations" }

// AuditStore records what the ETL pass produced.
type AuditStore interface {
	RecordTranslation(ctx context.Context, t *Translation) error
}

type Audit struct {
	db *gorm.DB
}

func NewAudit(db *gorm.DB) *Audit {
	return &Audit{db: db}
}

func (a *Audit) RecordTranslation(ctx context.Context, t *Translation) error {
	return a.db.WithContext(ctx).Create(t).Error
}
