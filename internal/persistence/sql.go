package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorldState is one stored registry snapshot.
type WorldState struct {
	Key       string            `gorm:"primaryKey;type:varchar(128)"`
	Value     []byte            `gorm:"not null"`
	Metadata  datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorldState) TableName() string { return "world_state" }

// SQLGateway stores snapshots in the world_state table.
type SQLGateway struct {
	db *gorm.DB
}

func NewSQLGateway(db *gorm.DB) *SQLGateway {
	return &SQLGateway{db: db}
}

var tracer = otel.Tracer("pantheon/persistence")

func (g *SQLGateway) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrInvalidKey
	}
	ctx, span := tracer.Start(ctx, "world_state.load")
	defer span.End()
	span.SetAttributes(attribute.String("world_state.key", key))

	var row WorldState
	err := g.db.WithContext(ctx).Where(&WorldState{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	span.SetAttributes(attribute.Int("world_state.bytes", len(row.Value)))
	return row.Value, true, nil
}

func (g *SQLGateway) Store(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	ctx, span := tracer.Start(ctx, "world_state.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("world_state.key", key),
		attribute.Int("world_state.bytes", len(value)),
	)

	now := time.Now().UTC()
	row := WorldState{
		Key:   key,
		Value: value,
		Metadata: datatypes.JSONMap{
			"schema_version": SchemaVersion,
			"bytes":          len(value),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "metadata", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Describe returns the stored metadata and last write time for key.
func (g *SQLGateway) Describe(ctx context.Context, key string) (datatypes.JSONMap, time.Time, bool, error) {
	var row WorldState
	err := g.db.WithContext(ctx).
		Select("key", "metadata", "updated_at").
		Where(&WorldState{Key: key}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return row.Metadata, row.UpdatedAt, true, nil
}
