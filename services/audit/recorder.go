package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Record describes one governance action. Before and After are snapshotted
// to JSON at write time.
type Record struct {
	EntityType  string
	EntityID    string
	Action      string
	PerformedBy string
	Before      any
	After       any
	Notes       string
}

// Recorder appends audit entries. Write takes the caller's transaction so a
// rolled-back operation leaves no audit row behind.
type Recorder interface {
	Write(ctx context.Context, tx *gorm.DB, records ...Record) error
}

type recorder struct {
	node *snowflake.Node
}

func NewRecorder(node *snowflake.Node) Recorder {
	return &recorder{node: node}
}

func (r *recorder) Write(ctx context.Context, tx *gorm.DB, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	entries := make([]*Entry, 0, len(records))
	for _, rec := range records {
		before, err := snapshot(rec.Before)
		if err != nil {
			return fmt.Errorf("snapshot before value: %w", err)
		}
		after, err := snapshot(rec.After)
		if err != nil {
			return fmt.Errorf("snapshot after value: %w", err)
		}

		entries = append(entries, &Entry{
			ID:          r.node.Generate().String(),
			EntityType:  rec.EntityType,
			EntityID:    rec.EntityID,
			Action:      rec.Action,
			PerformedBy: rec.PerformedBy,
			BeforeValue: before,
			AfterValue:  after,
			Notes:       rec.Notes,
		})
	}

	return tx.WithContext(ctx).Create(entries).Error
}

func snapshot(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}
