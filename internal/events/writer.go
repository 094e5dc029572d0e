package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Snapshot is the before/after payload attached to an audit fact.
type Snapshot map[string]any

// Append writes an audit fact inside the caller's transaction so the
// fact commits or rolls back with the mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, projectID, entityType, entityID, actorID string, before, after Snapshot) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	beforeJSON, err := marshalSnapshot(before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	afterJSON, err := marshalSnapshot(after)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,action,project_id,entity_type,entity_id,actor_id,before_json,after_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, action, nullable(projectID), entityType, nullable(entityID), actorID, beforeJSON, afterJSON)
	return err
}

func marshalSnapshot(s Snapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
