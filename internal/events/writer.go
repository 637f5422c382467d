// Package events appends audit rows inside the caller's transaction so a
// mutation and its event commit or roll back together.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type EventPayload map[string]any

type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one event row. payload is marshalled to JSON; a nil payload
// becomes the empty object.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, eventType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	body := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	var pid, eid any
	if projectID != "" {
		pid = projectID
	}
	if entityID != "" {
		eid = entityID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events(ts, type, project_id, entity_kind, entity_id, actor_id, payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.now().UTC().Format(time.RFC3339), eventType, pid, entityKind, eid, actorID, string(body))
	return err
}
