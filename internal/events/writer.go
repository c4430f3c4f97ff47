package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine. The log is append-only; it is read
// back only by the events CLI command and the /events endpoint.
const (
	TaskCreated        = "task.created"
	TaskTransitioned   = "task.transitioned"
	TaskProgressed     = "task.progressed"
	ApprovalSubmitted  = "approval.submitted"
	ApprovalDecided    = "approval.decided"
	ExecutionRequested = "execution.requested"
	LogStarted         = "log.started"
	LogFinished        = "log.finished"
	MilestoneCreated   = "milestone.created"
	MilestoneUpdated   = "milestone.updated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	exec := tx.ExecContext
	if tx == nil {
		exec = w.DB.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
