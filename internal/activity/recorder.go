// Package activity records email actions for CRM activity tracking and
// delivers them to NATS through a transactional outbox.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/eventstore/sqlite"
)

// EventEmailAction is the event type of a completed email action.
const EventEmailAction = "email.action"

// Event is the payload published for a completed email action.
type Event struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	TS        int64  `json:"ts"`
	UserID    string `json:"user_id"`
	Provider  string `json:"provider"`
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	ResultID  string `json:"result_id,omitempty"`
}

type Recorder struct {
	store *sqlite.Store
	now   func() time.Time
}

func NewRecorder(store *sqlite.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// RecordEmailAction stores an email.action event and its outbox entry.
// action is an email.ActionType or "reply", "reply_all" or "forward".
func (r *Recorder) RecordEmailAction(ctx context.Context, userID string, provider email.ProviderType, action, messageID, resultID string) error {
	ev := Event{
		EventID:   uuid.NewString(),
		Type:      EventEmailAction,
		TS:        r.now().Unix(),
		UserID:    userID,
		Provider:  string(provider),
		Action:    action,
		MessageID: messageID,
		ResultID:  resultID,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return r.store.AppendActivity(ctx,
		sqlite.ActivityEvent{
			EventID:   ev.EventID,
			TS:        ev.TS,
			UserID:    ev.UserID,
			Provider:  ev.Provider,
			Action:    ev.Action,
			MessageID: ev.MessageID,
			ResultID:  ev.ResultID,
		},
		sqlite.OutboxMessage{
			Subject:   Subject(userID, EventEmailAction),
			EventType: EventEmailAction,
			Payload:   payload,
			MsgID:     EventEmailAction + "|" + ev.EventID,
		},
	)
}

// Recent returns up to limit events of userID, newest first.
func (r *Recorder) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	rows, err := r.store.ListActivity(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	events := make([]Event, len(rows))
	for i, row := range rows {
		events[i] = Event{
			EventID:   row.EventID,
			Type:      EventEmailAction,
			TS:        row.TS,
			UserID:    row.UserID,
			Provider:  row.Provider,
			Action:    row.Action,
			MessageID: row.MessageID,
			ResultID:  row.ResultID,
		}
	}
	return events, nil
}

// Subject builds crm.<user>.<eventType>. Characters that are not valid in a
// NATS subject token are replaced in the user id.
func Subject(userID, eventType string) string {
	return "crm." + subjectToken(userID) + "." + eventType
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
