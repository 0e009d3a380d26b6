// Package audit keeps a durable security trail of token lifecycle
// transitions and abuse alerts in PostgreSQL.
//
// The cache holds token state only as long as the tokens live. The audit
// log outlives them: every issued→active, →revoked, →rotated and →expired
// move and every security alert becomes a row that operators can query
// per user after the cache entries are gone.
//
// Writes never sit on the request path. [Log] queues entries and a single
// worker writes them in batches through a [Store]:
//
//	store := audit.NewStore(pgClient)
//	if err := store.EnsureSchema(ctx); err != nil {
//	    return err
//	}
//	log, err := audit.NewLog(store, cfg)
//	...
//	builder.OnTransition(log.OnTransition)
//	abuse.NewDetector(c, abuseCfg, abuse.WithAlertHandler(log.OnAlert))
//
// A full queue drops entries and counts them; a failed batch is logged
// and counted. Neither ever fails a token operation.
package audit

import (
	"time"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/store"
)

// Kind is what an entry records.
type Kind string

const (
	KindTransition Kind = "transition"
	KindAlert      Kind = "alert"
)

// Entry is one audit row. Transition entries fill FromState and ToState;
// alert entries fill AlertType, Severity and Details.
type Entry struct {
	ID        int64          `json:"id,omitempty"`
	At        time.Time      `json:"at"`
	Kind      Kind           `json:"kind"`
	UserID    string         `json:"userId"`
	TokenID   string         `json:"tokenId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	FromState string         `json:"fromState,omitempty"`
	ToState   string         `json:"toState,omitempty"`
	AlertType string         `json:"alertType,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// TransitionEntry converts a lifecycle transition.
func TransitionEntry(tr lifecycle.Transition) Entry {
	return Entry{
		At:        tr.At,
		Kind:      KindTransition,
		UserID:    tr.UserID,
		TokenID:   tr.TokenID,
		SessionID: tr.SessionID,
		FromState: string(tr.From),
		ToState:   string(tr.To),
	}
}

// AlertEntry converts a security alert. Token and session ids are lifted
// out of the details when the detector recorded them.
func AlertEntry(a store.Alert) Entry {
	e := Entry{
		At:        a.Timestamp,
		Kind:      KindAlert,
		UserID:    a.UserID,
		AlertType: a.AlertType,
		Severity:  string(a.Severity),
		Details:   a.Details,
	}
	if id, ok := a.Details["token_id"].(string); ok {
		e.TokenID = id
	}
	if id, ok := a.Details["session_id"].(string); ok {
		e.SessionID = id
	}
	return e
}
