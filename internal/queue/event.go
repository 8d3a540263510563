// Package queue carries security events over RabbitMQ: a publisher used as an
// audit sink and a consumer that appends them to a log file.
package queue

import (
	"time"

	"github.com/iliyamo/sessionguard/internal/model"
)

// DefaultQueue is the durable queue security events are routed to.
const DefaultQueue = "security.events"

// SecurityEventMessage is the JSON body of one published security event.
// It carries enough for downstream consumers to log or alert without
// querying the primary database.
type SecurityEventMessage struct {
	ID         string         `json:"id"`
	OccurredAt string         `json:"occurred_at"`
	UserID     *uint64        `json:"user_id,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
}

// MessageFromEvent converts ev to its wire form.
func MessageFromEvent(ev model.SecurityEvent) SecurityEventMessage {
	return SecurityEventMessage{
		ID:         ev.ID,
		OccurredAt: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:     ev.UserID,
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		Action:     string(ev.Action),
		Details:    ev.Details,
	}
}
