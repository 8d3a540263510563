package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/sessionguard/internal/model"
)

// LogSink writes events as structured log entries. Denials and lockouts are
// logged at warn level, everything else at info.
type LogSink struct {
	Logger *logrus.Logger
}

func NewLogSink(log *logrus.Logger) *LogSink { return &LogSink{Logger: log} }

func (s *LogSink) Append(_ context.Context, ev model.SecurityEvent) error {
	fields := logrus.Fields{
		"event_id": ev.ID,
		"action":   string(ev.Action),
		"ip":       ev.IPAddress,
	}
	if ev.UserID != nil {
		fields["user_id"] = *ev.UserID
	}
	if ev.UserAgent != "" {
		fields["user_agent"] = ev.UserAgent
	}
	for k, v := range ev.Details {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	entry := s.Logger.WithFields(fields).WithTime(ev.Timestamp)
	switch ev.Action {
	case model.ActionLoginFailure, model.ActionRateLimitExceeded, model.ActionAccountLocked,
		model.ActionAccessDenied, model.ActionTokenRefreshFailure:
		entry.Warn("security event")
	default:
		entry.Info("security event")
	}
	return nil
}
