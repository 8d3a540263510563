// Package audit records security events. Recording is best effort: a sink
// that fails is logged and counted, and the caller never sees the error.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/model"
)

// Sink persists or forwards one event.
type Sink interface {
	Append(ctx context.Context, ev model.SecurityEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.SecurityEvent) error

func (f SinkFunc) Append(ctx context.Context, ev model.SecurityEvent) error { return f(ctx, ev) }

type namedSink struct {
	name string
	sink Sink
}

// Recorder fans each event out to its sinks in registration order.
type Recorder struct {
	log   *logrus.Logger
	sinks []namedSink
	now   func() time.Time
	newID func() string
}

// New returns a Recorder with no sinks. A nil logger uses the logrus
// standard logger.
func New(log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Use registers a sink under name, which labels its failures. It is not
// safe to call once the Recorder is shared.
func (r *Recorder) Use(name string, s Sink) *Recorder {
	if s != nil {
		r.sinks = append(r.sinks, namedSink{name: name, sink: s})
	}
	return r
}

// WithClock overrides the timestamp source.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record stamps ev with an ID and timestamp when they are unset and hands it
// to every sink.
func (r *Recorder) Record(ctx context.Context, ev model.SecurityEvent) {
	if r == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = r.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	for _, s := range r.sinks {
		if err := s.sink.Append(ctx, ev); err != nil {
			metrics.SinkErrors.WithLabelValues(s.name).Inc()
			r.log.WithError(err).WithFields(logrus.Fields{
				"sink":     s.name,
				"event_id": ev.ID,
				"action":   ev.Action,
			}).Warn("security event not recorded")
		}
	}
}
