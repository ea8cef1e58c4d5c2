package transcript

import (
	"context"
	"time"

	"go.uber.org/zap"

	"papernav/internal/domain"
	"papernav/internal/session"
)

const writeTimeout = 5 * time.Second

// Recorder is a session observer that writes committed messages to a
// TranscriptStore. The provisional processing notice is skipped; the
// message that replaces it is recorded. Store failures are logged and never
// reach the session.
type Recorder struct {
	store   domain.TranscriptStore
	channel string
	logger  *zap.Logger
}

func NewRecorder(store domain.TranscriptStore, channel string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, channel: channel, logger: logger.Named("transcript")}
}

// Attach records the start of s and observes it.
func (r *Recorder) Attach(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	snap := s.Snapshot()
	if err := r.store.StartSession(ctx, domain.SessionRecord{
		ID:        snap.ID,
		Channel:   r.channel,
		Document:  snap.Document,
		StartedAt: snap.StartedAt,
	}); err != nil {
		r.logger.Warn("failed to record session", zap.String("session", snap.ID), zap.Error(err))
	}
	s.Observe(r)
}

func (r *Recorder) OnChange(s *session.Session, c session.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch c.Kind {
	case session.Appended:
		if c.Provisional {
			return
		}
		err = r.store.AddMessage(ctx, s.ID(), c.Message)
	case session.Replaced:
		err = r.store.AddMessage(ctx, s.ID(), c.Message)
	case session.StateChanged:
		if c.State != session.Ready {
			return
		}
		if doc := s.Snapshot().Document; doc != "" {
			err = r.store.SetDocument(ctx, s.ID(), doc)
		}
	default:
		return
	}
	if err != nil {
		r.logger.Warn("failed to record change",
			zap.String("session", s.ID()),
			zap.Stringer("kind", c.Kind),
			zap.Error(err),
		)
	}
}
