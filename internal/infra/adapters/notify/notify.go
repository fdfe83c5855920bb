package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/logging"
)

var (
	_ adapter.Notifier = (*LogNotifier)(nil)
	_ adapter.Notifier = Multi(nil)
)

// LogNotifier writes notices to the log. It is the sink of last resort
// when no interactive surface is attached.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n adapter.Notice) error {
	log := logging.With(ctx, l.logger)
	var ev *zerolog.Event
	switch n.Level {
	case adapter.NoticeError:
		ev = log.Error()
	case adapter.NoticeWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("notice", n.Text).Msg("notice")
	return nil
}

// Multi delivers every notice to all sinks, in order, and joins their
// failures.
type Multi []adapter.Notifier

func (m Multi) Notify(ctx context.Context, n adapter.Notice) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
