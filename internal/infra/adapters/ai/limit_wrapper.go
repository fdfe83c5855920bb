package ai

import (
	"context"

	"endless-chat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ModerationChecker = (*limitedModerator)(nil)

type limitedModerator struct {
	inner adapter.ModerationChecker
	sem   chan struct{}
}

// NewLimitedModerator caps concurrent moderation calls. A waiting caller
// gives up when its context ends.
func NewLimitedModerator(inner adapter.ModerationChecker, maxConcurrent int) adapter.ModerationChecker {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedModerator{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedModerator) Check(ctx context.Context, text string) (adapter.Moderation, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.Moderation{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Check(ctx, text)
}
