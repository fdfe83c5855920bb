package usecase

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/metrics"
)

// latest consumes refinement sequences where only the newest one may
// publish. Starting a new sequence cancels the previous one, and values
// from a superseded sequence are dropped.
type latest[T any] struct {
	kind  string
	log   *zerolog.Logger
	apply func(T)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (f *latest[T]) start(ctx context.Context, produce func(context.Context) iter.Seq2[T, error]) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer cancel()
		for v, err := range produce(ctx) {
			if err != nil {
				if ctx.Err() == nil {
					metrics.IncSideEffectFailure(f.kind)
					f.log.Warn().Err(err).Str("feed", f.kind).Msg("refinement sequence failed")
				}
				return
			}
			if !f.publish(gen, v) {
				return
			}
		}
	}()
}

// publish applies v under the lock so a stale sequence can never overwrite
// a newer one. apply must not call back into the feed.
func (f *latest[T]) publish(gen uint64, v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return false
	}
	f.apply(v)
	return true
}

// stop supersedes the running sequence, if any, then runs then (when
// non-nil) under the same lock.
func (f *latest[T]) stop(then func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if then != nil {
		then()
	}
}

func (f *latest[T]) wait() { f.wg.Wait() }

// SuggestionFeed keeps the follow-up suggestions of the latest assistant turn.
type SuggestionFeed struct {
	source adapter.SuggestionSource
	feed   latest[[]string]

	mu       sync.Mutex
	current  []string
	onChange func([]string)
}

func NewSuggestionFeed(source adapter.SuggestionSource, logger *zerolog.Logger, onChange func([]string)) *SuggestionFeed {
	s := &SuggestionFeed{source: source, onChange: onChange}
	s.feed = latest[[]string]{kind: "suggestion", log: logger, apply: s.set}
	return s
}

// Refresh replaces the suggestions with those for history.
func (s *SuggestionFeed) Refresh(ctx context.Context, history []model.Message) {
	history = slices.Clone(history)
	s.feed.stop(s.reset)
	s.feed.start(ctx, func(ctx context.Context) iter.Seq2[[]string, error] {
		return s.source.Suggestions(ctx, history)
	})
}

// Clear cancels any fetch and empties the list.
func (s *SuggestionFeed) Clear() { s.feed.stop(s.reset) }

// Stop cancels any fetch and keeps the current list.
func (s *SuggestionFeed) Stop() { s.feed.stop(nil) }

func (s *SuggestionFeed) Current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.current)
}

func (s *SuggestionFeed) Wait() { s.feed.wait() }

func (s *SuggestionFeed) reset() { s.set(nil) }

func (s *SuggestionFeed) set(list []string) {
	s.mu.Lock()
	s.current = slices.Clone(list)
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(list)
	}
}

// TitleFeed infers a conversation title from the opening input.
type TitleFeed struct {
	source adapter.TitleSource
	feed   latest[string]
}

func NewTitleFeed(source adapter.TitleSource, logger *zerolog.Logger, apply func(string)) *TitleFeed {
	return &TitleFeed{
		source: source,
		feed:   latest[string]{kind: "title", log: logger, apply: apply},
	}
}

// Infer applies each refined title as it arrives.
func (t *TitleFeed) Infer(ctx context.Context, input string) {
	t.feed.start(ctx, func(ctx context.Context) iter.Seq2[string, error] {
		return t.source.Titles(ctx, input)
	})
}

func (t *TitleFeed) Stop() { t.feed.stop(nil) }
func (t *TitleFeed) Wait() { t.feed.wait() }
