package usecase

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/clock"
	"endless-chat/internal/infra/i18n"
	"endless-chat/internal/infra/metrics"
)

// Delays of the supplementary notices after a flagged text.
var supplementaryDelays = [...]time.Duration{500 * time.Millisecond, 700 * time.Millisecond}

// Moderator checks text against the moderation service, caching verdicts
// by exact text for the lifetime of a conversation.
type Moderator struct {
	checker     adapter.ModerationChecker
	translator  adapter.Translator
	notifier    adapter.Notifier
	texts       *i18n.Translator
	clock       clock.Clock
	log         *zerolog.Logger
	informLimit int

	group singleflight.Group

	mu       sync.Mutex
	cache    map[string][]string
	epoch    uint64 // bumped by Reset; verdicts from an older epoch are not cached
	informed int
	timers   []*clock.Timer
}

func NewModerator(checker adapter.ModerationChecker, translator adapter.Translator, notifier adapter.Notifier, texts *i18n.Translator, clk clock.Clock, informLimit int, logger *zerolog.Logger) *Moderator {
	return &Moderator{
		checker:     checker,
		translator:  translator,
		notifier:    notifier,
		texts:       texts,
		clock:       clk,
		log:         logger,
		informLimit: informLimit,
		cache:       make(map[string][]string),
	}
}

// Check returns the flags for text, asking the remote checker at most
// once per distinct text. Failures are not cached.
func (m *Moderator) Check(ctx context.Context, text string) ([]string, error) {
	m.mu.Lock()
	flags, ok := m.cache[text]
	epoch := m.epoch
	m.mu.Unlock()
	metrics.IncCacheRequest("moderation", ok)
	if ok {
		return flags, nil
	}

	key := strconv.FormatUint(epoch, 10) + ":" + text
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		if flags, ok := m.cache[text]; ok {
			m.mu.Unlock()
			return flags, nil
		}
		m.mu.Unlock()

		res, err := m.checker.Check(ctx, text)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.epoch == epoch {
			m.cache[text] = res.Flags
		}
		m.mu.Unlock()
		return res.Flags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Moderate checks text and surfaces warnings for flagged content. It never
// fails; errors are logged.
func (m *Moderator) Moderate(ctx context.Context, text string) {
	if text == "" {
		return
	}
	flags, err := m.Check(ctx, text)
	if err != nil {
		metrics.IncSideEffectFailure("moderation")
		m.log.Warn().Err(err).Msg("moderation check failed")
		return
	}
	if len(flags) == 0 {
		return
	}

	joined := strings.Join(flags, ", ")
	m.notify(ctx, m.texts.T("moderation.detected", joined))

	m.mu.Lock()
	first := m.informed < m.informLimit
	m.informed++
	if first {
		for i, key := range []string{"moderation.notice_impact", "moderation.notice_feedback"} {
			text := m.texts.T(key)
			m.timers = append(m.timers, m.clock.AfterFunc(supplementaryDelays[i], func() {
				m.notify(context.WithoutCancel(ctx), text)
			}))
		}
	}
	m.mu.Unlock()

	policy := m.texts.T("moderation.policy", joined)
	if m.translator != nil {
		translated, err := m.translator.Translate(ctx, policy)
		switch {
		case err != nil:
			metrics.IncSideEffectFailure("translation")
			m.log.Warn().Err(err).Msg("policy notice translation failed")
		case translated != "":
			policy = translated
		}
	}
	m.notify(ctx, policy)
}

func (m *Moderator) notify(ctx context.Context, text string) {
	if err := m.notifier.Notify(ctx, adapter.Notice{Level: adapter.NoticeWarning, Text: text}); err != nil {
		metrics.IncSideEffectFailure("notify")
		m.log.Warn().Err(err).Msg("notify failed")
	}
}

// Reset drops the cache and any supplementary notice not yet shown. The
// inform counter is kept; it is per session, not per conversation.
func (m *Moderator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.cache)
	m.epoch++
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

// Flagged reports the cached verdict for text without a remote call.
func (m *Moderator) Flagged(text string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags, ok := m.cache[text]
	return flags, ok
}
