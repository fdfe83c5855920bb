// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"endless-chat/internal/config"
	"endless-chat/internal/domain"
	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/domain/ports/repository"
	"endless-chat/internal/infra/clock"
	"endless-chat/internal/infra/i18n"
	"endless-chat/internal/infra/logging"
	"endless-chat/internal/infra/worker"
)

const DefaultTitle = "Endless Chat"

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

// ChatUseCase is one chat session: the conversation, the in-flight
// request and the side effects reacting to them.
type ChatUseCase interface {
	// SetSystemRole edits the system message. Only allowed on an empty conversation.
	SetSystemRole(ctx context.Context, role string) error
	SetInput(ctx context.Context, text string)
	// Submit sends the pending input as a user message.
	Submit(ctx context.Context) error
	// Retry re-requests the last reply, dropping a trailing assistant turn first.
	Retry(ctx context.Context) error
	// Stop cancels the in-flight request. It reports whether one was running.
	Stop(ctx context.Context) bool
	Clear(ctx context.Context)
	SetSuggestionsEnabled(ctx context.Context, on bool)
	// SetBackground marks the viewer as away; the reveal then fast-forwards.
	SetBackground(bg bool)
	Snapshot() Snapshot
	Subscribe(fn func(Snapshot)) (unsubscribe func())
	// Restore loads the persisted session. Call once before use.
	Restore(ctx context.Context) error
	Close()
}

// Snapshot is the observable session state.
type Snapshot struct {
	SessionID          string              `json:"session_id"`
	Messages           []model.Message     `json:"messages"`
	SystemRole         string              `json:"system_role"`
	Input              string              `json:"input"`
	Assistant          string              `json:"assistant"`
	State              State               `json:"state"`
	Streaming          bool                `json:"streaming"`
	RequestID          string              `json:"request_id,omitempty"`
	Error              *model.ErrorMessage `json:"error,omitempty"`
	Suggestions        []string            `json:"suggestions"`
	SuggestionsEnabled bool                `json:"suggestions_enabled"`
	Title              string              `json:"title"`
	Background         bool                `json:"background"`
}

// ChatDeps are the collaborators of a session. Translator may be nil.
// Pool runs persistence writes in order and is started by the caller; it
// should have a single worker.
type ChatDeps struct {
	Counter     adapter.TokenCounter
	Transport   adapter.Transport
	Moderation  adapter.ModerationChecker
	Translator  adapter.Translator
	Suggestions adapter.SuggestionSource
	Titles      adapter.TitleSource
	Notifier    adapter.Notifier
	Store       repository.KeyValueStore
	Pool        *worker.Pool
	Texts       *i18n.Translator
	Clock       clock.Clock
}

type ChatOptions struct {
	MaxTokens          int
	MinMessages        int
	Pacer              config.PacerConfig
	ModerationInterval time.Duration
	InformLimit        int
	SuggestionsOn      bool
	Request            RequestOptions
}

func ChatOptionsFromConfig(cfg *config.Config) ChatOptions {
	return ChatOptions{
		MaxTokens:          cfg.Budget.MaxTokens,
		MinMessages:        cfg.Budget.Floor(),
		Pacer:              cfg.Pacer,
		ModerationInterval: cfg.Moderation.Interval(),
		InformLimit:        cfg.Moderation.InformLimit,
		SuggestionsOn:      !cfg.Suggestion.Disabled,
		Request: RequestOptions{
			Model:       cfg.Upstream.Model,
			Temperature: cfg.Upstream.Temperature,
		},
	}
}

type chatUC struct {
	id   string
	deps ChatDeps
	opts ChatOptions
	log  *zerolog.Logger

	trimmer     *Trimmer
	moderator   *Moderator
	throttle    *Throttler
	suggestions *SuggestionFeed
	titles      *TitleFeed
	persist     *persister

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu orders snapshot delivery; taken before mu, never inside it
	pubMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	conv          *model.Conversation
	systemRole    string
	input         string
	assistant     string
	state         State
	active        *Lifecycle
	lastErr       *model.ErrorMessage
	title         string
	suggestionsOn bool
	background    bool
	observers     map[int]func(Snapshot)
	nextObserver  int
}

func NewChatUseCase(
	deps ChatDeps,
	opts ChatOptions,
	logger *zerolog.Logger,
) *chatUC {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logging.WithSessID(context.Background(), id))
	uc := &chatUC{
		id:            id,
		deps:          deps,
		opts:          opts,
		log:           logging.With(ctx, logger),
		ctx:           ctx,
		cancel:        cancel,
		conv:          model.NewConversation(id),
		state:         StateIdle,
		title:         DefaultTitle,
		suggestionsOn: opts.SuggestionsOn,
		observers:     make(map[int]func(Snapshot)),
	}
	uc.persist = newPersister(deps.Store, deps.Pool, uc.log)
	uc.trimmer = NewTrimmer(deps.Counter, opts.MaxTokens, opts.MinMessages)
	uc.moderator = NewModerator(deps.Moderation, deps.Translator, deps.Notifier, deps.Texts, deps.Clock, opts.InformLimit, uc.log)
	uc.throttle = NewThrottler(deps.Clock, opts.ModerationInterval, func(text string) {
		uc.goBackground(func(ctx context.Context) { uc.moderator.Moderate(ctx, text) })
	})
	uc.suggestions = NewSuggestionFeed(deps.Suggestions, uc.log, func([]string) { uc.publish() })
	uc.titles = NewTitleFeed(deps.Titles, uc.log, uc.applyTitle)
	return uc
}

func (uc *chatUC) SetSystemRole(ctx context.Context, role string) error {
	uc.mu.Lock()
	if uc.conv.Len() > 0 {
		uc.mu.Unlock()
		return domain.ErrSystemRoleLocked
	}
	uc.systemRole = role
	uc.persistSystemRoleLocked(role)
	uc.mu.Unlock()

	uc.throttle.Call(role)
	uc.publish()
	return nil
}

func (uc *chatUC) SetInput(ctx context.Context, text string) {
	uc.mu.Lock()
	uc.input = text
	uc.mu.Unlock()

	uc.throttle.Call(text)
	uc.publish()
}

func (uc *chatUC) Submit(ctx context.Context) error {
	uc.mu.Lock()
	if uc.active != nil {
		uc.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	input := uc.input
	if input == "" {
		uc.mu.Unlock()
		return domain.ErrEmptyInput
	}
	firstTurn := uc.conv.Len() == 0
	uc.conv.Append(model.UserMessage(input))
	uc.input = ""
	uc.startLocked(ctx)
	uc.persistMessagesLocked()
	uc.mu.Unlock()

	uc.suggestions.Clear()
	if firstTurn {
		uc.titles.Infer(uc.ctx, input)
	}
	if uc.throttle.Enabled() {
		uc.goBackground(func(ctx context.Context) { uc.moderator.Moderate(ctx, input) })
	}
	uc.log.Debug().Str("input", logging.Redact(input, false)).Msg("submitted")
	uc.publish()
	return nil
}

func (uc *chatUC) Retry(ctx context.Context) error {
	uc.mu.Lock()
	if uc.active != nil {
		uc.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	if uc.conv.Len() == 0 {
		uc.mu.Unlock()
		return domain.ErrNothingToRetry
	}
	uc.conv.DropTrailingAssistant()
	uc.startLocked(ctx)
	uc.persistMessagesLocked()
	uc.mu.Unlock()

	uc.publish()
	return nil
}

func (uc *chatUC) Stop(ctx context.Context) bool {
	uc.mu.Lock()
	active := uc.active
	uc.mu.Unlock()
	if active == nil {
		return false
	}
	active.Cancel()
	return true
}

func (uc *chatUC) Clear(ctx context.Context) {
	uc.titles.Stop()
	uc.suggestions.Clear()
	uc.throttle.Stop()
	uc.moderator.Reset()
	if r, ok := uc.deps.Counter.(adapter.Resetter); ok {
		r.Reset()
	}

	uc.mu.Lock()
	active := uc.active
	uc.active = nil
	uc.conv.Clear()
	uc.input = ""
	uc.assistant = ""
	uc.lastErr = nil
	uc.state = StateIdle
	uc.title = DefaultTitle
	uc.persistMessagesLocked()
	uc.persistTitleLocked(DefaultTitle)
	uc.mu.Unlock()

	if active != nil {
		active.Cancel()
	}
	uc.publish()
}

func (uc *chatUC) SetSuggestionsEnabled(ctx context.Context, on bool) {
	uc.mu.Lock()
	uc.suggestionsOn = on
	uc.persistLocked(repository.KeySuggestion, func(ctx context.Context, store repository.KeyValueStore) error {
		b, _ := json.Marshal(on)
		return store.Set(ctx, repository.KeySuggestion, b)
	})
	uc.mu.Unlock()
	uc.publish()
}

func (uc *chatUC) SetBackground(bg bool) {
	uc.mu.Lock()
	uc.background = bg
	active := uc.active
	uc.mu.Unlock()
	if active != nil {
		active.SetInterested(!bg)
	}
	uc.publish()
}

func (uc *chatUC) Snapshot() Snapshot {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.snapshotLocked()
}

func (uc *chatUC) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:          uc.id,
		Messages:           uc.conv.Messages(),
		SystemRole:         uc.systemRole,
		Input:              uc.input,
		Assistant:          uc.assistant,
		State:              uc.state,
		Streaming:          uc.state.Active(),
		Suggestions:        uc.suggestions.Current(),
		SuggestionsEnabled: uc.suggestionsOn,
		Title:              uc.title,
		Background:         uc.background,
	}
	if uc.active != nil {
		s.RequestID = uc.active.ID()
	}
	if uc.lastErr != nil {
		e := *uc.lastErr
		s.Error = &e
	}
	return s
}

// Subscribe registers fn for every state change. Calls are serialized and
// arrive in state order; fn must not call back into the session.
func (uc *chatUC) Subscribe(fn func(Snapshot)) func() {
	uc.mu.Lock()
	id := uc.nextObserver
	uc.nextObserver++
	uc.observers[id] = fn
	uc.mu.Unlock()
	return func() {
		uc.mu.Lock()
		delete(uc.observers, id)
		uc.mu.Unlock()
	}
}

func (uc *chatUC) publish() {
	uc.pubMu.Lock()
	defer uc.pubMu.Unlock()

	uc.mu.Lock()
	snap := uc.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(uc.observers))
	for _, fn := range uc.observers {
		observers = append(observers, fn)
	}
	uc.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (uc *chatUC) Restore(ctx context.Context) error {
	store := uc.deps.Store

	var msgs []model.Message
	if raw, err := store.Get(ctx, repository.KeyMessageList); err == nil {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return fmt.Errorf("decode %s: %w", repository.KeyMessageList, err)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load %s: %w", repository.KeyMessageList, err)
	}

	title, err := uc.loadString(ctx, repository.KeyTitle)
	if err != nil {
		return err
	}
	role, err := uc.loadString(ctx, repository.KeySystemRole)
	if err != nil {
		return err
	}
	suggestionsOn := uc.opts.SuggestionsOn
	if raw, err := store.Get(ctx, repository.KeySuggestion); err == nil {
		if err := json.Unmarshal(raw, &suggestionsOn); err != nil {
			return fmt.Errorf("decode %s: %w", repository.KeySuggestion, err)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load %s: %w", repository.KeySuggestion, err)
	}

	uc.mu.Lock()
	uc.conv.Replace(msgs)
	uc.systemRole = role
	uc.suggestionsOn = suggestionsOn
	if len(msgs) > 0 && title != "" {
		uc.title = title
	}
	inferTitle := len(msgs) > 0 && title == ""
	history := uc.conv.Messages()
	uc.mu.Unlock()

	if inferTitle {
		uc.titles.Infer(uc.ctx, msgs[0].Content)
	}
	uc.maybeRefreshSuggestions(history, suggestionsOn)
	uc.log.Info().Int("messages", len(msgs)).Msg("session restored")
	uc.publish()
	return nil
}

func (uc *chatUC) loadString(ctx context.Context, key string) (string, error) {
	raw, err := uc.deps.Store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return string(raw), nil
}

// Close cancels the in-flight request and background work and waits for
// them. Pending writes are handed to the pool, which finishes them on Stop.
func (uc *chatUC) Close() {
	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	uc.closed = true
	active := uc.active
	uc.mu.Unlock()

	if active != nil {
		active.Cancel()
	}
	uc.cancel()
	uc.throttle.Stop()
	uc.moderator.Reset()
	uc.titles.Stop()
	uc.suggestions.Stop()

	uc.wg.Wait()
	uc.titles.Wait()
	uc.suggestions.Wait()
	uc.persist.flush()
}

// startLocked launches a lifecycle against the current history.
func (uc *chatUC) startLocked(ctx context.Context) {
	history := uc.conv.Messages()
	var system *model.Message
	if uc.systemRole != "" {
		m := model.SystemMessage(uc.systemRole)
		system = &m
	}

	// keep request values (trace ids), tie cancellation to the session
	reqCtx, release := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(uc.ctx, release)

	var l *Lifecycle
	l = NewLifecycle(reqCtx, uc.deps.Transport, uc.trimmer, uc.deps.Clock, uc.opts.Pacer, uc.opts.Request, uc.log, LifecycleHooks{
		OnState:    func(s State) { uc.onState(l, s) },
		OnProgress: func(shown string) { uc.onProgress(l, shown) },
		OnFinish:   func(o Outcome) { uc.onFinish(l, o) },
	})
	l.SetInterested(!uc.background)

	uc.active = l
	uc.assistant = ""
	uc.lastErr = nil
	uc.state = StateSending

	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		defer release()
		defer stop()
		l.Run(history, system)
	}()
}

func (uc *chatUC) onState(l *Lifecycle, s State) {
	uc.mu.Lock()
	if uc.active != l || s.Terminal() {
		uc.mu.Unlock()
		return
	}
	uc.state = s
	uc.mu.Unlock()
	uc.publish()
}

func (uc *chatUC) onProgress(l *Lifecycle, shown string) {
	uc.mu.Lock()
	if uc.active != l {
		uc.mu.Unlock()
		return
	}
	uc.assistant = shown
	uc.mu.Unlock()

	uc.throttle.Call(shown)
	uc.publish()
}

func (uc *chatUC) onFinish(l *Lifecycle, o Outcome) {
	uc.mu.Lock()
	if uc.active != l {
		// superseded by Clear
		uc.mu.Unlock()
		return
	}
	uc.active = nil
	uc.assistant = ""
	uc.state = o.State

	archived := false
	switch o.State {
	case StateFinalized:
		if o.Message != nil {
			uc.conv.Append(*o.Message)
			uc.persistMessagesLocked()
			archived = true
		}
	case StateFailed:
		uc.lastErr = toErrorMessage(o.Err)
	}
	history := uc.conv.Messages()
	suggestionsOn := uc.suggestionsOn
	uc.mu.Unlock()

	if archived {
		uc.maybeRefreshSuggestions(history, suggestionsOn)
	}
	uc.publish()
}

// maybeRefreshSuggestions fetches suggestions after an assistant turn.
func (uc *chatUC) maybeRefreshSuggestions(history []model.Message, on bool) {
	if !on || len(history) == 0 || history[len(history)-1].Role != model.RoleAssistant {
		return
	}
	uc.suggestions.Refresh(uc.ctx, history)
}

func (uc *chatUC) applyTitle(title string) {
	if title == "" {
		return
	}
	uc.mu.Lock()
	uc.title = title
	uc.persistTitleLocked(title)
	uc.mu.Unlock()
	uc.publish()
}

func toErrorMessage(err error) *model.ErrorMessage {
	var te *domain.TransportError
	if errors.As(err, &te) {
		msg := te.Body
		if msg == "" && te.Err != nil {
			msg = te.Err.Error()
		}
		return &model.ErrorMessage{Code: te.Code(), Message: msg}
	}
	return &model.ErrorMessage{Code: string(domain.TransportFailure), Message: err.Error()}
}

// goBackground runs fn on the session context unless the session is closed.
func (uc *chatUC) goBackground(fn func(ctx context.Context)) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return
	}
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		fn(uc.ctx)
	}()
}

// persistLocked queues the latest value of key. It does not wait for
// the store.
func (uc *chatUC) persistLocked(key string, write writeFunc) {
	uc.persist.enqueue(key, write)
}

func (uc *chatUC) persistMessagesLocked() {
	b, err := json.Marshal(uc.conv.Messages())
	if err != nil {
		uc.log.Error().Err(err).Msg("encode message list")
		return
	}
	uc.persistLocked(repository.KeyMessageList, func(ctx context.Context, store repository.KeyValueStore) error {
		return store.Set(ctx, repository.KeyMessageList, b)
	})
}

func (uc *chatUC) persistTitleLocked(title string) {
	uc.persistLocked(repository.KeyTitle, func(ctx context.Context, store repository.KeyValueStore) error {
		if title == DefaultTitle {
			return store.Delete(ctx, repository.KeyTitle)
		}
		return store.Set(ctx, repository.KeyTitle, []byte(title))
	})
}

func (uc *chatUC) persistSystemRoleLocked(role string) {
	uc.persistLocked(repository.KeySystemRole, func(ctx context.Context, store repository.KeyValueStore) error {
		if role == "" {
			return store.Delete(ctx, repository.KeySystemRole)
		}
		return store.Set(ctx, repository.KeySystemRole, []byte(role))
	})
}
