package usecase

import (
	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
)

// Trimmer keeps the outgoing conversation inside the token budget.
type Trimmer struct {
	counter adapter.TokenCounter
	ceiling int
	floor   int
}

func NewTrimmer(counter adapter.TokenCounter, ceiling, floor int) *Trimmer {
	return &Trimmer{counter: counter, ceiling: ceiling, floor: max(floor, 0)}
}

// Trim returns the longest suffix of history that fits the ceiling, never
// shorter than the floor, with system prepended when non-nil. The second
// result is the number of evicted messages.
//
// Once the floor is reached the ceiling is soft: a floor-sized tail that
// still exceeds it is returned as is.
func (t *Trimmer) Trim(history []model.Message, system *model.Message) ([]model.Message, int) {
	limit := t.ceiling
	if system != nil {
		limit -= t.count([]model.Message{*system})
	}

	candidates := history
	for len(candidates) > t.floor && t.count(candidates) > limit {
		candidates = candidates[1:]
	}

	out := make([]model.Message, 0, len(candidates)+1)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, candidates...)
	return out, len(history) - len(candidates)
}

func (t *Trimmer) count(msgs []model.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	return t.counter.CountTokens(msgs).Total
}
