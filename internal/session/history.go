package session

import "time"

// Exchange is one recorded user/assistant turn.
type Exchange struct {
	UserText      string    `json:"user"`
	AssistantText string    `json:"assistant"`
	Timestamp     time.Time `json:"timestamp"`
	Category      string    `json:"taskType,omitempty"`
}

// History is append-only; only the tail is ever read back into prompts.
type History struct {
	entries []Exchange
}

func (h *History) Append(e Exchange) {
	h.entries = append(h.entries, e)
}

func (h *History) Len() int { return len(h.entries) }

// Recent returns a copy of the last n exchanges in arrival order.
func (h *History) Recent(n int) []Exchange {
	if n <= 0 || len(h.entries) == 0 {
		return nil
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Exchange(nil), h.entries[start:]...)
}

// All returns a copy of every exchange.
func (h *History) All() []Exchange {
	return append([]Exchange{}, h.entries...)
}
