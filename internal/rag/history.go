package rag

import (
	"strings"
	"sync"
)

// Exchange is one answered question.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// history keeps the most recent exchanges up to a fixed window.
type history struct {
	mu     sync.Mutex
	window int
	items  []Exchange
}

func newHistory(window int) *history {
	return &history{window: window}
}

func (h *history) add(e Exchange) {
	if h.window <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, e)
	if over := len(h.items) - h.window; over > 0 {
		h.items = append([]Exchange(nil), h.items[over:]...)
	}
}

func (h *history) snapshot() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Exchange(nil), h.items...)
}

// recent returns the last n exchanges of items.
func recent(items []Exchange, n int) []Exchange {
	if n <= 0 {
		return nil
	}
	if over := len(items) - n; over > 0 {
		items = items[over:]
	}
	return append([]Exchange(nil), items...)
}

// buildQuestion renders recent exchanges, the answering instruction, an
// optional language directive and the question itself.
func buildQuestion(past []Exchange, question, lang string) string {
	var b strings.Builder
	if len(past) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, e := range past {
			b.WriteString("Farmer: ")
			b.WriteString(e.Question)
			b.WriteString("\nBhoomi: ")
			b.WriteString(e.Answer)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(FarmerInstruction)
	b.WriteString("\n")
	if lang = strings.TrimSpace(lang); lang != "" {
		b.WriteString("Respond in ")
		b.WriteString(lang)
		b.WriteString(".\n")
	}
	b.WriteString(question)
	return b.String()
}
