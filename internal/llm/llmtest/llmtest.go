// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalambet/vignette/internal/llm"
)

// Reply is one scripted answer. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted answers calls in order. Once the script is exhausted, Fallback
// is used when set, otherwise the call fails.
type Scripted struct {
	mu       sync.Mutex
	Replies  []Reply
	Fallback func(req llm.Request) (string, error)
	Calls    []llm.Request
}

func New(replies ...Reply) *Scripted {
	return &Scripted{Replies: replies}
}

// Texts scripts successful replies.
func Texts(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.Replies = append(s.Replies, Reply{Text: t})
	}
	return s
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Calls = append(s.Calls, req)
	n := len(s.Calls) - 1
	if n < len(s.Replies) {
		r := s.Replies[n]
		return r.Text, r.Err
	}
	if s.Fallback != nil {
		return s.Fallback(req)
	}
	return "", fmt.Errorf("llmtest: unexpected call %d", n+1)
}

// Count returns the number of calls made so far.
func (s *Scripted) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
