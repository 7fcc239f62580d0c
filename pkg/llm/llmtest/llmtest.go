// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/malbeclabs/askdata/pkg/llm"
)

var ErrExhausted = errors.New("llmtest: no scripted reply left")

// Call records one Complete invocation.
type Call struct {
	System  string
	User    string
	Options llm.CallOptions
}

// Reply is a scripted response. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted returns its replies in order and records every call. Route, when set,
// picks the reply instead, based on the call.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
	Route   func(Call) Reply
}

func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts scripts successful replies.
func Texts(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return New(replies...)
}

func (s *Scripted) Complete(ctx context.Context, system, user string, opts ...llm.Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call := Call{System: system, User: user, Options: llm.ApplyOptions(opts)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.Route != nil {
		r := s.Route(call)
		return r.Text, r.Err
	}
	if len(s.replies) == 0 {
		return "", ErrExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.Text, r.Err
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// CallsFor returns the calls made with the given operation label.
func (s *Scripted) CallsFor(operation string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if strings.EqualFold(c.Options.Operation, operation) {
			out = append(out, c)
		}
	}
	return out
}
