// Package notifiertest provides a recording Notifier for tests.
package notifiertest

import (
	"context"
	"strings"
	"sync"

	"educheck/internal/notifier"
	"educheck/internal/school"
)

type Message struct {
	Handle string
	Text   string
}

// Recorder records every Send and answers with Result, or with Fail for the
// handles listed there.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	Result notifier.Result
	Fail   map[string]string
}

func New() *Recorder { return &Recorder{Result: notifier.Sent()} }

func (r *Recorder) Send(_ context.Context, handle, text string) notifier.Result {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return notifier.Skipped("no guardian handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Handle: handle, Text: text})
	if detail, ok := r.Fail[handle]; ok {
		return notifier.Result{Outcome: school.OutcomeError, Detail: detail}
	}
	return r.Result
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
