// Package cancel holds the one-shot per-job cancellation flags.
package cancel

import (
	"sync"
	"sync/atomic"
)

// Token is a single job's cancellation flag. It only moves false -> true.
type Token struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool {
	return t.set.Load()
}

// Done is closed once the token is set.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

func (t *Token) fire() bool {
	fired := false
	t.once.Do(func() {
		t.set.Store(true)
		close(t.done)
		fired = true
	})
	return fired
}

// Flags maps job ids to tokens.
type Flags struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewFlags creates an empty Flags.
func NewFlags() *Flags {
	return &Flags{tokens: make(map[string]*Token)}
}

// Token returns the job's token, creating it when missing.
func (f *Flags) Token(jobID string) *Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[jobID]
	if !ok {
		tok = newToken()
		f.tokens[jobID] = tok
	}
	return tok
}

// Set fires the job's token. It reports whether this call changed it.
func (f *Flags) Set(jobID string) bool {
	return f.Token(jobID).fire()
}

// IsSet reports whether a job's token has fired without creating one.
func (f *Flags) IsSet(jobID string) bool {
	f.mu.Lock()
	tok, ok := f.tokens[jobID]
	f.mu.Unlock()
	return ok && tok.Cancelled()
}

// Remove forgets the job's token once its worker has exited.
func (f *Flags) Remove(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, jobID)
}

// Len returns the number of tracked tokens.
func (f *Flags) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}
