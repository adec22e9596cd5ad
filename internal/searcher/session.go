package searcher

import "sync"

// Session carries per-request interaction state: how many times each
// tool ran and whether the caller signaled that earlier results missed.
// A Session lives for one request exchange and is never persisted.
type Session struct {
	mu         sync.Mutex
	executions map[string]int
	negative   bool
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		executions: make(map[string]int),
	}
}

// RecordExecution counts one invocation of the named tool.
func (s *Session) RecordExecution(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[tool]++
}

// ExecutionCount reports how many times the named tool has run in this
// session.
func (s *Session) ExecutionCount(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions[tool]
}

// RecordNegativeFeedback marks that the caller rejected earlier results.
// Subsequent searches in this session bypass the query cache and widen
// their candidate selection.
func (s *Session) RecordNegativeFeedback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negative = true
}

// HasNegativeFeedback reports whether negative feedback was recorded.
func (s *Session) HasNegativeFeedback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negative
}
