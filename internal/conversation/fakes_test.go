package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
)

type stubLLM struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []LLMRequest
}

func (s *stubLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

func (s *stubLLM) lastRequest(t *testing.T) LLMRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("expected a model call")
	}
	return s.requests[len(s.requests)-1]
}

type stubRunner struct {
	mu     sync.Mutex
	calls  []string
	report leads.MergeReport
	err    error
}

func (s *stubRunner) Extract(_ context.Context, leadID string) (leads.MergeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, leadID)
	return s.report, s.err
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubJobUpdater struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]string
}

func (s *stubJobUpdater) MarkCompleted(_ context.Context, jobID string, _ leads.MergeReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *stubJobUpdater) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[string]string{}
	}
	s.failed[jobID] = errMsg
	return nil
}

func (s *stubJobUpdater) snapshot() ([]string, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make(map[string]string, len(s.failed))
	for k, v := range s.failed {
		failed[k] = v
	}
	return append([]string(nil), s.completed...), failed
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
