// Package testutil provides test doubles for model-dependent tests.
package testutil

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the provider-qualified name the mock registers under.
const MockModelName = "mock/test-model"

// MockLLM provides scripted model responses for testing.
//
// Responses are consumed in FIFO order, one per generate call, which lets a
// test drive multi-call flows (router call, then answer call) with distinct
// responses even when both calls carry the same user message. When the
// script is exhausted the fallback text is returned.
//
// Every call is recorded with its full request so tests can assert on the
// messages, system prompt, and tools the caller sent.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	script   []*ai.Message
	fallback string
	calls    []*ai.ModelRequest
	err      error
}

// NewMockLLM creates a mock with the given fallback response text.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// EnqueueText scripts a plain text response.
func (m *MockLLM) EnqueueText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, ai.NewModelMessage(ai.NewTextPart(text)))
}

// EnqueueToolRequest scripts a response that requests a tool call.
func (m *MockLLM) EnqueueToolRequest(name string, input map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, &ai.Message{
		Role: ai.RoleModel,
		Content: []*ai.Part{
			ai.NewToolRequestPart(&ai.ToolRequest{Name: name, Input: input}),
		},
	})
}

// EnqueueMessage scripts an arbitrary model message.
func (m *MockLLM) EnqueueMessage(msg *ai.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, msg)
}

// EnqueueEmpty scripts a response with no text and no tool requests.
func (m *MockLLM) EnqueueEmpty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, &ai.Message{Role: ai.RoleModel})
}

// FailWith makes every subsequent call return err instead of a response.
func (m *MockLLM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the recorded requests in call order.
func (m *MockLLM) Calls() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*ai.ModelRequest, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register registers the mock as a Genkit model under MockModelName.
func (m *MockLLM) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

func (m *MockLLM) generate(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.err != nil {
		return nil, m.err
	}

	var msg *ai.Message
	if len(m.script) > 0 {
		msg = m.script[0]
		m.script = m.script[1:]
	} else {
		msg = ai.NewModelMessage(ai.NewTextPart(m.fallback))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: msg,
	}, nil
}
