package analyses

import (
	"context"
	"sync"
	"time"

	"habitat-backend/internal/llm"
	"habitat-backend/internal/schema"
)

type llmFunc func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f llmFunc) Analyze(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

const feuchtwiesePayload = `{"habitatType":"Feuchtwiese","indicatorSpecies":["Caltha palustris"],"confidence":0.9,"rationale":"wet meadow with marsh marigold"}`

// answering returns a client that always replies with payload as model "test-model".
func answering(payload string) llmFunc {
	return func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{
			Raw:  []byte(payload),
			Info: llm.Info{Provider: "test", Model: "test-model", TotalTokens: 42},
		}, nil
	}
}

// recordingDispatcher captures dispatched ids.
type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, jobID, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return d.err
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func newTestOrchestrator(store Store, client llm.Client) *Orchestrator {
	return &Orchestrator{
		Store:   store,
		Schemas: schema.NewStaticSource(nil),
		LLM:     client,
		Policy:  llm.Policy{Timeout: 2 * time.Second, RetryBackoff: time.Millisecond},
	}
}
