package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spigell/resume-crew/internal/llm"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeChatCreator struct {
	mu    sync.Mutex
	calls []chatCallRecord
	queue []fakeChatResponse
}

type chatCallRecord struct {
	model  string
	config *genai.GenerateContentConfig
	chat   *fakeChat
}

type fakeChatResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeChat struct {
	response fakeChatResponse
	messages []string
}

func (f *fakeChat) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, part := range parts {
		f.messages = append(f.messages, part.Text)
	}
	return f.response.resp, f.response.err
}

func (f *fakeChatCreator) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeChatResponse{resp: resp, err: err})
}

func (f *fakeChatCreator) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	chat := &fakeChat{response: res}
	f.calls = append(f.calls, chatCallRecord{model: model, config: config, chat: chat})
	return chat, nil
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func newTestGenerator(chats chatCreator, retries int) *Generator {
	return &Generator{chats: chats, model: "gemini-2.5-flash", maxRetries: retries, logger: zap.NewNop()}
}

func stubWait(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	originalWait := waitFor
	waitFor = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { waitFor = originalWait })
	return &delays
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	delays := stubWait(t)

	chats := &fakeChatCreator{}
	chats.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	chats.enqueue(textResponse(&genai.Part{Text: "retry ok"}), nil)

	g := newTestGenerator(chats, 2)

	output, err := g.GenerateContent(context.Background(), "You are a resume analyzer", "Analyze this")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if output != "retry ok" {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(chats.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(chats.calls))
	}

	if len(*delays) != 1 || (*delays)[0] != baseRetryDelay {
		t.Fatalf("unexpected retry delays: %v", *delays)
	}

	for _, call := range chats.calls {
		if call.config == nil || call.config.SystemInstruction == nil {
			t.Fatalf("expected system instruction to be set")
		}
		if got := call.config.SystemInstruction.Parts[0].Text; got != "You are a resume analyzer" {
			t.Fatalf("unexpected system instruction: %q", got)
		}
		if len(call.chat.messages) != 1 || call.chat.messages[0] != "Analyze this" {
			t.Fatalf("unexpected chat message: %+v", call.chat.messages)
		}
	}
}

func TestGenerateStopsAfterRetriesExhausted(t *testing.T) {
	stubWait(t)

	chats := &fakeChatCreator{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	chats.enqueue(nil, tempErr)
	chats.enqueue(nil, tempErr)

	_, err := newTestGenerator(chats, 2).GenerateContent(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped api error, got %v", err)
	}

	if len(chats.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(chats.calls))
	}
}

func TestGenerateQuotaHandling(t *testing.T) {
	tests := []struct {
		name      string
		err       genai.APIError
		wantCalls int
		wantDelay time.Duration
	}{
		{
			name: "long delay in message is not retried",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "quota exhausted, retry after 60 seconds",
			},
			wantCalls: 1,
		},
		{
			name: "short delay in details is honoured",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Details: []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}},
			},
			wantCalls: 2,
			wantDelay: 7 * time.Second,
		},
		{
			name:      "client errors are not retried",
			err:       genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays := stubWait(t)

			chats := &fakeChatCreator{}
			chats.enqueue(nil, tt.err)
			chats.enqueue(nil, tt.err)

			_, err := newTestGenerator(chats, 2).GenerateContent(context.Background(), "sys", "msg")
			if err == nil {
				t.Fatal("expected error")
			}

			if len(chats.calls) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, len(chats.calls))
			}

			if tt.wantDelay > 0 && (len(*delays) != 1 || (*delays)[0] != tt.wantDelay) {
				t.Fatalf("expected delay %s, got %v", tt.wantDelay, *delays)
			}
		})
	}
}

func TestGenerateAppliesRequestOptions(t *testing.T) {
	chats := &fakeChatCreator{}
	chats.enqueue(textResponse(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: `{"ok": true}`},
	), nil)

	output, err := newTestGenerator(chats, 1).Generate(context.Background(), llm.Request{
		Prompt:      "Return JSON",
		Temperature: llm.Temperature(0),
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if output != `{"ok": true}` {
		t.Fatalf("expected thoughts to be skipped, got %q", output)
	}

	cfg := chats.calls[0].config
	if cfg.SystemInstruction != nil {
		t.Fatalf("expected no system instruction for empty system prompt")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatalf("expected zero temperature, got %v", cfg.Temperature)
	}
	if cfg.ResponseMIMEType != "application/json" {
		t.Fatalf("unexpected response mime type: %q", cfg.ResponseMIMEType)
	}
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	g := newTestGenerator(&fakeChatCreator{}, 1)
	if _, err := g.GenerateContent(context.Background(), "sys", "   "); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	var nilGen *Generator
	if _, err := nilGen.GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatal("expected error for nil generator")
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	chats := &fakeChatCreator{}
	chats.enqueue(textResponse(&genai.Part{Text: "  "}), nil)

	if _, err := newTestGenerator(chats, 1).GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestGenerateAbortsBackoffOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	chats := &fakeChatCreator{}
	chats.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	chats.enqueue(textResponse(&genai.Part{Text: "too late"}), nil)

	done := make(chan error, 1)
	go func() {
		_, err := newTestGenerator(chats, 3).GenerateContent(ctx, "sys", "msg")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("generate kept waiting after the context was canceled")
	}

	chats.mu.Lock()
	defer chats.mu.Unlock()
	if len(chats.calls) != 1 {
		t.Fatalf("expected no request after cancellation, got %d calls", len(chats.calls))
	}
}
