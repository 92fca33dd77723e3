package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/models"
)

// stubCompletionServer fakes the chat-completions endpoint, returning the
// given message content verbatim.
func stubCompletionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func gatewayFor(t *testing.T, server *httptest.Server) *Gateway {
	t.Helper()
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return NewGatewayWithClient(openai.NewClientWithConfig(cfg), "gpt-4o-mini", 150, 0.2, zap.NewNop())
}

func TestClassifyParsesWellFormedResult(t *testing.T) {
	server := stubCompletionServer(t, http.StatusOK,
		`{"type": "chore", "activity": "washing dishes", "effort": "medium", "confidence": 0.93}`)
	defer server.Close()

	result := gatewayFor(t, server).Classify(context.Background(), "I did the dishes", nil)

	assert.Equal(t, models.ActivityChore, result.Type)
	assert.Equal(t, "washing dishes", result.Activity)
	assert.Equal(t, models.EffortMedium, result.Effort)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
}

func TestClassifyFallsBackOnFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "malformed json", status: http.StatusOK, content: `not json at all`},
		{name: "unknown type", status: http.StatusOK, content: `{"type": "hobby", "activity": "x", "effort": "low", "confidence": 0.9}`},
		{name: "unknown effort", status: http.StatusOK, content: `{"type": "chore", "activity": "x", "effort": "huge", "confidence": 0.9}`},
		{name: "confidence out of range", status: http.StatusOK, content: `{"type": "chore", "activity": "x", "effort": "low", "confidence": 1.7}`},
		{name: "missing activity", status: http.StatusOK, content: `{"type": "recovery", "activity": "", "effort": "low", "confidence": 0.8}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := stubCompletionServer(t, tt.status, tt.content)
			defer server.Close()

			result := gatewayFor(t, server).Classify(context.Background(), "whatever", nil)
			assert.Equal(t, models.FallbackResult(), result)
		})
	}
}

func TestClassifyRetriesOnceThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{
					Content: `{"type": "recovery", "activity": "resting", "effort": "low", "confidence": 0.6}`,
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	result := gatewayFor(t, server).Classify(context.Background(), "took a nap", nil)

	assert.Equal(t, 2, calls)
	assert.Equal(t, models.ActivityRecovery, result.Type)
}

func TestBuildUserPromptIncludesLearningContext(t *testing.T) {
	prompt := buildUserPrompt("diskade klart", &LearningContext{
		KnownAliases: map[string]string{"diskade": "washing dishes"},
		PriorEffort:  models.EffortMedium,
	})

	assert.Contains(t, prompt, fmt.Sprintf("%q means %q", "diskade", "washing dishes"))
	assert.Contains(t, prompt, "typical effort for similar activities: medium")
	assert.Contains(t, prompt, "Message: diskade klart")
}
