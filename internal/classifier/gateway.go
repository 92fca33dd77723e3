package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/metrics"
	"github.com/davnik/sysslan/internal/models"
)

const (
	requestTimeout = 10 * time.Second
	// One internal retry on top of the initial attempt.
	maxAttempts = 2
)

const systemPrompt = `You observe short messages in a shared household conversation.
Decide whether the message describes a completed household activity.

Classify into exactly one type:
- "chore": completed housework (cleaning, cooking, laundry, errands, repairs)
- "recovery": completed rest or self-care (napping, walking, reading, exercise)
- "none": anything else (questions, plans, chatter, future intentions)

Estimate effort as "low", "medium" or "high" and give a confidence in [0,1].
Use a short lowercase noun phrase for the activity, e.g. "washing dishes".

Respond with a JSON object only:
{"type": "chore|recovery|none", "activity": "...", "effort": "low|medium|high", "confidence": 0.0}`

// Gateway wraps the external classification service. It always returns a
// well-typed result; every failure mode collapses to the fallback.
type Gateway struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGateway(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *Gateway {
	return NewGatewayWithClient(openai.NewClient(apiKey), model, maxTokens, temperature, logger)
}

// NewGatewayWithClient accepts a preconfigured client, used by tests to
// point at a stub server.
func NewGatewayWithClient(client *openai.Client, model string, maxTokens int, temperature float64, logger *zap.Logger) *Gateway {
	return &Gateway{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (g *Gateway) Classify(ctx context.Context, text string, learning *LearningContext) models.ClassificationResult {
	userPrompt := buildUserPrompt(text, learning)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := g.classifyOnce(ctx, userPrompt)
		if err == nil {
			return result
		}
		lastErr = err
	}

	metrics.ClassifierFallbacks.Inc()
	g.logger.Error("classification failed, using fallback",
		zap.Error(lastErr),
		zap.Int("attempts", maxAttempts))
	return models.FallbackResult()
}

func (g *Gateway) classifyOnce(ctx context.Context, userPrompt string) (models.ClassificationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(
		callCtx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.ClassificationResult{}, fmt.Errorf("empty completion response")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)

	var result models.ClassificationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("parsing completion %q: %w", raw, err)
	}
	if err := validateShape(result); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("completion %q: %w", raw, err)
	}

	return result, nil
}

// validateShape treats any deviation from the contract as total failure.
func validateShape(r models.ClassificationResult) error {
	switch r.Type {
	case models.ActivityChore, models.ActivityRecovery, models.ActivityNone:
	default:
		return fmt.Errorf("unknown type %q", r.Type)
	}
	switch r.Effort {
	case models.EffortLow, models.EffortMedium, models.EffortHigh:
	default:
		return fmt.Errorf("unknown effort %q", r.Effort)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", r.Confidence)
	}
	if r.Type != models.ActivityNone && r.Activity == "" {
		return fmt.Errorf("missing activity name for type %q", r.Type)
	}
	return nil
}

func buildUserPrompt(text string, learning *LearningContext) string {
	var b strings.Builder
	if learning != nil {
		if len(learning.KnownAliases) > 0 {
			b.WriteString("Vocabulary this household uses:\n")
			for a, canonical := range learning.KnownAliases {
				fmt.Fprintf(&b, "- %q means %q\n", a, canonical)
			}
		}
		if learning.PriorEffort != "" {
			fmt.Fprintf(&b, "This user's typical effort for similar activities: %s\n", learning.PriorEffort)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}
	b.WriteString("Message: ")
	b.WriteString(text)
	return b.String()
}
