package classifier

import (
	"context"

	"github.com/davnik/sysslan/internal/models"
)

// LearningContext is optional per-user context folded into the prompt:
// vocabulary the household already uses and the user's prior effort estimate.
type LearningContext struct {
	KnownAliases map[string]string
	PriorEffort  models.Effort
}

// Classifier turns free text into a typed classification. Implementations
// never return an error: any failure degrades to the fallback result.
type Classifier interface {
	Classify(ctx context.Context, text string, learning *LearningContext) models.ClassificationResult
}
