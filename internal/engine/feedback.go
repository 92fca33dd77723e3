package engine

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/alias"
	"github.com/davnik/sysslan/internal/classifier"
	"github.com/davnik/sysslan/internal/models"
)

// DefaultCorrectionThreshold is the confidence a re-classified correction
// must clear before it becomes a learned alias. Tuned independently of the
// response thresholds.
const DefaultCorrectionThreshold = 0.70

// FeedbackOutcome says how a clarification reply was interpreted.
type FeedbackOutcome string

const (
	FeedbackConfirmed FeedbackOutcome = "confirmed"
	FeedbackCorrected FeedbackOutcome = "corrected"
	FeedbackAmbiguous FeedbackOutcome = "ambiguous"
)

var (
	clarificationPattern = regexp.MustCompile(`Did you mean "(.+)"\?`)

	affirmatives = []string{
		"yes", "yep", "yeah", "yup", "exactly", "correct", "right",
		"ja", "japp", "jo", "precis", "stämmer",
	}
	negations = []string{
		"no", "nope", "nah", "nej", "nää",
	}
)

// FeedbackHandler turns a user's reply to a bot clarification into an alias
// update. It never touches the activity store, and re-classifies only for
// corrections.
type FeedbackHandler struct {
	resolver   *alias.Resolver
	classifier classifier.Classifier
	threshold  float64
	logger     *zap.Logger
}

func NewFeedbackHandler(resolver *alias.Resolver, clf classifier.Classifier, threshold float64, logger *zap.Logger) *FeedbackHandler {
	if threshold <= 0 {
		threshold = DefaultCorrectionThreshold
	}
	return &FeedbackHandler{resolver: resolver, classifier: clf, threshold: threshold, logger: logger}
}

// IsClarification reports whether a bot message was a clarification question.
func IsClarification(text string) bool {
	return clarificationPattern.MatchString(text)
}

// Handle interprets replyText against the clarification the user replied to.
// Ambiguous replies mutate nothing.
func (h *FeedbackHandler) Handle(ctx context.Context, conversationID int64, clarificationText, replyText string) (FeedbackOutcome, error) {
	match := clarificationPattern.FindStringSubmatch(clarificationText)
	if match == nil {
		return FeedbackAmbiguous, nil
	}
	suggested := match[1]

	reply := strings.ToLower(strings.TrimSpace(replyText))
	reply = strings.Trim(reply, ".!")

	if isAffirmative(reply) {
		if err := h.resolver.Learn(ctx, conversationID, suggested, suggested); err != nil {
			return FeedbackAmbiguous, err
		}
		return FeedbackConfirmed, nil
	}

	remainder, negated := splitNegation(reply)
	if !negated || remainder == "" {
		return FeedbackAmbiguous, nil
	}

	result := h.classifier.Classify(ctx, remainder, nil)
	if result.Type == models.ActivityNone || result.Confidence < h.threshold {
		h.logger.Debug("correction did not clear threshold",
			zap.String("remainder", remainder),
			zap.Float64("confidence", result.Confidence))
		return FeedbackAmbiguous, nil
	}

	if err := h.resolver.Learn(ctx, conversationID, suggested, result.Activity); err != nil {
		return FeedbackAmbiguous, err
	}
	return FeedbackCorrected, nil
}

func isAffirmative(reply string) bool {
	for _, a := range affirmatives {
		if reply == a {
			return true
		}
	}
	return false
}

// splitNegation returns the remainder phrase after a leading negation word,
// e.g. "no, I mopped the floor" -> "i mopped the floor".
func splitNegation(reply string) (string, bool) {
	for _, n := range negations {
		if reply == n {
			return "", true
		}
		for _, sep := range []string{", ", " ", ","} {
			if rest, found := strings.CutPrefix(reply, n+sep); found {
				return strings.TrimSpace(rest), true
			}
		}
	}
	return "", false
}
