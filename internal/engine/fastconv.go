package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/davnik/sysslan/internal/storage"
)

const (
	DefaultFastSampleSize = 10
	DefaultFastWindow     = 60 * time.Second
	DefaultFastThreshold  = 3
)

// FastDetector estimates conversational velocity from the raw message log.
// The read is bounded to a fixed sample regardless of conversation size.
type FastDetector struct {
	log        storage.MessageLog
	sampleSize int
	window     time.Duration
	threshold  int
}

func NewFastDetector(log storage.MessageLog, sampleSize int, window time.Duration, threshold int) *FastDetector {
	if sampleSize <= 0 {
		sampleSize = DefaultFastSampleSize
	}
	if window <= 0 {
		window = DefaultFastWindow
	}
	if threshold <= 0 {
		threshold = DefaultFastThreshold
	}
	return &FastDetector{log: log, sampleSize: sampleSize, window: window, threshold: threshold}
}

// IsFast reports whether the conversation is moving too quickly to interrupt:
// at least threshold of the newest sampleSize messages came from someone
// other than the sender within the window before now. No data means not fast.
func (d *FastDetector) IsFast(ctx context.Context, conversationID, senderID int64, now time.Time) (bool, error) {
	recent, err := d.log.GetRecentMessages(ctx, conversationID, d.sampleSize)
	if err != nil {
		return false, fmt.Errorf("reading recent messages: %w", err)
	}

	cutoff := now.Add(-d.window)
	count := 0
	for _, m := range recent {
		if m.UserID == senderID {
			continue
		}
		if m.Timestamp.Before(cutoff) {
			continue
		}
		count++
		if count >= d.threshold {
			return true, nil
		}
	}

	return false, nil
}
