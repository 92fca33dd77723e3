package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/models"
)

type counterKey struct {
	conversationID int64
	localDate      string
}

type aliasKey struct {
	conversationID int64
	alias          string
}

type learningKey struct {
	userID int64
	kind   string
	key    string
}

// MemoryStorage is the in-memory Storage used for development and tests.
// Counter expiry is judged against the injected clock so that reads and
// writes agree on what "now" means.
type MemoryStorage struct {
	clock      localtime.Clock
	mu         sync.RWMutex
	activities map[int64][]*models.Activity
	aliases    map[aliasKey]*models.AliasRecord
	counters   map[counterKey]*models.ResponseCounterRecord
	messages   map[int64][]*models.RawMessage
	learning   map[learningKey]*models.LearningRecord
}

func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithClock(localtime.SystemClock{})
}

func NewMemoryStorageWithClock(clock localtime.Clock) *MemoryStorage {
	return &MemoryStorage{
		clock:      clock,
		activities: make(map[int64][]*models.Activity),
		aliases:    make(map[aliasKey]*models.AliasRecord),
		counters:   make(map[counterKey]*models.ResponseCounterRecord),
		messages:   make(map[int64][]*models.RawMessage),
		learning:   make(map[learningKey]*models.LearningRecord),
	}
}

func (s *MemoryStorage) SaveActivity(ctx context.Context, activity *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *activity
	s.activities[activity.ConversationID] = append(s.activities[activity.ConversationID], &copied)
	return nil
}

func (s *MemoryStorage) GetConversationActivities(ctx context.Context, conversationID int64, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterActivities(s.activities[conversationID], limit, func(*models.Activity) bool { return true }), nil
}

func (s *MemoryStorage) GetUserActivities(ctx context.Context, conversationID, userID int64, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterActivities(s.activities[conversationID], limit, func(a *models.Activity) bool {
		return a.UserID == userID
	}), nil
}

func filterActivities(all []*models.Activity, limit int, keep func(*models.Activity) bool) []*models.Activity {
	var result []*models.Activity
	for _, a := range all {
		if keep(a) {
			copied := *a
			result = append(result, &copied)
		}
	}
	// Activity ids sort the same as message timestamps.
	sort.Slice(result, func(i, j int) bool { return result[i].ActivityID > result[j].ActivityID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *MemoryStorage) SetBotReplyID(ctx context.Context, conversationID int64, activityID, botReplyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.activities[conversationID] {
		if a.ActivityID == activityID {
			a.BotReplyID = botReplyID
			return nil
		}
	}
	return fmt.Errorf("activity %s not found", activityID)
}

func (s *MemoryStorage) ListAliases(ctx context.Context, conversationID int64) ([]*models.AliasRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.AliasRecord
	for k, r := range s.aliases {
		if k.conversationID == conversationID {
			copied := *r
			records = append(records, &copied)
		}
	}
	return records, nil
}

func (s *MemoryStorage) GetAlias(ctx context.Context, conversationID int64, alias string) (*models.AliasRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.aliases[aliasKey{conversationID, alias}]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStorage) PutAlias(ctx context.Context, record *models.AliasRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.aliases[aliasKey{record.ConversationID, record.Alias}] = &copied
	return nil
}

func (s *MemoryStorage) IncrementConfirmation(ctx context.Context, conversationID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, exists := s.aliases[aliasKey{conversationID, alias}]; exists {
		r.Confirmations++
	}
	return nil
}

func (s *MemoryStorage) DeleteAlias(ctx context.Context, conversationID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.aliases, aliasKey{conversationID, alias})
	return nil
}

func (s *MemoryStorage) GetResponseCount(ctx context.Context, conversationID int64, localDate string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.counters[counterKey{conversationID, localDate}]; exists && s.clock.Now().Before(r.ExpiresAt) {
		return r.Count, nil
	}
	return 0, nil
}

func (s *MemoryStorage) IncrementResponseCount(ctx context.Context, conversationID int64, localDate string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{conversationID, localDate}
	r, exists := s.counters[key]
	if !exists {
		r = &models.ResponseCounterRecord{
			ConversationID: conversationID,
			LocalDate:      localDate,
		}
		s.counters[key] = r
	}
	r.Count++
	r.LastResponseAt = now
	r.ExpiresAt = now.Add(7 * 24 * time.Hour)
	return r.Count, nil
}

func (s *MemoryStorage) GetLastResponseAt(ctx context.Context, conversationID int64, localDate string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.counters[counterKey{conversationID, localDate}]; exists && s.clock.Now().Before(r.ExpiresAt) {
		return r.LastResponseAt, nil
	}
	return time.Time{}, nil
}

func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)
	return nil
}

func (s *MemoryStorage) GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*models.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	result := make([]*models.RawMessage, 0, len(all))
	for _, m := range all {
		copied := *m
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStorage) GetLearning(ctx context.Context, userID int64, kind, key string) (*models.LearningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.learning[learningKey{userID, kind, key}]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStorage) PutLearningChecked(ctx context.Context, record *models.LearningRecord, seenSampleCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := learningKey{record.UserID, record.Kind, record.Key}
	current, exists := s.learning[key]
	if seenSampleCount == 0 {
		if exists {
			return false, nil
		}
	} else {
		if !exists || current.SampleCount != seenSampleCount {
			return false, nil
		}
	}

	copied := *record
	s.learning[key] = &copied
	return true, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
