// Package alias rewrites incoming message text using per-conversation
// learned vocabulary merged over a static seed dictionary.
package alias

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

// DefaultCacheTTL bounds how stale the per-conversation alias cache may be.
const DefaultCacheTTL = 5 * time.Minute

// Resolution is the outcome of resolving one message. Canonical holds the
// substituted activity name for each applied alias, index-aligned.
type Resolution struct {
	ResolvedText   string
	AppliedAliases []string
	Canonical      []string
}

type cacheEntry struct {
	aliases  map[string]string
	loadedAt time.Time
}

// Resolver substitutes known aliases with canonical activity names.
// The store is consulted at most once per conversation per TTL window.
type Resolver struct {
	store  storage.AliasStore
	clock  localtime.Clock
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

func NewResolver(store storage.AliasStore, clock localtime.Clock, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[int64]cacheEntry),
	}
}

// Resolve rewrites text with every matching alias, case-insensitively and on
// whole words only. Learned aliases win over seed entries for the same word.
func (r *Resolver) Resolve(ctx context.Context, conversationID int64, text string) (*Resolution, error) {
	merged, err := r.conversationAliases(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Longest aliases first so "lagade mat" beats "mat".
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	// All matches are located against the original text before any
	// replacement happens, so a substituted canonical name can never be
	// matched again by another alias. Overlapping spans go to the longer
	// alias, which claimed its span first.
	type span struct {
		start, end int
		canonical  string
	}
	var spans []span
	claimed := func(start, end int) bool {
		for _, s := range spans {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	var applied, canonical []string
	for _, a := range keys {
		pattern, err := wholeWordPattern(a)
		if err != nil {
			r.logger.Warn("skipping unusable alias", zap.String("alias", a), zap.Error(err))
			continue
		}
		matched := false
		for _, m := range pattern.FindAllStringIndex(text, -1) {
			if claimed(m[0], m[1]) {
				continue
			}
			spans = append(spans, span{start: m[0], end: m[1], canonical: merged[a]})
			matched = true
		}
		if matched {
			applied = append(applied, a)
			canonical = append(canonical, merged[a])
		}
	}

	if len(spans) == 0 {
		return &Resolution{ResolvedText: text}, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		b.WriteString(s.canonical)
		prev = s.end
	}
	b.WriteString(text[prev:])

	return &Resolution{ResolvedText: b.String(), AppliedAliases: applied, Canonical: canonical}, nil
}

// Invalidate drops the cached aliases for a conversation, forcing a store
// read on the next resolve. Called after the feedback handler writes.
func (r *Resolver) Invalidate(conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, conversationID)
}

func (r *Resolver) conversationAliases(ctx context.Context, conversationID int64) (map[string]string, error) {
	r.mu.Lock()
	entry, ok := r.cache[conversationID]
	r.mu.Unlock()

	now := r.clock.Now()
	if ok && now.Sub(entry.loadedAt) <= r.ttl {
		return entry.aliases, nil
	}

	records, err := r.store.ListAliases(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading aliases for conversation %d: %w", conversationID, err)
	}

	merged := make(map[string]string, len(seedAliases)+len(records))
	for a, canonical := range seedAliases {
		merged[strings.ToLower(a)] = canonical
	}
	for _, rec := range records {
		merged[strings.ToLower(rec.Alias)] = rec.CanonicalActivity
	}

	r.mu.Lock()
	r.cache[conversationID] = cacheEntry{aliases: merged, loadedAt: now}
	r.mu.Unlock()

	return merged, nil
}

func wholeWordPattern(alias string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
}

// Learn records a confirmed alias, incrementing the confirmation counter
// when the mapping already exists.
func (r *Resolver) Learn(ctx context.Context, conversationID int64, aliasText, canonical string) error {
	aliasText = strings.ToLower(strings.TrimSpace(aliasText))
	if aliasText == "" {
		return nil
	}

	existing, err := r.store.GetAlias(ctx, conversationID, aliasText)
	if err != nil {
		return fmt.Errorf("looking up alias %q: %w", aliasText, err)
	}

	if existing != nil && existing.CanonicalActivity == canonical {
		if err := r.store.IncrementConfirmation(ctx, conversationID, aliasText); err != nil {
			return fmt.Errorf("confirming alias %q: %w", aliasText, err)
		}
	} else {
		record := &models.AliasRecord{
			ConversationID:    conversationID,
			Alias:             aliasText,
			CanonicalActivity: canonical,
			Confirmations:     1,
			Source:            models.AliasLearned,
		}
		if err := r.store.PutAlias(ctx, record); err != nil {
			return fmt.Errorf("saving alias %q: %w", aliasText, err)
		}
	}

	r.Invalidate(conversationID)
	return nil
}
