package services

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mcoach/assessment-engine/internal/logger"
)

const (
	// PlaceholderSlug marks the optional locked "coming soon" step.
	PlaceholderSlug = "placeholder"
	// FunnelConfigOption is the config store key holding the admin override.
	FunnelConfigOption = "mc_funnel_config"
)

// ResultStore is per-actor keyed attribute storage for quiz payloads and
// engine bookkeeping. GetMeta returns nil for an absent key.
type ResultStore interface {
	GetMeta(actorID, key string) ([]byte, error)
	SetMeta(actorID, key string, value []byte) error
	DeleteMeta(actorID, key string) error
	// ClaimMeta writes value only if key is absent and reports whether this
	// call was the one that wrote it.
	ClaimMeta(actorID, key string, value []byte) (bool, error)
}

// ConfigStore is process-wide persisted option storage.
type ConfigStore interface {
	GetOption(key string) ([]byte, bool, error)
	UpdateOption(key string, value []byte) error
	DeleteOption(key string) error
}

type FunnelStore interface {
	ResultStore
	ConfigStore
	GetActor(id string) (*Actor, error)
	AddAudit(entry AuditEntry)
}

// SnapshotCache holds per-actor dashboard snapshots.
type SnapshotCache interface {
	Get(ctx context.Context, actorID string) (*DashboardSnapshot, bool, error)
	Set(ctx context.Context, actorID string, snap *DashboardSnapshot) error
	Invalidate(ctx context.Context, actorID string) error
	// InvalidateAll drops every cached snapshot and returns how many were removed.
	InvalidateAll(ctx context.Context) (int, error)
}

type PlaceholderStep struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Target      string `json:"target"`
}

type FunnelConfig struct {
	Steps       []string          `json:"steps"`
	Titles      map[string]string `json:"titles"`
	Placeholder PlaceholderStep   `json:"placeholder"`
}

// RequiredSteps lists the configured steps that count toward completion.
func (c FunnelConfig) RequiredSteps() []string {
	out := make([]string, 0, len(c.Steps))
	for _, s := range c.Steps {
		if s != PlaceholderSlug {
			out = append(out, s)
		}
	}
	return out
}

func (c FunnelConfig) clone() FunnelConfig {
	out := FunnelConfig{
		Steps:       append([]string(nil), c.Steps...),
		Titles:      make(map[string]string, len(c.Titles)),
		Placeholder: c.Placeholder,
	}
	for k, v := range c.Titles {
		out.Titles[k] = v
	}
	return out
}

// FunnelConfigInput is the raw admin payload accepted by SaveConfig.
type FunnelConfigInput struct {
	Steps       []string          `json:"steps"`
	Titles      map[string]string `json:"titles"`
	Placeholder *PlaceholderStep  `json:"placeholder,omitempty"`
}

// storedFunnelConfig distinguishes absent keys from empty ones.
type storedFunnelConfig struct {
	Steps       []string          `json:"steps,omitempty"`
	Titles      map[string]string `json:"titles,omitempty"`
	Placeholder *PlaceholderStep  `json:"placeholder,omitempty"`
}

type DashboardSnapshot struct {
	ActorID     string             `json:"actor_id"`
	Steps       []string           `json:"steps"`
	Titles      map[string]string  `json:"titles"`
	Placeholder PlaceholderStep    `json:"placeholder"`
	Completion  map[string]bool    `json:"completion"`
	Unlocked    map[string]bool    `json:"unlocked"`
	PeerReview  PeerReviewStatus   `json:"peer_review"`
	Strain      *StrainIndexResult `json:"strain,omitempty"`
	AllComplete bool               `json:"all_complete"`
	CompletedAt string             `json:"completed_at,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type FunnelDeps struct {
	Store      FunnelStore
	Quizzes    QuizRegistry
	PeerReview PeerReviewSource
	Cache      SnapshotCache
	Analyzer   Analyzer
	Sender     Sender
	AdminEmail string
	Log        *logger.Logger
}

// FunnelService tracks multi-quiz completion and fires the one-time
// completion side effects.
type FunnelService struct {
	store      FunnelStore
	quizzes    QuizRegistry
	peer       PeerReviewSource
	cache      SnapshotCache
	analyzer   Analyzer
	sender     Sender
	adminEmail string
	log        *logger.Logger
	now        func() time.Time

	mu  sync.RWMutex
	cfg *FunnelConfig
}

func NewFunnelService(deps FunnelDeps) *FunnelService {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = noopSnapshotCache{}
	}
	return &FunnelService{
		store:      deps.Store,
		quizzes:    deps.Quizzes,
		peer:       deps.PeerReview,
		cache:      cache,
		analyzer:   deps.Analyzer,
		sender:     deps.Sender,
		adminEmail: strings.TrimSpace(deps.AdminEmail),
		log:        log.With("service", "FunnelService"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DefaultConfig is every registered quiz in registry order.
func (s *FunnelService) DefaultConfig() FunnelConfig {
	cfg := FunnelConfig{
		Titles: map[string]string{},
		Placeholder: PlaceholderStep{
			Title:       "Coming soon",
			Description: "More assessments are on the way.",
		},
	}
	for _, q := range s.quizzes.ListQuizzes() {
		cfg.Steps = append(cfg.Steps, q.Slug)
		cfg.Titles[q.Slug] = q.Title
	}
	return cfg
}

// Config returns the stored override merged over the defaults.
func (s *FunnelService) Config() FunnelConfig {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	if cfg != nil {
		return cfg.clone()
	}
	if err := s.Reload(); err != nil {
		s.log.Warn("funnel config reload failed, using defaults", "error", err)
		return s.DefaultConfig()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Reload re-reads the persisted override.
func (s *FunnelService) Reload() error {
	cfg := s.DefaultConfig()
	raw, ok, err := s.store.GetOption(FunnelConfigOption)
	if err != nil {
		return fmt.Errorf("read funnel config: %w", err)
	}
	if ok && len(raw) > 0 {
		var stored storedFunnelConfig
		if err := json.Unmarshal(raw, &stored); err != nil {
			s.log.Warn("ignoring malformed funnel config", "error", err)
		} else {
			cfg = s.merge(cfg, stored)
		}
	}
	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()
	return nil
}

func (s *FunnelService) merge(def FunnelConfig, stored storedFunnelConfig) FunnelConfig {
	out := def.clone()
	if steps := requireRealStep(s.sanitizeSteps(stored.Steps)); steps != nil {
		out.Steps = steps
	}
	for slug, title := range stored.Titles {
		if title = sanitizeText(title); title != "" {
			out.Titles[slug] = title
		}
	}
	if p := stored.Placeholder; p != nil {
		if p.Title != "" {
			out.Placeholder.Title = p.Title
		}
		if p.Description != "" {
			out.Placeholder.Description = p.Description
		}
		if p.Target != "" {
			out.Placeholder.Target = p.Target
		}
	}
	return out
}

// SaveConfig sanitizes and persists an admin override, then drops every
// cached dashboard snapshot since the engine does not know which are stale.
func (s *FunnelService) SaveConfig(ctx context.Context, in FunnelConfigInput, by string) (FunnelConfig, error) {
	stored := storedFunnelConfig{Steps: requireRealStep(s.sanitizeSteps(in.Steps))}
	known := s.knownSlugs()
	for slug, title := range in.Titles {
		slug = sanitizeKey(slug)
		if _, ok := known[slug]; !ok {
			continue
		}
		if title = sanitizeText(title); title != "" {
			if stored.Titles == nil {
				stored.Titles = map[string]string{}
			}
			stored.Titles[slug] = title
		}
	}
	if in.Placeholder != nil {
		stored.Placeholder = &PlaceholderStep{
			Title:       sanitizeText(in.Placeholder.Title),
			Description: sanitizeText(in.Placeholder.Description),
			Target:      sanitizeURL(in.Placeholder.Target),
		}
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return FunnelConfig{}, err
	}
	if err := s.store.UpdateOption(FunnelConfigOption, b); err != nil {
		return FunnelConfig{}, fmt.Errorf("save funnel config: %w", err)
	}
	if err := s.Reload(); err != nil {
		return FunnelConfig{}, err
	}
	removed, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		s.log.Warn("dashboard cache invalidation failed", "error", err)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: by, Action: "funnel.config.save", Target: FunnelConfigOption, Note: fmt.Sprintf("steps=%d invalidated=%d", len(stored.Steps), removed)})
	return s.Config(), nil
}

// ResetConfig removes the override so defaults apply again.
func (s *FunnelService) ResetConfig(ctx context.Context, by string) error {
	if err := s.store.DeleteOption(FunnelConfigOption); err != nil {
		return fmt.Errorf("reset funnel config: %w", err)
	}
	if err := s.Reload(); err != nil {
		return err
	}
	if _, err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn("dashboard cache invalidation failed", "error", err)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: by, Action: "funnel.config.reset", Target: FunnelConfigOption})
	return nil
}

func (s *FunnelService) knownSlugs() map[string]struct{} {
	out := map[string]struct{}{PlaceholderSlug: {}}
	for _, q := range s.quizzes.ListQuizzes() {
		out[q.Slug] = struct{}{}
	}
	return out
}

// sanitizeSteps keeps registered slugs and the placeholder, in order, once each.
func (s *FunnelService) sanitizeSteps(steps []string) []string {
	known := s.knownSlugs()
	seen := map[string]bool{}
	var out []string
	for _, raw := range steps {
		slug := sanitizeKey(raw)
		if _, ok := known[slug]; !ok || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out
}

// requireRealStep returns nil unless steps holds at least one quiz besides
// the placeholder, so a placeholder-only list falls back to the defaults.
func requireRealStep(steps []string) []string {
	for _, slug := range steps {
		if slug != PlaceholderSlug {
			return steps
		}
	}
	return nil
}

// GetCompletionStatus reports, for every registered quiz, whether the actor
// finished it. The peer-review quiz counts once it reaches ready.
func (s *FunnelService) GetCompletionStatus(actorID string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, q := range s.quizzes.ListQuizzes() {
		if q.PeerReview {
			st, err := s.PeerReviewStatus(actorID)
			if err != nil {
				return nil, err
			}
			out[q.Slug] = st.State == PeerReviewCompleted || st.State == PeerReviewReady
			continue
		}
		raw, err := s.store.GetMeta(actorID, q.ResultsKey)
		if err != nil {
			return nil, fmt.Errorf("read %s results: %w", q.Slug, err)
		}
		out[q.Slug] = nonEmptyPayload(raw)
	}
	return out, nil
}

// GetUnlockStatus marks every configured step unlocked. Steps are freely
// orderable; there is no prerequisite gate.
func (s *FunnelService) GetUnlockStatus(actorID string) map[string]bool {
	out := map[string]bool{}
	for _, step := range s.Config().RequiredSteps() {
		out[step] = true
	}
	return out
}

// AllComplete reports whether every required step is complete.
func (s *FunnelService) AllComplete(actorID string) (bool, error) {
	status, err := s.GetCompletionStatus(actorID)
	if err != nil {
		return false, err
	}
	return allRequiredComplete(s.Config().RequiredSteps(), status), nil
}

func allRequiredComplete(required []string, status map[string]bool) bool {
	if len(required) == 0 {
		return false
	}
	for _, slug := range required {
		if !status[slug] {
			return false
		}
	}
	return true
}

// AggregateAllResults gathers every stored quiz payload for the actor keyed
// by quiz slug, omitting absent ones.
func (s *FunnelService) AggregateAllResults(actorID string) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	for _, q := range s.quizzes.ListQuizzes() {
		raw, err := s.store.GetMeta(actorID, q.ResultsKey)
		if err != nil {
			return nil, fmt.Errorf("read %s results: %w", q.Slug, err)
		}
		if nonEmptyPayload(raw) {
			out[q.Slug] = json.RawMessage(raw)
		}
	}
	return out, nil
}

// PutResult stores a finished quiz payload and reruns the completion trigger.
func (s *FunnelService) PutResult(ctx context.Context, actorID, slug string, payload []byte) (*TriggerOutcome, error) {
	q, ok := findQuiz(s.quizzes, sanitizeKey(slug))
	if !ok {
		return nil, NewNotFoundError("quiz not found")
	}
	if !json.Valid(payload) || !nonEmptyPayload(payload) {
		return nil, NewInvalidError("result payload must be a non-empty JSON value")
	}
	if err := s.store.SetMeta(actorID, q.ResultsKey, payload); err != nil {
		return nil, fmt.Errorf("store %s results: %w", q.Slug, err)
	}
	s.invalidate(ctx, actorID)
	return s.CheckCompletionAndNotify(ctx, actorID)
}

// DeleteResult hard-deletes a quiz payload. Support tooling only.
func (s *FunnelService) DeleteResult(ctx context.Context, actorID, slug, by string) error {
	q, ok := findQuiz(s.quizzes, sanitizeKey(slug))
	if !ok {
		return NewNotFoundError("quiz not found")
	}
	if err := s.store.DeleteMeta(actorID, q.ResultsKey); err != nil {
		return fmt.Errorf("delete %s results: %w", q.Slug, err)
	}
	s.invalidate(ctx, actorID)
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: by, Action: "result.delete", Target: actorID, Note: q.Slug})
	return nil
}

// Dashboard returns the actor's cached snapshot, building it on a miss.
func (s *FunnelService) Dashboard(ctx context.Context, actorID string) (*DashboardSnapshot, error) {
	if snap, ok, err := s.cache.Get(ctx, actorID); err != nil {
		s.log.Warn("dashboard cache read failed", "actor_id", actorID, "error", err)
	} else if ok {
		return snap, nil
	}
	cfg := s.Config()
	completion, err := s.GetCompletionStatus(actorID)
	if err != nil {
		return nil, err
	}
	peer, err := s.PeerReviewStatus(actorID)
	if err != nil {
		return nil, err
	}
	snap := &DashboardSnapshot{
		ActorID:     actorID,
		Steps:       cfg.Steps,
		Titles:      cfg.Titles,
		Placeholder: cfg.Placeholder,
		Completion:  completion,
		Unlocked:    s.GetUnlockStatus(actorID),
		PeerReview:  peer,
		AllComplete: allRequiredComplete(cfg.RequiredSteps(), completion),
		GeneratedAt: s.now(),
	}
	latest, err := s.store.GetMeta(actorID, StrainLatestKey)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		var res StrainIndexResult
		if err := json.Unmarshal(latest, &res); err == nil {
			snap.Strain = &res
		}
	}
	marker, err := s.store.GetMeta(actorID, CompletionMarkerKey)
	if err != nil {
		return nil, err
	}
	snap.CompletedAt = string(marker)
	if err := s.cache.Set(ctx, actorID, snap); err != nil {
		s.log.Warn("dashboard cache write failed", "actor_id", actorID, "error", err)
	}
	return snap, nil
}

// InvalidateDashboard drops the actor's cached snapshot after a change made
// outside this service.
func (s *FunnelService) InvalidateDashboard(ctx context.Context, actorID string) {
	s.invalidate(ctx, actorID)
}

func (s *FunnelService) invalidate(ctx context.Context, actorID string) {
	if err := s.cache.Invalidate(ctx, actorID); err != nil {
		s.log.Warn("dashboard cache invalidation failed", "actor_id", actorID, "error", err)
	}
}

// PayloadPresent reports whether a stored quiz payload counts as submitted.
func PayloadPresent(raw []byte) bool { return nonEmptyPayload(raw) }

// nonEmptyPayload treats null, "", {}, [], false and 0 as absent.
func nonEmptyPayload(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		// opaque non-JSON payloads still count as present
		return true
	}
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
	keyPattern   = regexp.MustCompile(`[^a-z0-9_\-]`)
)

func sanitizeKey(s string) string {
	return keyPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

func sanitizeText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// sanitizeURL accepts absolute http(s) URLs and site-relative paths.
func sanitizeURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == "" {
			return ""
		}
		return u.String()
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/"):
		return u.String()
	default:
		return ""
	}
}

type noopSnapshotCache struct{}

func (noopSnapshotCache) Get(context.Context, string) (*DashboardSnapshot, bool, error) {
	return nil, false, nil
}
func (noopSnapshotCache) Set(context.Context, string, *DashboardSnapshot) error { return nil }
func (noopSnapshotCache) Invalidate(context.Context, string) error               { return nil }
func (noopSnapshotCache) InvalidateAll(context.Context) (int, error)             { return 0, nil }
