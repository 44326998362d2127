package services

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mcoach/assessment-engine/internal/logger"
)

type StrainScale string

const (
	ScaleRumination     StrainScale = "rumination"
	ScaleAvoidance      StrainScale = "avoidance"
	ScaleEmotionalFlood StrainScale = "emotional_flood"
)

// strainScales fixes each scale's payload key and maximum. The maxima are
// question count times a five-point scale in the upstream quizzes.
var strainScales = []struct {
	scale StrainScale
	key   string
	max   float64
}{
	{ScaleRumination, "si-rumination", 55},
	{ScaleAvoidance, "si-avoidance", 50},
	{ScaleEmotionalFlood, "si-emotional-flood", 45},
}

// ScoreContainer selects where a payload keeps its sub-scores.
type ScoreContainer int

const (
	ByPart1Scores ScoreContainer = iota
	ByScores
	ByRoot
)

// scoreContainerOrder is tried first to last; the first match wins.
var scoreContainerOrder = []ScoreContainer{ByPart1Scores, ByScores, ByRoot}

func (c ScoreContainer) String() string {
	switch c {
	case ByPart1Scores:
		return "part1Scores"
	case ByScores:
		return "scores"
	default:
		return "root"
	}
}

func (c ScoreContainer) extract(root map[string]any) (map[string]any, bool) {
	if c == ByRoot {
		return root, root != nil
	}
	m, ok := root[c.String()].(map[string]any)
	return m, ok
}

// extractSubScores applies the container strategies in order.
func extractSubScores(root map[string]any) map[string]any {
	for _, c := range scoreContainerOrder {
		if m, ok := c.extract(root); ok {
			return m
		}
	}
	return nil
}

// DefaultStrainSources are the quiz slugs contributing to the index.
var DefaultStrainSources = []string{"mi-quiz", "cdt-quiz", "bartle-quiz"}

type StrainIndexResult struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	RawRumination     float64   `json:"raw_rumination"`
	RawAvoidance      float64   `json:"raw_avoidance"`
	RawEmotionalFlood float64   `json:"raw_emotional_flood"`
	Rumination        float64   `json:"rumination"`
	Avoidance         float64   `json:"avoidance"`
	EmotionalFlood    float64   `json:"emotional_flood"`
	OverallStrain     float64   `json:"overall_strain"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

type StrainStore interface {
	GetMeta(actorID, key string) ([]byte, error)
	SetMeta(actorID, key string, value []byte) error
	AppendStrainResult(r *StrainIndexResult) error
	ListStrainResults(actorID string) ([]*StrainIndexResult, error)
}

// StrainScorer aggregates three assessments' sub-scales into the Strain Index.
type StrainScorer struct {
	store   StrainStore
	quizzes QuizRegistry
	sources []string
	log     *logger.Logger
	now     func() time.Time
	idGen   func() string
}

func NewStrainScorer(store StrainStore, quizzes QuizRegistry, log *logger.Logger) *StrainScorer {
	if log == nil {
		log = logger.Nop()
	}
	return &StrainScorer{
		store:   store,
		quizzes: quizzes,
		sources: DefaultStrainSources,
		log:     log.With("service", "StrainScorer"),
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   uuid.NewString,
	}
}

// IsSource reports whether a result saved under slug feeds the index. The
// slug is normalized the same way PutResult normalizes it.
func (s *StrainScorer) IsSource(slug string) bool {
	return slices.Contains(s.sources, sanitizeKey(slug))
}

// CalculateFromResults computes a fresh index when every source result is
// present, appends it to the log and mirrors it into the latest slot. It
// returns nil, nil when any source is missing.
func (s *StrainScorer) CalculateFromResults(actorID string) (*StrainIndexResult, error) {
	payloads := make([]map[string]any, 0, len(s.sources))
	for _, slug := range s.sources {
		q, ok := findQuiz(s.quizzes, slug)
		if !ok {
			s.log.Warn("strain source quiz not registered", "slug", slug)
			strainCalculations.WithLabelValues("unavailable").Inc()
			return nil, nil
		}
		raw, err := s.store.GetMeta(actorID, q.ResultsKey)
		if err != nil {
			return nil, fmt.Errorf("read %s results: %w", slug, err)
		}
		if !nonEmptyPayload(raw) {
			strainCalculations.WithLabelValues("unavailable").Inc()
			return nil, nil
		}
		var root map[string]any
		if err := json.Unmarshal(raw, &root); err != nil {
			s.log.Warn("strain source payload is not an object", "slug", slug, "error", err)
		}
		payloads = append(payloads, root)
	}

	res := ScoreStrainIndex(payloads)
	res.ID = s.idGen()
	res.ActorID = actorID
	res.CalculatedAt = s.now()

	b, err := json.Marshal(res)
	if err != nil {
		strainCalculations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("encode strain result: %w", err)
	}
	if err := s.store.AppendStrainResult(&res); err != nil {
		strainCalculations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("append strain result: %w", err)
	}
	if err := s.store.SetMeta(actorID, StrainLatestKey, b); err != nil {
		strainCalculations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store latest strain result: %w", err)
	}
	strainCalculations.WithLabelValues("ok").Inc()
	s.log.Debug("strain index calculated", "actor_id", actorID, "overall", res.OverallStrain)
	return &res, nil
}

// Latest returns the actor's most recent index, or nil.
func (s *StrainScorer) Latest(actorID string) (*StrainIndexResult, error) {
	raw, err := s.store.GetMeta(actorID, StrainLatestKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var res StrainIndexResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode latest strain result: %w", err)
	}
	return &res, nil
}

func (s *StrainScorer) History(actorID string) ([]*StrainIndexResult, error) {
	return s.store.ListStrainResults(actorID)
}

// ScoreStrainIndex sums each scale across the payloads, normalizes by the
// scale maximum and averages the three components.
func ScoreStrainIndex(payloads []map[string]any) StrainIndexResult {
	sums := map[StrainScale]float64{}
	for _, root := range payloads {
		scores := extractSubScores(root)
		for _, sc := range strainScales {
			sums[sc.scale] = finiteOrZero(sums[sc.scale] + scoreValue(scores[sc.key]))
		}
	}
	norm := map[StrainScale]float64{}
	total := 0.0
	for _, sc := range strainScales {
		n := clamp01(sums[sc.scale] / sc.max)
		norm[sc.scale] = n
		total += n
	}
	return StrainIndexResult{
		RawRumination:     sums[ScaleRumination],
		RawAvoidance:      sums[ScaleAvoidance],
		RawEmotionalFlood: sums[ScaleEmotionalFlood],
		Rumination:        round4(norm[ScaleRumination]),
		Avoidance:         round4(norm[ScaleAvoidance]),
		EmotionalFlood:    round4(norm[ScaleEmotionalFlood]),
		OverallStrain:     round4(total / float64(len(strainScales))),
	}
}

// scoreValue reads a sub-score; anything non-numeric or non-finite counts as zero.
func scoreValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		return finiteOrZero(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return finiteOrZero(f)
	default:
		return 0
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
