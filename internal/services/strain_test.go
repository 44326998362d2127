package services

import (
	"math"
	"math/rand"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(store *stubStore) *StrainScorer {
	s := NewStrainScorer(store, testQuizzes, nil)
	s.now = func() time.Time { return time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC) }
	n := 0
	s.idGen = func() string { n++; return "SI" + string(rune('0'+n)) }
	return s
}

func TestStrainScenario(t *testing.T) {
	store := newStubStore()
	_ = store.SetMeta("u1", "miq_quiz_results", []byte(`{"part1Scores":{"si-rumination":20,"si-avoidance":15,"si-emotional-flood":10},"scores":{"si-rumination":99}}`))
	_ = store.SetMeta("u1", "cdt_quiz_results", []byte(`{"scores":{"si-rumination":15,"si-avoidance":20,"si-emotional-flood":15},"ageGroup":"adult"}`))
	_ = store.SetMeta("u1", "bartle_quiz_results", []byte(`{"si-rumination":10,"si-avoidance":"10","si-emotional-flood":10,"sortedScores":[["explorer",12]]}`))
	s := newTestScorer(store)

	res, err := s.CalculateFromResults("u1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 45.0, res.RawRumination)
	assert.Equal(t, 45.0, res.RawAvoidance)
	assert.Equal(t, 35.0, res.RawEmotionalFlood)
	assert.Equal(t, 0.8182, res.Rumination)
	assert.Equal(t, 0.9, res.Avoidance)
	assert.Equal(t, 0.7778, res.EmotionalFlood)
	assert.Equal(t, 0.832, res.OverallStrain)
	assert.Equal(t, "SI1", res.ID)
	assert.Equal(t, "u1", res.ActorID)

	require.Len(t, store.strainLog, 1)
	latest, err := s.Latest("u1")
	require.NoError(t, err)
	assert.Equal(t, res.OverallStrain, latest.OverallStrain)
}

func TestStrainRecalculationAppends(t *testing.T) {
	store := newStubStore()
	for _, key := range []string{"miq_quiz_results", "cdt_quiz_results", "bartle_quiz_results"} {
		_ = store.SetMeta("u1", key, []byte(`{"scores":{"si-rumination":5,"si-avoidance":5,"si-emotional-flood":5}}`))
	}
	s := newTestScorer(store)
	first, err := s.CalculateFromResults("u1")
	require.NoError(t, err)
	second, err := s.CalculateFromResults("u1")
	require.NoError(t, err)

	assert.Equal(t, first.OverallStrain, second.OverallStrain)
	assert.NotEqual(t, first.ID, second.ID)
	history, _ := s.History("u1")
	assert.Len(t, history, 2)
	assert.Equal(t, 2, store.metaWrites[StrainLatestKey])
	var mirrored StrainIndexResult
	raw, _ := store.GetMeta("u1", StrainLatestKey)
	require.NoError(t, json.Unmarshal(raw, &mirrored))
	assert.Equal(t, second.ID, mirrored.ID)
}

func TestStrainUnavailableWhenSourceMissing(t *testing.T) {
	store := newStubStore()
	_ = store.SetMeta("u1", "miq_quiz_results", []byte(`{"scores":{"si-rumination":5}}`))
	_ = store.SetMeta("u1", "cdt_quiz_results", []byte(`{"scores":{"si-rumination":5}}`))
	_ = store.SetMeta("u1", "bartle_quiz_results", []byte(`{}`))
	s := newTestScorer(store)
	res, err := s.CalculateFromResults("u1")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, store.strainLog)
	latest, err := s.Latest("u1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStrainIsSourceNormalizesSlug(t *testing.T) {
	s := newTestScorer(newStubStore())
	assert.True(t, s.IsSource("mi-quiz"))
	assert.True(t, s.IsSource(" MI-Quiz "))
	assert.False(t, s.IsSource("johari-mi-quiz"))
	assert.False(t, s.IsSource(""))
}

func TestExtractSubScoresOrder(t *testing.T) {
	root := map[string]any{
		"part1Scores":   map[string]any{"si-rumination": 1.0},
		"scores":        map[string]any{"si-rumination": 2.0},
		"si-rumination": 3.0,
	}
	assert.Equal(t, 1.0, extractSubScores(root)["si-rumination"])
	delete(root, "part1Scores")
	assert.Equal(t, 2.0, extractSubScores(root)["si-rumination"])
	root["scores"] = "not a map"
	assert.Equal(t, 3.0, extractSubScores(root)["si-rumination"])
	assert.Nil(t, extractSubScores(nil))
}

func TestScoreStrainIndexMalformedInput(t *testing.T) {
	res := ScoreStrainIndex([]map[string]any{
		nil,
		{"scores": map[string]any{"si-rumination": "abc", "si-avoidance": -20.0}},
		{"si-emotional-flood": 900.0},
	})
	assert.Equal(t, 0.0, res.Rumination)
	assert.Equal(t, 0.0, res.Avoidance)
	assert.Equal(t, 1.0, res.EmotionalFlood)
	assert.Equal(t, 0.3333, res.OverallStrain)

	res = ScoreStrainIndex([]map[string]any{
		{"scores": map[string]any{"si-rumination": "Inf", "si-avoidance": "NaN", "si-emotional-flood": "-inf"}},
		{"scores": map[string]any{"si-rumination": 1e308}},
		{"scores": map[string]any{"si-rumination": 1e308}},
	})
	for _, v := range []float64{res.RawRumination, res.RawAvoidance, res.RawEmotionalFlood} {
		assert.False(t, math.IsInf(v, 0) || math.IsNaN(v), "non-finite raw score %v", v)
	}
	assert.Equal(t, 0.0, res.Avoidance)
	assert.Equal(t, 0.0, res.EmotionalFlood)
}

func TestStrainNonFiniteScoresStillPersist(t *testing.T) {
	store := newStubStore()
	_ = store.SetMeta("u1", "miq_quiz_results", []byte(`{"scores":{"si-rumination":"Inf"}}`))
	_ = store.SetMeta("u1", "cdt_quiz_results", []byte(`{"scores":{"si-rumination":5,"si-avoidance":5,"si-emotional-flood":5}}`))
	_ = store.SetMeta("u1", "bartle_quiz_results", []byte(`{"scores":{"si-rumination":5,"si-avoidance":5,"si-emotional-flood":5}}`))
	s := newTestScorer(store)

	res, err := s.CalculateFromResults("u1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 10.0, res.RawRumination)
	require.Len(t, store.strainLog, 1)
	latest, err := s.Latest("u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.ID, latest.ID)
}

func TestScoreStrainIndexBoundsAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		payloads := make([]map[string]any, 3)
		for j := range payloads {
			// each source contributes at most a third of the scale maximum
			payloads[j] = map[string]any{"scores": map[string]any{
				"si-rumination":      float64(rng.Intn(19)),
				"si-avoidance":       float64(rng.Intn(17)),
				"si-emotional-flood": float64(rng.Intn(16)),
			}}
		}
		a := ScoreStrainIndex(payloads)
		b := ScoreStrainIndex(payloads)
		require.Equal(t, a, b)
		for _, v := range []float64{a.Rumination, a.Avoidance, a.EmotionalFlood, a.OverallStrain} {
			require.True(t, v >= 0 && v <= 1, "out of bounds: %v", v)
		}
		mean := (a.RawRumination/55 + a.RawAvoidance/50 + a.RawEmotionalFlood/45) / 3
		require.InDelta(t, mean, a.OverallStrain, 0.00005+1e-12)
		require.False(t, math.IsNaN(a.OverallStrain))
	}
}
