package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	list := r.ListQuizzes()
	require.Len(t, list, 4)
	assert.Equal(t, "mi-quiz", list[0].Slug)
	assert.Equal(t, "miq_quiz_results", list[0].ResultsKey)
	peer, ok := r.PeerReviewQuiz()
	require.True(t, ok)
	assert.Equal(t, "johari-mi-quiz", peer.Slug)

	list[0].Slug = "mutated"
	assert.Equal(t, "mi-quiz", r.ListQuizzes()[0].Slug)
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"empty":          `quizzes: []`,
		"missing slug":   "quizzes:\n  - results_key: x\n",
		"reserved slug":  "quizzes:\n  - slug: placeholder\n    results_key: x\n",
		"missing key":    "quizzes:\n  - slug: a\n",
		"duplicate slug": "quizzes:\n  - slug: a\n    results_key: x\n  - slug: a\n    results_key: y\n",
		"duplicate key":  "quizzes:\n  - slug: a\n    results_key: x\n  - slug: b\n    results_key: x\n",
		"two peers":      "quizzes:\n  - slug: a\n    results_key: x\n    peer_review: true\n  - slug: b\n    results_key: y\n    peer_review: true\n",
		"bad yaml":       "quizzes: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
	r, err := Parse([]byte("quizzes:\n  - slug: solo\n    results_key: solo_results\n"))
	require.NoError(t, err)
	assert.Equal(t, "solo", r.ListQuizzes()[0].Title)
}

func TestLoadFromFile(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Len(t, r.ListQuizzes(), 4)

	path := filepath.Join(t.TempDir(), "quizzes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quizzes:\n  - slug: a\n    title: A\n    results_key: a_results\n"), 0o600))
	r, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "A", r.ListQuizzes()[0].Title)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
