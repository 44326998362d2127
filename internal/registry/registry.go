package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcoach/assessment-engine/internal/services"
)

// MaxFileSize bounds an override registry file.
const MaxFileSize = 1 << 20

//go:embed quizzes.yaml
var defaultRegistryYAML []byte

type registryFile struct {
	Quizzes []services.QuizDefinition `yaml:"quizzes"`
}

// Registry is an immutable, ordered quiz list.
type Registry struct {
	quizzes []services.QuizDefinition
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded quiz registry: %v", err))
	}
	return r
}

// Load reads path, or the built-in registry when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat quiz registry: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("quiz registry %s exceeds %d bytes", path, MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz registry: %w", err)
	}
	return Parse(data)
}

// Parse validates a registry document: every entry needs a unique slug and
// results key, and at most one quiz may be the peer-review quiz.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quiz registry: %w", err)
	}
	if len(f.Quizzes) == 0 {
		return nil, fmt.Errorf("quiz registry has no quizzes")
	}
	slugs := map[string]bool{}
	keys := map[string]bool{}
	peer := 0
	for i, q := range f.Quizzes {
		q.Slug = strings.TrimSpace(q.Slug)
		q.ResultsKey = strings.TrimSpace(q.ResultsKey)
		switch {
		case q.Slug == "":
			return nil, fmt.Errorf("quiz %d: slug required", i)
		case q.Slug == services.PlaceholderSlug:
			return nil, fmt.Errorf("quiz %d: slug %q is reserved", i, q.Slug)
		case q.ResultsKey == "":
			return nil, fmt.Errorf("quiz %s: results_key required", q.Slug)
		case slugs[q.Slug]:
			return nil, fmt.Errorf("quiz %s: duplicate slug", q.Slug)
		case keys[q.ResultsKey]:
			return nil, fmt.Errorf("quiz %s: duplicate results_key %s", q.Slug, q.ResultsKey)
		}
		slugs[q.Slug] = true
		keys[q.ResultsKey] = true
		if q.PeerReview {
			peer++
		}
		if q.Title == "" {
			q.Title = q.Slug
		}
		f.Quizzes[i] = q
	}
	if peer > 1 {
		return nil, fmt.Errorf("quiz registry declares %d peer-review quizzes, want at most 1", peer)
	}
	return &Registry{quizzes: f.Quizzes}, nil
}

func (r *Registry) ListQuizzes() []services.QuizDefinition {
	return append([]services.QuizDefinition(nil), r.quizzes...)
}

// PeerReviewQuiz returns the peer-review quiz if one is registered.
func (r *Registry) PeerReviewQuiz() (services.QuizDefinition, bool) {
	for _, q := range r.quizzes {
		if q.PeerReview {
			return q, true
		}
	}
	return services.QuizDefinition{}, false
}

var _ services.QuizRegistry = (*Registry)(nil)
