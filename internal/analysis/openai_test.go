package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/services"
)

func chatServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAnalyzer(t *testing.T, url string) *OpenAIAnalyzer {
	t.Helper()
	a, err := New(logger.Nop(), Config{APIKey: "sk-test", BaseURL: url + "/v1"})
	require.NoError(t, err)
	return a
}

func TestGenerateAnalysisParsesJSON(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, `{"summary":"Steady","strengths":["focus"],"red_flags":["overwork"],"recommendations":["rest"]}`, &seen)
	defer srv.Close()

	a := newTestAnalyzer(t, srv.URL)
	got, err := a.GenerateAnalysis(context.Background(), "u1", map[string]json.RawMessage{
		"mi-quiz": json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Steady", got.Summary)
	assert.Equal(t, []string{"focus"}, got.Strengths)
	assert.Equal(t, []string{"overwork"}, got.RedFlags)
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	rf, _ := seen["response_format"].(map[string]any)
	assert.Equal(t, "json_object", rf["type"])
}

func TestGenerateAnalysisRejectsGarbage(t *testing.T) {
	srv := chatServer(t, "not json at all", nil)
	defer srv.Close()
	a := newTestAnalyzer(t, srv.URL)
	_, err := a.GenerateAnalysis(context.Background(), "u1", map[string]json.RawMessage{"x": json.RawMessage(`1`)})
	assert.Error(t, err)
}

func TestGenerateAnalysisWithoutResults(t *testing.T) {
	a := newTestAnalyzer(t, "http://127.0.0.1:1")
	_, err := a.GenerateAnalysis(context.Background(), "u1", nil)
	assert.True(t, errors.Is(err, services.ErrAnalysisUnavailable))
}

func TestBuildPromptOrdersSlugs(t *testing.T) {
	p := buildPrompt(map[string]json.RawMessage{
		"zeta":  json.RawMessage(`{"z":1}`),
		"alpha": json.RawMessage(`{"a":1}`),
	})
	assert.Less(t, strings.Index(p, "## alpha"), strings.Index(p, "## zeta"))
}

func TestParseAnalysisStripsFences(t *testing.T) {
	got, err := parseAnalysis("```json\n{\"summary\":\"ok\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Summary)
}

func TestNewFromEnvWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	a, err := NewFromEnv(logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, a)
}
