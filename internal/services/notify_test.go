package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoQuizzes = stubRegistry{
	{Slug: "a", Title: "A", ResultsKey: "a_results"},
	{Slug: "b", Title: "B", ResultsKey: "b_results"},
}

var threeQuizzes = stubRegistry{
	{Slug: "a", Title: "A", ResultsKey: "a_results"},
	{Slug: "b", Title: "B", ResultsKey: "b_results"},
	{Slug: "c", Title: "C", ResultsKey: "c_results"},
}

func fixedNow(svc *FunnelService) {
	svc.now = func() time.Time { return time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC) }
}

func TestCheckCompletionIncompleteIsNoop(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, threeQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))

	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, CompletionIncomplete, out.State)
	assert.Equal(t, 0, sender.count())
	marker, _ := store.GetMeta("u1", CompletionMarkerKey)
	assert.Nil(t, marker)
}

func TestCheckCompletionPlaceholderOnlyConfigDoesNotFire(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, threeQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	_, err := svc.SaveConfig(context.Background(), FunnelConfigInput{Steps: []string{"placeholder"}}, "admin")
	require.NoError(t, err)

	out, err := svc.CheckCompletionAndNotify(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, CompletionIncomplete, out.State)
	assert.False(t, out.AllComplete)
	assert.Equal(t, 0, sender.count())
	marker, _ := store.GetMeta("nobody", CompletionMarkerKey)
	assert.Nil(t, marker)
}

func TestCheckCompletionNotifiesOnce(t *testing.T) {
	store := newStubStore()
	store.addActor(&Actor{ID: "boss", Email: "boss@example.com", Roles: []string{"employer"}})
	store.addActor(&Actor{ID: "u1", Email: "u1@example.com", DisplayName: "Dana", Roles: []string{"employee"}, LinkedEmployerID: "boss"})
	sender := &recordingSender{}
	analyzer := &stubAnalyzer{analysis: &Analysis{Summary: "Steady", Strengths: []string{"Focus"}, RedFlags: []string{"Overload"}}}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) {
		d.Sender = sender
		d.Analyzer = analyzer
		d.AdminEmail = "ops@example.com"
	})
	fixedNow(svc)
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))

	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, out.Notified)
	assert.Equal(t, CompletionHandled, out.State)
	assert.Equal(t, "boss@example.com", out.Recipient)

	again, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, again.Notified)
	assert.Equal(t, CompletionHandled, again.State)

	require.Equal(t, 1, sender.count())
	assert.Equal(t, 1, store.metaWrites[CompletionMarkerKey])
	assert.Equal(t, 1, analyzer.calls)
	marker, _ := store.GetMeta("u1", CompletionMarkerKey)
	assert.Equal(t, "2025-10-01T09:30:00Z", string(marker))

	msg := sender.sent[0]
	assert.True(t, strings.HasPrefix(msg, "boss@example.com|Dana completed all assessments|"))
	assert.Contains(t, msg, "<li>Focus</li>")
	assert.Contains(t, msg, "<li>Overload</li>")
	stored, _ := store.GetMeta("u1", AnalysisKey)
	assert.Contains(t, string(stored), "Steady")
}

func TestCheckCompletionWithoutAnalyzerStillNotifies(t *testing.T) {
	store := newStubStore()
	store.addActor(&Actor{ID: "u1", Email: "u1@example.com"})
	sender := &recordingSender{}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))

	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, out.Notified)
	assert.Equal(t, "ops@example.com", out.Recipient, "no linked employer falls back to admin")
	require.Equal(t, 1, sender.count())
	assert.NotContains(t, sender.sent[0], "Strengths")
	analysis, _ := store.GetMeta("u1", AnalysisKey)
	assert.Nil(t, analysis)
}

func TestCheckCompletionAnalyzerErrorDoesNotBlock(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) {
		d.Sender = sender
		d.Analyzer = &stubAnalyzer{err: errors.New("model overloaded")}
		d.AdminEmail = "ops@example.com"
	})
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))
	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, out.Notified)
}

func TestCheckCompletionSendFailureRetriesLater(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{fails: 1}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))

	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err, "send failures are swallowed")
	assert.False(t, out.Notified)
	assert.Equal(t, CompletionUnhandled, out.State)
	marker, _ := store.GetMeta("u1", CompletionMarkerKey)
	assert.Nil(t, marker)

	out, err = svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, out.Notified)
	assert.Equal(t, CompletionHandled, out.State)
	out, err = svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, out.Notified)
	assert.Equal(t, 1, sender.count())
}

func TestCheckCompletionNoRecipientKeepsMarker(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) { d.Sender = sender })
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))
	out, err := svc.CheckCompletionAndNotify(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, out.Notified)
	assert.Equal(t, CompletionHandled, out.State)
	assert.Equal(t, 0, sender.count())
	marker, _ := store.GetMeta("u1", CompletionMarkerKey)
	assert.NotNil(t, marker)
}

func TestCheckCompletionConcurrentCallsFireOnce(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	_ = store.SetMeta("u1", "a_results", []byte(`{"x":1}`))
	_ = store.SetMeta("u1", "b_results", []byte(`{"x":1}`))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.CheckCompletionAndNotify(context.Background(), "u1")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 1, store.metaWrites[CompletionMarkerKey])
}

func TestPutResultCompletesFunnel(t *testing.T) {
	store := newStubStore()
	sender := &recordingSender{}
	svc := newTestFunnel(store, twoQuizzes, func(d *FunnelDeps) { d.Sender = sender; d.AdminEmail = "ops@example.com" })
	ctx := context.Background()

	out, err := svc.PutResult(ctx, "u1", "a", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, CompletionIncomplete, out.State)
	out, err = svc.PutResult(ctx, "u1", "b", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.True(t, out.Notified)
	out, err = svc.PutResult(ctx, "u1", "b", []byte(`{"x":2}`))
	require.NoError(t, err)
	assert.False(t, out.Notified, "edits that keep every slug complete do not refire")
	assert.Equal(t, 1, sender.count())
}
