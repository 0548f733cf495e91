package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxhunter/signup-agent/internal/models"
)

func testPipeline(sources []URLSource, agent AgentServiceInterface, st ResultStore, maxSignups int) (*PipelineService, *StopController) {
	ctrl := &StopController{}
	rng := rand.New(rand.NewSource(1))
	// Zero delays keep tests fast; RandomDelay clamps internally.
	p := NewPipelineService(sources, agent, &fakePlanner{}, st, ctrl, rng, 0, 0, maxSignups, quietLogger())
	return p, ctrl
}

func successResult(url string) *models.SignupResult {
	return &models.SignupResult{URL: url, Status: models.StatusSuccess, SignupType: "Newsletter"}
}

func failedResult(url string, cat models.ErrorCategory) *models.SignupResult {
	return &models.SignupResult{URL: url, Status: models.StatusFailed, PrimaryCategory: cat, PrimaryError: "failed"}
}

func TestRunProcessesAndPersists(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.example.com": successResult("https://a.example.com"),
		"https://b.example.com": failedResult("https://b.example.com", models.CategoryNoForm),
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{
		{URL: "https://a.example.com", Source: "csv"},
		{URL: "https://b.example.com", Source: "csv"},
	}}
	st := newFakeResultStore()
	pipeline, _ := testPipeline([]URLSource{source}, agent, st, 10)

	summary, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalAttempted)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Interrupted)
	assert.ElementsMatch(t, []string{"https://a.example.com", "https://b.example.com"}, st.added)
	assert.Equal(t, 1, st.costSaves)
	assert.Equal(t, 1, summary.FailureCategories[string(models.CategoryNoForm)])
}

func TestRunSkipsAlreadyProcessedURLs(t *testing.T) {
	agent := &fakeAgent{}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{
		{URL: "https://dup.example.com", Source: "csv"},
	}}
	st := newFakeResultStore()
	st.processed["https://dup.example.com"] = true
	pipeline, _ := testPipeline([]URLSource{source}, agent, st, 10)

	summary, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalAttempted)
	assert.Empty(t, agent.calls)
}

func TestRunStopsAtSignupBudget(t *testing.T) {
	results := make(map[string]*models.SignupResult)
	var targets []models.TargetURL
	urls := []string{"https://a.test", "https://b.test", "https://c.test"}
	for _, u := range urls {
		results[u] = successResult(u)
		targets = append(targets, models.TargetURL{URL: u, Source: "csv"})
	}
	agent := &fakeAgent{results: results}
	pipeline, _ := testPipeline([]URLSource{&fakeSource{name: "csv", targets: targets}}, agent, newFakeResultStore(), 2)

	summary, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)
	assert.Len(t, agent.calls, 2)
}

func TestRunStopRequestEndsRun(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{
		{URL: "https://a.test", Source: "csv"},
		{URL: "https://b.test", Source: "csv"},
	}}
	pipeline, ctrl := testPipeline([]URLSource{source}, agent, newFakeResultStore(), 10)
	ctrl.RequestStop()

	summary, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Empty(t, agent.calls)
}

func TestRunInterruptedResultNotPersisted(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.test": {URL: "https://a.test", Status: models.StatusSkipped, Interrupted: true},
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{{URL: "https://a.test", Source: "csv"}}}
	st := newFakeResultStore()
	pipeline, _ := testPipeline([]URLSource{source}, agent, st, 10)

	summary, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Empty(t, st.added, "interrupted URLs retry on the next run")
}

func TestRunFatalLLMErrorStopsRun(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.test": {
			URL:             "https://a.test",
			Status:          models.StatusFailed,
			PrimaryCategory: models.CategoryLLMError,
			PrimaryError:    "AI planner failed: quota exceeded",
			Details:         LLMQuotaExceeded,
		},
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{
		{URL: "https://a.test", Source: "csv"},
		{URL: "https://b.test", Source: "csv"},
	}}
	pipeline, _ := testPipeline([]URLSource{source}, agent, newFakeResultStore(), 10)

	_, err := pipeline.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatalLLMError(err))
	assert.Len(t, agent.calls, 1, "no further URLs after a fatal provider error")
}

func TestRunExceptionPersistedAsError(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.test": failedResult("https://a.test", models.CategoryException),
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{{URL: "https://a.test", Source: "csv"}}}
	st := newFakeResultStore()
	pipeline, _ := testPipeline([]URLSource{source}, agent, st, 10)

	_, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, st.added, 1)
}

func TestRunMarksQueueURLsProcessed(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://q.test": successResult("https://q.test"),
	}}
	source := &fakeSource{name: "database", targets: []models.TargetURL{{URL: "https://q.test", Source: "database"}}}
	st := newFakeResultStore()
	pipeline, _ := testPipeline([]URLSource{source}, agent, st, 10)

	_, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://q.test"}, st.marked)
}

func TestRunDelayOnlySkippedForNoFormResults(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.test": {URL: "https://a.test", Status: models.StatusSkipped, PrimaryCategory: models.CategoryBlogArticle},
		"https://b.test": {URL: "https://b.test", Status: models.StatusSkipped, PrimaryCategory: models.CategoryNoForm},
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{
		{URL: "https://a.test", Source: "csv"},
		{URL: "https://b.test", Source: "csv"},
	}}
	ctrl := &StopController{}
	rng := rand.New(rand.NewSource(1))
	pipeline := NewPipelineService([]URLSource{source}, agent, &fakePlanner{}, newFakeResultStore(), ctrl, rng, 1, 1, 10, quietLogger())

	start := time.Now()
	_, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Second, "a blog-article skip keeps the pacing delay")
	assert.Less(t, elapsed, 2*time.Second, "a no-form skip moves straight to the next URL")
}

func TestStatusReflectsCounters(t *testing.T) {
	agent := &fakeAgent{results: map[string]*models.SignupResult{
		"https://a.test": successResult("https://a.test"),
	}}
	source := &fakeSource{name: "csv", targets: []models.TargetURL{{URL: "https://a.test", Source: "csv"}}}
	pipeline, _ := testPipeline([]URLSource{source}, agent, newFakeResultStore(), 10)

	before := pipeline.Status()
	assert.False(t, before.Running)
	assert.Zero(t, before.Processed)

	_, err := pipeline.Run(context.Background())
	require.NoError(t, err)

	after := pipeline.Status()
	assert.False(t, after.Running)
	assert.Equal(t, 1, after.Processed)
	assert.Equal(t, 1, after.Successful)
}
