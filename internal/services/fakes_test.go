package services

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/store"
)

// fakeSession is a scriptable PageSession for executor and agent tests.
type fakeSession struct {
	url    string
	title  string
	html   string
	values map[string]string

	clicks       []string
	jsClicks     []string
	sentKeys     map[string]string
	escapes      int
	scrolls      []float64
	mouseX       []float64
	mouseY       []float64
	network      []models.NetworkEvent
	evalFn       func(script string, out interface{}) error
	fieldValueFn func(selector string) (string, error)
	failClick    map[string]bool
	closed       bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		values:    make(map[string]string),
		sentKeys:  make(map[string]string),
		failClick: make(map[string]bool),
	}
}

func (f *fakeSession) Navigate(ctx context.Context, url string) (*models.NavigationResult, error) {
	f.url = url
	return &models.NavigationResult{OK: true}, nil
}

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeSession) Title(ctx context.Context) (string, error)     { return f.title, nil }
func (f *fakeSession) HTML(ctx context.Context) (string, error)      { return f.html, nil }

func (f *fakeSession) Evaluate(ctx context.Context, script string, out interface{}) error {
	if f.evalFn != nil {
		return f.evalFn(script, out)
	}
	return nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	if f.failClick[selector] {
		return fmt.Errorf("click failed for %s", selector)
	}
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeSession) ClickByText(ctx context.Context, text string) error {
	f.clicks = append(f.clicks, "text:"+text)
	return nil
}

func (f *fakeSession) JSClick(ctx context.Context, selector string) error {
	f.jsClicks = append(f.jsClicks, selector)
	return nil
}

func (f *fakeSession) MouseClickXY(ctx context.Context, x, y float64) error {
	f.mouseX = append(f.mouseX, x)
	f.mouseY = append(f.mouseY, y)
	return nil
}

func (f *fakeSession) SendKeys(ctx context.Context, selector, value string) error {
	f.sentKeys[selector] = value
	f.values[selector] = value
	return nil
}

func (f *fakeSession) SetValueJS(ctx context.Context, selector, value string) error {
	f.values[selector] = value
	return nil
}

func (f *fakeSession) FieldValue(ctx context.Context, selector string) (string, error) {
	if f.fieldValueFn != nil {
		return f.fieldValueFn(selector)
	}
	return f.values[selector], nil
}

func (f *fakeSession) PressEscape(ctx context.Context) error {
	f.escapes++
	return nil
}

func (f *fakeSession) ScrollBy(ctx context.Context, pixels float64) error {
	f.scrolls = append(f.scrolls, pixels)
	return nil
}

func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("jpeg"), nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeSession) WaitNetworkIdle(ctx context.Context, quiet, max time.Duration) error {
	return nil
}

func (f *fakeSession) NetworkLog() []models.NetworkEvent { return f.network }
func (f *fakeSession) ClearNetworkLog()                  { f.network = nil }
func (f *fakeSession) Close() error                      { f.closed = true; return nil }

// fakeChat scripts the OpenAI client for planner tests. Responses and
// errors are consumed in order; the last entry repeats.
type fakeChat struct {
	responses []string
	errs      []error
	requests  []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1

	if idx < len(f.errs) && f.errs[idx] != nil {
		return openai.ChatCompletionResponse{}, f.errs[idx]
	}

	content := ""
	if len(f.responses) > 0 {
		if idx >= len(f.responses) {
			idx = len(f.responses) - 1
		}
		content = f.responses[idx]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 20},
	}, nil
}

// fakeSource yields a fixed list of targets.
type fakeSource struct {
	name    string
	targets []models.TargetURL
	pos     int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Next(ctx context.Context) (*models.TargetURL, error) {
	if f.pos >= len(f.targets) {
		return nil, nil
	}
	t := f.targets[f.pos]
	f.pos++
	return &t, nil
}

// fakeAgent returns scripted results per URL.
type fakeAgent struct {
	results map[string]*models.SignupResult
	calls   []string
}

func (f *fakeAgent) ProcessURL(ctx context.Context, target models.TargetURL) *models.SignupResult {
	f.calls = append(f.calls, target.URL)
	if r, ok := f.results[target.URL]; ok {
		return r
	}
	return &models.SignupResult{URL: target.URL, Status: models.StatusSkipped, PrimaryCategory: models.CategoryNoForm}
}

// fakePlanner scripts planner behaviour for agent and pipeline tests.
// NextAction walks seq in order, repeating the final entry.
type fakePlanner struct {
	seq    []*models.Action
	pos    int
	nextEr error
	batch  []models.Action
	verify *models.Verification
}

func (f *fakePlanner) NextAction(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState, screenshot []byte) (*models.Action, error) {
	if f.nextEr != nil {
		return nil, f.nextEr
	}
	if len(f.seq) == 0 {
		return &models.Action{Kind: models.ActionWait, Value: "0"}, nil
	}
	idx := f.pos
	if idx >= len(f.seq) {
		idx = len(f.seq) - 1
	} else {
		f.pos++
	}
	return f.seq[idx], nil
}

func (f *fakePlanner) PlanActions(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState) ([]models.Action, error) {
	return f.batch, nil
}

func (f *fakePlanner) Verify(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState, networkSuccess bool) (*models.Verification, error) {
	if f.verify == nil {
		return &models.Verification{Status: models.VerifyFailed}, nil
	}
	return f.verify, nil
}

func (f *fakePlanner) CostSummary() models.CostSummary {
	return models.CostSummary{SessionStart: time.Now()}
}

// fakeResultStore records pipeline persistence calls in memory.
type fakeResultStore struct {
	processed map[string]bool
	added     []string
	marked    []string
	costSaves int
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{processed: make(map[string]bool)}
}

func (f *fakeResultStore) IsURLProcessed(url string) (bool, error) {
	return f.processed[url], nil
}

func (f *fakeResultStore) AddProcessedURL(rec store.ProcessedURL) error {
	f.added = append(f.added, rec.URL)
	f.processed[rec.URL] = true
	return nil
}

func (f *fakeResultStore) MarkURLProcessed(url string) error {
	f.marked = append(f.marked, url)
	return nil
}

func (f *fakeResultStore) SaveAPISessionCosts(summary models.CostSummary) error {
	f.costSaves++
	return nil
}
