package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

// LLM failure kinds. The fatal ones terminate the whole run.
const (
	LLMQuotaExceeded   = "quota_exceeded"
	LLMInvalidAPIKey   = "invalid_api_key"
	LLMAccessDenied    = "api_access_denied"
	LLMRateLimited     = "rate_limit_exceeded"
	LLMTimeout         = "timeout"
	LLMBadResponse     = "bad_response"
	LLMTransportFailed = "api_error"
)

const (
	llmCallTimeout    = 60 * time.Second
	llmMaxRateRetries = 3
)

// LLMError is a classified planner failure
type LLMError struct {
	Kind    string
	Message string
	Fatal   bool
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

// IsFatalLLMError reports whether the error must terminate the run
func IsFatalLLMError(err error) bool {
	var le *LLMError
	return errors.As(err, &le) && le.Fatal
}

// LLMFailureKind extracts the failure kind, or "" for non-LLM errors
func LLMFailureKind(err error) string {
	var le *LLMError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// ChatClient is the narrow slice of the OpenAI client the planner uses.
// *openai.Client satisfies it; tests inject fakes.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// PlannerService drives the three LLM operations: stepwise next action,
// batch planning and post-submit verification.
type PlannerService struct {
	client      ChatClient
	model       string
	credentials CredentialServiceInterface
	cache       CacheServiceInterface
	tracker     *CostTracker
	logger      *logrus.Logger
}

// NewPlannerService creates a new planner service
func NewPlannerService(client ChatClient, model string, credentials CredentialServiceInterface,
	cache CacheServiceInterface, tracker *CostTracker, logger *logrus.Logger) PlannerServiceInterface {
	return &PlannerService{
		client:      client,
		model:       model,
		credentials: credentials,
		cache:       cache,
		tracker:     tracker,
		logger:      logger,
	}
}

// CostSummary returns the accumulated API spend
func (p *PlannerService) CostSummary() models.CostSummary {
	return p.tracker.Summary()
}

// NextAction plans a single next action from the page state
func (p *PlannerService) NextAction(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState, screenshot []byte) (*models.Action, error) {
	prompt := buildStepwisePrompt(snap, state, p.credentials.Credentials())

	content, err := p.chat(ctx, stepwiseSystemPrompt, prompt, screenshot)
	if err != nil {
		return nil, err
	}

	var action models.Action
	if err := unmarshalJSONObject(content, &action); err != nil {
		p.logger.WithError(err).WithField("content", utils.Truncate(content, 200)).Warn("Unparseable planner response, waiting")
		return &models.Action{Kind: models.ActionWait, Value: "2", Reasoning: "planner response was not parseable"}, nil
	}
	if action.Kind == "" {
		action.Kind = models.ActionWait
		action.Value = "2"
	}

	return p.adjustAction(&action, snap, state), nil
}

// countryClickPattern catches attempts to open country or dial code dropdowns
var countryClickPattern = regexp.MustCompile(`(?i)country|dial[-_ ]?code|flag|selected-flag|\+\d{1,3}\b`)

// adjustAction rewrites planner output the agent refuses to execute as-is:
// country dropdown interactions become phone fills, and values are resolved
// from credentials.
func (p *PlannerService) adjustAction(action *models.Action, snap *models.PageSnapshot, state *models.AgentState) *models.Action {
	if action.Kind == models.ActionFillField && strings.EqualFold(action.FieldType, "country_code") {
		state.CountryCodeAttempts++
		return &models.Action{Kind: models.ActionWait, Value: "1", Reasoning: "country selector is handled by phone generation, not filled"}
	}

	if action.Kind == models.ActionClick && countryClickPattern.MatchString(action.Selector+" "+action.Reasoning) {
		state.CountryCodeAttempts++
		if state.CountryCodeAttempts >= 2 {
			if phone := unfilledPhoneInput(snap, state); phone != nil {
				state.PhoneFallbackUsed = true
				fallback := &models.Action{
					Kind:               models.ActionFillField,
					Selector:           phone.Selector,
					FieldType:          "phone",
					UsePhoneNumberOnly: true,
					Reasoning:          "country dropdown loop detected, filling phone directly",
				}
				p.resolveValue(fallback, snap, state)
				return fallback
			}
		}
	}

	if action.Kind == models.ActionFillField {
		p.resolveValue(action, snap, state)
	}
	return action
}

// resolveValue fills in the concrete value for a planned fill action
func (p *PlannerService) resolveValue(action *models.Action, snap *models.PageSnapshot, state *models.AgentState) {
	var input *models.InputInfo
	if in, ok := snap.InputBySelector(action.Selector); ok {
		input = &in
	}

	if action.FieldType == "" && input != nil {
		action.FieldType = DetectFieldType(*input)
	}

	switch strings.ToLower(action.FieldType) {
	case "phone":
		dial := state.DetectedCountryCode
		if dial == "" {
			dial = p.credentials.Credentials().CountryCode
		}
		phone := p.credentials.GeneratePhone(dial)
		action.Value = phone.Value(action.UsePhoneNumberOnly)
	case "checkbox":
		action.Value = "true"
	default:
		if action.Value == "" {
			action.Value = p.credentials.Resolve(action.FieldType, input)
		}
	}
}

func unfilledPhoneInput(snap *models.PageSnapshot, state *models.AgentState) *models.InputInfo {
	for _, in := range snap.Inputs {
		if in.Kind != "tel" && DetectFieldType(in) != "phone" {
			continue
		}
		if !in.Visible && !in.HiddenSrOnly {
			continue
		}
		if _, filled := state.FieldsFilled[in.Selector]; filled {
			continue
		}
		copied := in
		return &copied
	}
	return nil
}

// batchPlanResponse is the JSON shape of the batch planning call
type batchPlanResponse struct {
	Actions   []models.Action `json:"actions"`
	Reasoning string          `json:"reasoning"`
}

// PlanActions plans a batch of actions for a fresh form. Pages with no
// fillable signup markup never reach the model.
func (p *PlannerService) PlanActions(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState) ([]models.Action, error) {
	html := snap.SimplifiedHTML
	if html == "" {
		html = SimplifyHTML(snap.HTML)
	}

	if reason := batchSkipReason(html, snap); reason != "" {
		p.logger.WithField("reason", reason).Debug("Batch planning skipped without LLM call")
		return []models.Action{{Kind: models.ActionComplete, Reasoning: reason}}, nil
	}

	cacheKey := CacheKeyPlan(p.model, html)
	if cached, err := p.cache.Get(ctx, cacheKey); err == nil {
		var actions []models.Action
		if json.Unmarshal([]byte(cached), &actions) == nil && len(actions) > 0 {
			p.logger.WithField("actions", len(actions)).Debug("Batch plan served from cache")
			return p.finishPlan(actions, snap, state), nil
		}
	}

	prompt := buildBatchPrompt(html, snap.URL, p.credentials.Credentials())
	content, err := p.chat(ctx, batchSystemPrompt, prompt, nil)
	if err != nil {
		return nil, err
	}

	var resp batchPlanResponse
	if err := unmarshalJSONObject(content, &resp); err != nil {
		return nil, &LLMError{Kind: LLMBadResponse, Message: "batch plan was not parseable JSON"}
	}

	actions := filterPlannableActions(resp.Actions)
	if len(actions) == 0 {
		return []models.Action{{Kind: models.ActionComplete, Reasoning: "planner returned no executable actions"}}, nil
	}

	if data, err := json.Marshal(actions); err == nil {
		if err := p.cache.Set(ctx, cacheKey, string(data)); err != nil {
			p.logger.WithError(err).Debug("Failed to cache batch plan")
		}
	}
	return p.finishPlan(actions, snap, state), nil
}

// finishPlan validates planned selectors against the page and resolves values
func (p *PlannerService) finishPlan(actions []models.Action, snap *models.PageSnapshot, state *models.AgentState) []models.Action {
	valid, rejected := ValidateActions(actions, snap.HTML)
	for _, sel := range rejected {
		state.BlockSelector(sel)
		p.logger.WithField("selector", sel).Warn("Dropped hallucinated selector from batch plan")
	}
	for i := range valid {
		if valid[i].Kind == models.ActionFillField {
			p.resolveValue(&valid[i], snap, state)
		}
	}
	return valid
}

// batchSkipReason decides whether the page can be rejected without spending
// an LLM call. Returns "" when a real plan is needed.
func batchSkipReason(html string, snap *models.PageSnapshot) string {
	if len(html) < 50 {
		return "page has no form markup"
	}

	fillable := 0
	searchLike := 0
	for _, in := range snap.Inputs {
		if !in.Visible && !in.HiddenSrOnly {
			continue
		}
		switch in.Kind {
		case "email", "text", "tel", "password", "textarea":
		default:
			if !strings.Contains(strings.ToLower(in.Name+in.Placeholder), "email") {
				continue
			}
		}
		fillable++
		meta := strings.ToLower(in.Name + " " + in.Placeholder + " " + in.Label)
		if strings.Contains(meta, "search") || in.Name == "q" || in.Name == "s" {
			searchLike++
		}
	}

	if fillable == 0 {
		return "no signup form on this page"
	}
	if fillable == searchLike {
		return "only a search form on this page"
	}
	return ""
}

func filterPlannableActions(actions []models.Action) []models.Action {
	var out []models.Action
	for _, a := range actions {
		switch a.Kind {
		case models.ActionFillField, models.ActionClick, models.ActionComplete:
			out = append(out, a)
		}
	}
	return out
}

// Verify asks the model whether the signup flow completed after a submit
func (p *PlannerService) Verify(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState, networkSuccess bool) (*models.Verification, error) {
	if len(snap.SimplifiedHTML) < 50 && len(strings.TrimSpace(snap.VisibleText)) < 50 {
		// Near-empty page after submit usually means a bare confirmation.
		return &models.Verification{Status: models.VerifySuccess, Confidence: 0.5, Reason: "page emptied after submit"}, nil
	}

	verdict, err := p.verifyOnce(ctx, snap, state, networkSuccess, "")
	if err != nil {
		return nil, err
	}

	if verdict.Status == models.VerifyNeedsMore {
		valid, rejected := ValidateActions(verdict.NextActions, snap.HTML)
		if len(rejected) > 0 {
			for _, sel := range rejected {
				state.BlockSelector(sel)
			}
			reason := fmt.Sprintf("these selectors do not exist on the page: %s", strings.Join(rejected, ", "))
			retried, err := p.verifyOnce(ctx, snap, state, networkSuccess, reason)
			if err == nil {
				valid, _ = ValidateActions(retried.NextActions, snap.HTML)
				retried.NextActions = valid
				verdict = retried
			}
		}
		verdict.NextActions = valid
		for i := range verdict.NextActions {
			if verdict.NextActions[i].Kind == models.ActionFillField {
				p.resolveValue(&verdict.NextActions[i], snap, state)
			}
		}
		if len(verdict.NextActions) == 0 {
			verdict.Status = models.VerifyFailed
			verdict.Reason = "verifier requested more actions but provided none that exist"
		}
	}
	return verdict, nil
}

func (p *PlannerService) verifyOnce(ctx context.Context, snap *models.PageSnapshot, state *models.AgentState, networkSuccess bool, retryReason string) (*models.Verification, error) {
	prompt := buildVerifyPrompt(snap, state, p.credentials.Credentials(), networkSuccess, retryReason)

	content, err := p.chat(ctx, verifySystemPrompt, prompt, nil)
	if err != nil {
		return nil, err
	}

	var verdict models.Verification
	if err := unmarshalJSONObject(content, &verdict); err != nil {
		return nil, &LLMError{Kind: LLMBadResponse, Message: "verifier response was not parseable JSON"}
	}
	switch verdict.Status {
	case models.VerifySuccess, models.VerifyNeedsMore, models.VerifyValidationError, models.VerifyFailed:
	default:
		verdict.Status = models.VerifyFailed
		verdict.Reason = "verifier returned unknown status"
	}
	return &verdict, nil
}

// chat performs one chat completion with rate-limit retries and cost tracking
func (p *PlannerService) chat(ctx context.Context, system, user string, screenshot []byte) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	if screenshot != nil {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: user},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(screenshot),
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	}

	request := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   1000,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr *LLMError
	for attempt := 0; attempt <= llmMaxRateRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		resp, err := p.client.CreateChatCompletion(callCtx, request)
		cancel()

		if err == nil {
			p.tracker.RecordUsage(p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			if len(resp.Choices) == 0 {
				return "", &LLMError{Kind: LLMBadResponse, Message: "response contained no choices"}
			}
			return resp.Choices[0].Message.Content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		llmErr := classifyLLMError(err)
		if llmErr.Kind != LLMRateLimited || attempt == llmMaxRateRetries {
			return "", llmErr
		}
		lastErr = llmErr

		backoff := retryAfterHint(llmErr.Message)
		if backoff == 0 {
			backoff = time.Duration(10*(attempt+1)) * time.Second
		}
		p.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("LLM rate limited, backing off")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

// classifyLLMError maps transport errors to the planner failure taxonomy
func classifyLLMError(err error) *LLMError {
	status := 0
	message := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	} else if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
		message = reqErr.Error()
	}

	switch status {
	case 401:
		return &LLMError{Kind: LLMInvalidAPIKey, Message: message, Fatal: true}
	case 403:
		return &LLMError{Kind: LLMAccessDenied, Message: message, Fatal: true}
	case 429:
		lower := strings.ToLower(message)
		if strings.Contains(lower, "exceeded your current quota") || strings.Contains(lower, "billing") {
			return &LLMError{Kind: LLMQuotaExceeded, Message: message, Fatal: true}
		}
		return &LLMError{Kind: LLMRateLimited, Message: message}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &LLMError{Kind: LLMTimeout, Message: "LLM call timed out"}
	}
	return &LLMError{Kind: LLMTransportFailed, Message: utils.Truncate(message, 200)}
}

// retryAfterPattern parses server hints like "Please try again in 6s" or "in 1m2s"
var retryAfterPattern = regexp.MustCompile(`try again in (?:(\d+)m)?(?:([\d.]+)s)?`)

func retryAfterHint(message string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return 0
	}
	var total time.Duration
	if m[1] != "" {
		if minutes, err := strconv.Atoi(m[1]); err == nil {
			total += time.Duration(minutes) * time.Minute
		}
	}
	if m[2] != "" {
		if seconds, err := strconv.ParseFloat(m[2], 64); err == nil {
			total += time.Duration(seconds * float64(time.Second))
		}
	}
	if total > 0 {
		// Padding keeps us clear of the limiter window.
		total += 2 * time.Second
	}
	return total
}

// unmarshalJSONObject parses content as JSON, slicing to the outermost braces
// when the model wrapped the object in prose.
func unmarshalJSONObject(content string, out interface{}) error {
	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), out)
}
