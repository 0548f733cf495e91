package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxhunter/signup-agent/internal/models"
)

func testPlanner(chat ChatClient) (*PlannerService, *CostTracker) {
	logger := quietLogger()
	creds := NewCredentialService(models.Credentials{
		Email:       "jane@example.com",
		FirstName:   "Jane",
		LastName:    "Doe",
		FullName:    "Jane Doe",
		Phone:       "5551234567",
		CountryCode: "1",
	}, rand.New(rand.NewSource(1)), logger)
	tracker := NewCostTracker(logger)
	cache := NewCacheService(nil, time.Hour, logger)
	planner := NewPlannerService(chat, "gpt-4o-mini", creds, cache, tracker, logger).(*PlannerService)
	return planner, tracker
}

func signupSnapshot() *models.PageSnapshot {
	return &models.PageSnapshot{
		URL:  "https://example.com/signup",
		HTML: `<html><body><form><input id="email" name="email" type="email" placeholder="Email"><input id="phone" name="phone" type="tel"><button type="submit">Sign Up</button></form></body></html>`,
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Name: "email", Placeholder: "Email", Visible: true},
			{Kind: "tel", Selector: "#phone", Name: "phone", Visible: true},
		},
		Buttons: []models.ButtonInfo{
			{Text: "Sign Up", Selector: "button[type='submit']", IsLikelySubmit: true},
		},
		Forms: []models.FormInfo{{ID: "f1", Selector: "form"}},
	}
}

func TestNextActionResolvesCredentialValue(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"action":"fill_field","selector":"#email","field_type":"email","reasoning":"fill the email"}`,
	}}
	planner, tracker := testPlanner(chat)

	action, err := planner.NextAction(context.Background(), signupSnapshot(), models.NewAgentState("u"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFillField, action.Kind)
	assert.Equal(t, "jane@example.com", action.Value)
	assert.Equal(t, 1, tracker.Summary().TotalCalls)
}

func TestNextActionFallsBackToWaitOnGarbage(t *testing.T) {
	chat := &fakeChat{responses: []string{"I think you should click something."}}
	planner, _ := testPlanner(chat)

	action, err := planner.NextAction(context.Background(), signupSnapshot(), models.NewAgentState("u"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWait, action.Kind)
}

func TestNextActionRewritesCountryCodeFill(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"action":"fill_field","selector":"#dial","field_type":"country_code","value":"+92"}`,
	}}
	planner, _ := testPlanner(chat)
	state := models.NewAgentState("u")

	action, err := planner.NextAction(context.Background(), signupSnapshot(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWait, action.Kind)
	assert.Equal(t, 1, state.CountryCodeAttempts)
}

func TestNextActionPhoneFallbackAfterCountryClicks(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"action":"click","selector":".selected-flag","reasoning":"open country dropdown"}`,
		`{"action":"click","selector":".selected-flag","reasoning":"open country dropdown"}`,
	}}
	planner, _ := testPlanner(chat)
	state := models.NewAgentState("u")

	first, err := planner.NextAction(context.Background(), signupSnapshot(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClick, first.Kind)

	second, err := planner.NextAction(context.Background(), signupSnapshot(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFillField, second.Kind)
	assert.Equal(t, "#phone", second.Selector)
	assert.True(t, second.UsePhoneNumberOnly)
	assert.True(t, state.PhoneFallbackUsed)
	assert.NotEmpty(t, second.Value)
}

func TestNextActionScreenshotBecomesImagePart(t *testing.T) {
	chat := &fakeChat{responses: []string{`{"action":"wait","value":"1"}`}}
	planner, _ := testPlanner(chat)

	_, err := planner.NextAction(context.Background(), signupSnapshot(), models.NewAgentState("u"), []byte{0xff, 0xd8})
	require.NoError(t, err)
	require.Len(t, chat.requests, 1)

	userMsg := chat.requests[0].Messages[1]
	require.Len(t, userMsg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, userMsg.MultiContent[1].Type)
	assert.Contains(t, userMsg.MultiContent[1].ImageURL.URL, "data:image/jpeg;base64,")
}

func TestPlanActionsSkipsPagesWithoutForms(t *testing.T) {
	chat := &fakeChat{}
	planner, _ := testPlanner(chat)

	snap := &models.PageSnapshot{URL: "https://example.com", HTML: "<html><body></body></html>"}
	actions, err := planner.PlanActions(context.Background(), snap, models.NewAgentState("u"))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionComplete, actions[0].Kind)
	assert.Empty(t, chat.requests, "no LLM call for an empty page")
}

func TestPlanActionsSkipsSearchOnlyForms(t *testing.T) {
	chat := &fakeChat{}
	planner, _ := testPlanner(chat)

	snap := &models.PageSnapshot{
		URL:  "https://example.com",
		HTML: `<html><body><form role="search"><input type="text" name="q" placeholder="Search products and articles"></form></body></html>`,
		Inputs: []models.InputInfo{
			{Kind: "text", Selector: "input[name='q']", Name: "q", Placeholder: "Search products and articles", Visible: true},
		},
	}
	actions, err := planner.PlanActions(context.Background(), snap, models.NewAgentState("u"))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionComplete, actions[0].Kind)
	assert.Empty(t, chat.requests)
}

func TestPlanActionsDropsHallucinatedSelectors(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"actions":[
			{"action":"fill_field","selector":"#email","field_type":"email"},
			{"action":"fill_field","selector":"#ghost-field","field_type":"name"},
			{"action":"click","selector":"button[type='submit']"}
		]}`,
	}}
	planner, _ := testPlanner(chat)
	state := models.NewAgentState("u")

	actions, err := planner.PlanActions(context.Background(), signupSnapshot(), state)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "#email", actions[0].Selector)
	assert.Equal(t, "jane@example.com", actions[0].Value)
	assert.True(t, state.IsBlocked("#ghost-field"))
}

func TestPlanActionsServedFromCacheOnSecondCall(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"actions":[{"action":"fill_field","selector":"#email","field_type":"email"}]}`,
	}}
	planner, _ := testPlanner(chat)

	_, err := planner.PlanActions(context.Background(), signupSnapshot(), models.NewAgentState("a"))
	require.NoError(t, err)
	_, err = planner.PlanActions(context.Background(), signupSnapshot(), models.NewAgentState("b"))
	require.NoError(t, err)
	assert.Len(t, chat.requests, 1, "identical form should hit the plan cache")
}

func TestVerifyRetriesOnHallucinatedNextActions(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`{"status":"needs_more_actions","next_actions":[{"action":"click","selector":"#ghost-btn"}]}`,
		`{"status":"needs_more_actions","next_actions":[{"action":"click","selector":"button[type='submit']"}]}`,
	}}
	planner, _ := testPlanner(chat)
	state := models.NewAgentState("u")
	state.NoteSubmit("u", 1)

	verdict, err := planner.Verify(context.Background(), signupSnapshot(), state, false)
	require.NoError(t, err)
	assert.Equal(t, models.VerifyNeedsMore, verdict.Status)
	require.Len(t, verdict.NextActions, 1)
	assert.Equal(t, "button[type='submit']", verdict.NextActions[0].Selector)
	assert.Len(t, chat.requests, 2)
	assert.True(t, state.IsBlocked("#ghost-btn"))
}

func TestVerifyEmptyPageShortCircuits(t *testing.T) {
	chat := &fakeChat{}
	planner, _ := testPlanner(chat)

	snap := &models.PageSnapshot{URL: "u", VisibleText: "ok"}
	verdict, err := planner.Verify(context.Background(), snap, models.NewAgentState("u"), true)
	require.NoError(t, err)
	assert.Equal(t, models.VerifySuccess, verdict.Status)
	assert.Empty(t, chat.requests)
}

func TestClassifyLLMErrorFatalKinds(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		kind  string
		fatal bool
	}{
		{"invalid key", &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"}, LLMInvalidAPIKey, true},
		{"access denied", &openai.APIError{HTTPStatusCode: 403, Message: "Project does not have access"}, LLMAccessDenied, true},
		{"quota", &openai.APIError{HTTPStatusCode: 429, Message: "You exceeded your current quota"}, LLMQuotaExceeded, true},
		{"rate limit", &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached. Please try again in 6s."}, LLMRateLimited, false},
		{"timeout", context.DeadlineExceeded, LLMTimeout, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llmErr := classifyLLMError(tc.err)
			assert.Equal(t, tc.kind, llmErr.Kind)
			assert.Equal(t, tc.fatal, llmErr.Fatal)
			assert.Equal(t, tc.fatal, IsFatalLLMError(llmErr))
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	assert.Equal(t, 8*time.Second, retryAfterHint("Rate limit reached. Please try again in 6s."))
	assert.Equal(t, time.Minute+4*time.Second, retryAfterHint("please try again in 1m2s"))
	assert.Equal(t, time.Duration(0), retryAfterHint("rate limit reached"))
}

func TestChatRetriesRateLimitThenSucceeds(t *testing.T) {
	chat := &fakeChat{
		errs: []error{
			&openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached. Please try again in 0.01s."},
			nil,
		},
		responses: []string{"", `{"action":"wait","value":"1"}`},
	}
	planner, _ := testPlanner(chat)

	action, err := planner.NextAction(context.Background(), signupSnapshot(), models.NewAgentState("u"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWait, action.Kind)
	assert.Len(t, chat.requests, 2)
}

func TestUnmarshalJSONObjectSlicesProse(t *testing.T) {
	var action models.Action
	err := unmarshalJSONObject("Here is the plan: {\"action\":\"click\",\"selector\":\"#go\"} hope that helps", &action)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClick, action.Kind)
}
