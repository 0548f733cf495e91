package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// attachedEval answers the executor's DOM probes: everything is attached,
// pages are fully loaded, and form resolution finds nothing.
func attachedEval(script string, out interface{}) error {
	switch v := out.(type) {
	case *bool:
		*v = true
	case *int:
		*v = 500
	}
	return nil
}

func executorSnapshot() *models.PageSnapshot {
	return &models.PageSnapshot{
		URL: "https://example.com/signup",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Name: "email", Visible: true},
			{Kind: "tel", Selector: "#phone", Name: "phone", Visible: true},
			{Kind: "checkbox", Selector: "#terms", Name: "terms", Visible: false, WrappedInLabel: true},
		},
		Buttons: []models.ButtonInfo{
			{Text: "Sign Up", Selector: "#submit", IsLikelySubmit: true},
			{Text: "Learn More", Selector: "#learn", IsCTA: true},
		},
		Forms: []models.FormInfo{{ID: "f1", Selector: "form"}},
	}
}

func TestExecuteFillRecordsState(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	session.evalFn = attachedEval
	state := models.NewAgentState("u")

	action := models.Action{Kind: models.ActionFillField, Selector: "#email", FieldType: "email", Value: "jane@example.com"}
	err := executor.Execute(context.Background(), session, action, executorSnapshot(), state)
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", session.sentKeys["#email"])
	assert.Equal(t, "jane@example.com", state.FieldsFilled["#email"])
	assert.Equal(t, "#email", state.FieldTypesFilled["email"])
}

func TestFillTextAcceptsPhoneMaskReformat(t *testing.T) {
	executor := NewExecutorService(quietLogger()).(*ExecutorService)
	session := newFakeSession()
	session.evalFn = attachedEval
	session.fieldValueFn = func(string) (string, error) { return "(555) 123-4567", nil }

	err := executor.fillText(context.Background(), session, "#phone", "5551234567", "phone", "phone")
	assert.NoError(t, err)
}

func TestFillTextRejectsLostValue(t *testing.T) {
	executor := NewExecutorService(quietLogger()).(*ExecutorService)
	session := newFakeSession()
	session.evalFn = attachedEval
	session.fieldValueFn = func(string) (string, error) { return "", nil }

	err := executor.fillText(context.Background(), session, "#email", "jane@example.com", "email", "email")
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, models.CategoryValidation, ee.Category)
}

func TestValueMatches(t *testing.T) {
	assert.True(t, valueMatches("same", "same", "email"))
	assert.False(t, valueMatches("other", "same", "email"))
	assert.True(t, valueMatches("555-123-4567", "5551234567", "phone"))
	assert.True(t, valueMatches("+1 (555) 123-4567", "5551234567", "phone"))
	assert.False(t, valueMatches("", "5551234567", "phone"))
}

func TestSetCheckboxFallsThroughStrategies(t *testing.T) {
	executor := NewExecutorService(quietLogger()).(*ExecutorService)
	session := newFakeSession()

	calls := 0
	session.evalFn = func(script string, out interface{}) error {
		if v, ok := out.(*bool); ok {
			if strings.Contains(script, "closest('label')") {
				calls++
				*v = false // enclosing label missing
				return nil
			}
			if strings.Contains(script, "label[for=") {
				calls++
				*v = true // paired label works
				return nil
			}
			*v = true
		}
		return nil
	}

	input := models.InputInfo{Kind: "checkbox", Selector: "#terms", Visible: false}
	err := executor.setCheckbox(context.Background(), session, "#terms", input, "terms checkbox")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClickRealSubmitLatchesState(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	session.url = "https://example.com/signup"
	session.evalFn = attachedEval
	session.network = []models.NetworkEvent{{Method: "POST", Status: 200}}

	state := models.NewAgentState("u")
	state.NoteFill("#email", "jane@example.com", "email")

	action := models.Action{Kind: models.ActionClick, Selector: "#submit", Reasoning: "submit the signup form"}
	err := executor.Execute(context.Background(), session, action, executorSnapshot(), state)
	require.NoError(t, err)

	assert.True(t, state.FormSubmitted)
	assert.Equal(t, 1, state.SubmitAttempts)
	assert.Equal(t, "https://example.com/signup", state.URLBeforeSubmit)
	assert.Equal(t, 1, state.ClickAttemptsAfterFill)
	assert.Empty(t, session.NetworkLog(), "network log cleared before a real submit")
}

func TestClickCTABeforeFillIsNotSubmit(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	session.url = "https://example.com"
	session.evalFn = attachedEval

	state := models.NewAgentState("u")
	action := models.Action{Kind: models.ActionClick, Selector: "#learn", Reasoning: "explore the page"}
	err := executor.Execute(context.Background(), session, action, executorSnapshot(), state)
	require.NoError(t, err)

	assert.False(t, state.FormSubmitted)
	assert.Zero(t, state.SubmitAttempts)
	assert.Zero(t, state.ClickAttemptsAfterFill)
}

func TestClickPrefersActiveFormSubmitSelector(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	session.url = "https://example.com/signup"
	session.evalFn = attachedEval

	state := models.NewAgentState("u")
	state.NoteFill("#email", "jane@example.com", "email")
	state.SetActiveForm("f1", "#f1", "#real-submit")

	action := models.Action{Kind: models.ActionClick, Selector: "#submit", Reasoning: "submit signup"}
	err := executor.Execute(context.Background(), session, action, executorSnapshot(), state)
	require.NoError(t, err)
	require.NotEmpty(t, session.clicks)
	assert.Equal(t, "#real-submit", session.clicks[0])
}

func TestClickTextSelectorFallback(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	session.url = "https://example.com"
	session.evalFn = attachedEval

	state := models.NewAgentState("u")
	action := models.Action{Kind: models.ActionClick, Selector: "button:has-text('Subscribe')"}
	err := executor.Execute(context.Background(), session, action, executorSnapshot(), state)
	require.NoError(t, err)
	assert.Contains(t, session.clicks, "text:Subscribe")
}

func TestDismissOverlayPrefersCloseSelector(t *testing.T) {
	executor := NewExecutorService(quietLogger()).(*ExecutorService)
	session := newFakeSession()

	overlay := models.OverlayInfo{Present: true, CloseSelector: ".newsletter-close"}
	err := executor.DismissOverlay(context.Background(), session, overlay)
	require.NoError(t, err)
	assert.Equal(t, []string{".newsletter-close"}, session.jsClicks)
	assert.Zero(t, session.escapes)
}

func TestSimplifiedClassSelector(t *testing.T) {
	assert.Equal(t, "button.btn", simplifiedClassSelector("button.btn.btn-primary.large"))
	assert.Equal(t, "", simplifiedClassSelector("button.btn"))
	assert.Equal(t, "", simplifiedClassSelector("#submit"))
	assert.Equal(t, "", simplifiedClassSelector("button[type='submit']"))
}

func TestWaitCapsAtTenSeconds(t *testing.T) {
	executor := NewExecutorService(quietLogger())
	session := newFakeSession()
	state := models.NewAgentState("u")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // no real sleeping in tests

	err := executor.Execute(ctx, session, models.Action{Kind: models.ActionWait, Value: "9999"}, executorSnapshot(), state)
	assert.NoError(t, err)
}
