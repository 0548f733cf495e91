package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

// Loop trigger thresholds.
const (
	errorRepeatTrigger  = 3
	patternLoopWindow   = 4
	submitLoopTrigger   = 4
	maxSelectorFailures = 3
)

// ErrHallucinatedSelector marks actions whose selector does not exist in the
// observed DOM. The agent skips these without counting a hard failure.
var ErrHallucinatedSelector = errors.New("selector does not exist on the page")

// ErrAlreadyFilled marks fill actions targeting a field that already holds
// the same value.
var ErrAlreadyFilled = errors.New("field already filled")

// closeButtonHints flag selectors that look like modal close buttons.
var closeButtonHints = []string{"close", "dismiss", "modal", "×", "&times;", "xmark"}

// captchaErrorHints tie repeated errors back to an unsolved challenge.
var captchaErrorHints = []string{"captcha", "recaptcha", "hcaptcha", "robot", "human verification"}

// GuardService protects the agent loop from hallucinated selectors and
// no-progress spirals.
type GuardService struct {
	logger *logrus.Logger
}

// NewGuardService creates a new guard service
func NewGuardService(logger *logrus.Logger) GuardServiceInterface {
	return &GuardService{logger: logger}
}

// ValidateAction rejects actions referencing selectors absent from the page.
// Rejected selectors enter the blocklist so the planner never retries them.
func (g *GuardService) ValidateAction(action *models.Action, snap *models.PageSnapshot, state *models.AgentState) error {
	if action.Kind != models.ActionFillField && action.Kind != models.ActionClick {
		return nil
	}
	if action.Selector == "" {
		return fmt.Errorf("%s action without a selector", action.Kind)
	}

	if state.IsBlocked(action.Selector) {
		return fmt.Errorf("selector %s: %w", action.Selector, ErrHallucinatedSelector)
	}

	if action.Kind == models.ActionFillField {
		if prev, ok := state.FieldsFilled[action.Selector]; ok && prev == action.Value {
			return fmt.Errorf("selector %s: %w", action.Selector, ErrAlreadyFilled)
		}
	}

	// After a submit the oracle owns overlay dismissal. A planner click on a
	// close button there is treated as a hallucination no matter what the
	// DOM says.
	if action.Kind == models.ActionClick && state.FormSubmitted && looksLikeCloseButton(action.Selector) {
		state.BlockSelector(action.Selector)
		g.logger.WithField("selector", action.Selector).Debug("Blocked close-button click after submit")
		return fmt.Errorf("selector %s: %w", action.Selector, ErrHallucinatedSelector)
	}

	if !ValidateSelectorExists(snap.HTML, action.Selector) {
		state.BlockSelector(action.Selector)
		state.FailedSelectorHints = append(state.FailedSelectorHints, action.Selector)
		g.logger.WithFields(logrus.Fields{
			"selector":       action.Selector,
			"hallucinations": state.HallucinationCount,
		}).Warn("Planner returned a selector that does not exist")
		return fmt.Errorf("selector %s: %w", action.Selector, ErrHallucinatedSelector)
	}
	return nil
}

// CheckStuckLoop reports whether the agent is spinning without progress
func (g *GuardService) CheckStuckLoop(state *models.AgentState, snap *models.PageSnapshot) (bool, string) {
	for msg, count := range state.ErrorMessagesSeen {
		if count >= errorRepeatTrigger {
			return true, fmt.Sprintf("error repeated %d times: %s", count, utils.Truncate(msg, 80))
		}
	}

	if n := len(state.RecentActions); n >= patternLoopWindow {
		window := state.RecentActions[n-patternLoopWindow:]
		if window[0] == window[2] && window[1] == window[3] && window[0] != window[1] {
			return true, fmt.Sprintf("action pattern loop: %s / %s", window[0], window[1])
		}
	}

	if state.SubmitAttempts >= submitLoopTrigger && snap != nil &&
		state.URLBeforeSubmit != "" && snap.URL == state.URLBeforeSubmit {
		return true, fmt.Sprintf("%d submits without leaving the page", state.SubmitAttempts)
	}

	return false, ""
}

// ClassifyFailure maps the accumulated evidence to an error category and a
// human sentence, in rough order of how actionable each cause is.
func (g *GuardService) ClassifyFailure(state *models.AgentState, snap *models.PageSnapshot) (models.ErrorCategory, string) {
	if state.LLMFailureReason != "" {
		return models.CategoryLLMError, "AI planner failed: " + state.LLMFailureReason
	}

	if snap != nil && snap.Captcha.Visible && !state.CaptchaSolved {
		return models.CategoryCaptcha, "Blocked by a captcha challenge that could not be solved"
	}

	if state.StuckLoopDetected {
		if reason, captcha := dominantError(state); captcha {
			return models.CategoryCaptcha, "Stuck on a captcha: " + reason
		} else if reason != "" {
			return models.CategoryValidation, "Form kept rejecting input: " + reason
		}
		return models.CategoryStuckLoop, "Agent made no progress and was stopped"
	}

	if repeated, captcha := dominantError(state); repeated != "" {
		if captcha {
			return models.CategoryCaptcha, "Captcha error: " + repeated
		}
		return models.CategoryValidation, "Form rejected input: " + repeated
	}

	if state.HallucinationCount > 0 && len(state.FieldsFilled) == 0 {
		return models.CategorySelector, "AI planner kept choosing selectors that do not exist on the page"
	}

	if len(state.FieldsFilled) == 0 {
		return models.CategoryNoFields, "Could not fill any field on the page"
	}
	if !state.FormSubmitted && state.ClickAttemptsAfterFill == 0 {
		return models.CategoryNoSubmit, "Fields were filled but no submit button could be clicked"
	}
	return models.CategoryNoConfirmation, "Form was submitted but the page never confirmed the signup"
}

// dominantError returns the most repeated visible error and whether it reads
// as captcha-related.
func dominantError(state *models.AgentState) (string, bool) {
	best := ""
	bestCount := 0
	for msg, count := range state.ErrorMessagesSeen {
		if count > bestCount {
			best, bestCount = msg, count
		}
	}
	if best == "" {
		return "", false
	}
	return utils.Truncate(best, 100), utils.ContainsAny(best, captchaErrorHints)
}

func looksLikeCloseButton(selector string) bool {
	lower := strings.ToLower(selector)
	for _, hint := range closeButtonHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
