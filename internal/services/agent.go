package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

const (
	stepPacing        = 1500 * time.Millisecond
	postNavigateDelay = 2 * time.Second
	maxNavClicks      = 3
	verifyCooldown    = 2
)

// StopFunc reports whether a graceful stop was requested. Checked at every
// step boundary.
type StopFunc func() bool

// AgentService runs the per-URL observe/plan/execute loop
type AgentService struct {
	browser       BrowserServiceInterface
	observer      ObserverServiceInterface
	classifier    ClassifierServiceInterface
	planner       PlannerServiceInterface
	guard         GuardServiceInterface
	executor      ExecutorServiceInterface
	oracle        OracleServiceInterface
	captcha       CaptchaHandlerInterface
	credentials   CredentialServiceInterface
	batchPlanning bool
	stop          StopFunc
	logger        *logrus.Logger
}

// NewAgentService creates a new agent service
func NewAgentService(browser BrowserServiceInterface, observer ObserverServiceInterface,
	classifier ClassifierServiceInterface, planner PlannerServiceInterface,
	guard GuardServiceInterface, executor ExecutorServiceInterface,
	oracle OracleServiceInterface, captcha CaptchaHandlerInterface,
	credentials CredentialServiceInterface, batchPlanning bool, stop StopFunc,
	logger *logrus.Logger) AgentServiceInterface {
	return &AgentService{
		browser:       browser,
		observer:      observer,
		classifier:    classifier,
		planner:       planner,
		guard:         guard,
		executor:      executor,
		oracle:        oracle,
		captcha:       captcha,
		credentials:   credentials,
		batchPlanning: batchPlanning,
		stop:          stop,
		logger:        logger,
	}
}

// ProcessURL runs the full signup attempt for one URL
func (a *AgentService) ProcessURL(ctx context.Context, target models.TargetURL) (result *models.SignupResult) {
	started := time.Now()
	result = &models.SignupResult{URL: target.URL, Status: models.StatusFailed}

	defer func() {
		result.Duration = time.Since(started)
		if r := recover(); r != nil {
			a.logger.WithField("url", target.URL).Errorf("Panic while processing URL: %v", r)
			result.Status = models.StatusFailed
			result.PrimaryCategory = models.CategoryException
			result.PrimaryError = "Unexpected internal error while processing the page"
			result.Details = utils.Truncate(fmt.Sprintf("%v", r), 200)
		}
	}()

	a.logger.WithField("url", target.URL).Info("Processing URL")

	if a.stop() {
		return interrupted(result)
	}

	if reason := appStoreReason(target.URL, ""); reason != "" {
		return skipped(result, models.CategoryAppStore, "App store link, nothing to sign up for")
	}

	session, err := a.browser.NewSession(ctx)
	if err != nil {
		result.PrimaryCategory = models.CategoryException
		result.PrimaryError = "Browser could not open a page"
		result.Details = utils.Truncate(err.Error(), 200)
		return result
	}
	defer session.Close()

	nav, err := session.Navigate(ctx, target.URL)
	if err != nil {
		result.PrimaryCategory = models.CategoryNetwork
		result.PrimaryError = "Navigation failed"
		result.Details = utils.Truncate(err.Error(), 200)
		return result
	}
	if !nav.OK {
		return skipped(result, models.CategoryLoadError, "Page failed to load: "+nav.FailureReason)
	}
	sleepCtx(ctx, postNavigateDelay)

	snap, err := a.observe(ctx, session)
	if err != nil {
		result.PrimaryCategory = models.CategoryException
		result.PrimaryError = "Could not observe the page"
		result.Details = utils.Truncate(err.Error(), 200)
		return result
	}

	analysis := a.classifier.Classify(snap)
	if !analysis.ShouldProcess {
		return skipped(result, analysis.SkipCategory, analysis.Reason)
	}

	if analysis.Class == models.PageLandingWithNav {
		snap, analysis, err = a.navigateToForm(ctx, session, snap, analysis)
		if err != nil {
			result.PrimaryCategory = models.CategoryException
			result.Details = utils.Truncate(err.Error(), 200)
			return result
		}
		if !analysis.ShouldProcess || analysis.Class != models.PageSignup {
			cat := analysis.SkipCategory
			if cat == "" {
				cat = models.CategoryNoForm
			}
			return skipped(result, cat, firstNonEmpty(analysis.Reason, "Navigation never revealed a signup form"))
		}
	}

	state := models.NewAgentState(target.URL)
	state.PaymentIndicatorsObserved = analysis.HasPaymentIndicators
	if dial := a.credentials.DetectCountryCode(snap.PhoneWidget); dial != "" {
		state.DetectedCountryCode = dial
	}

	return a.runLoop(ctx, session, snap, state, result)
}

// observe wraps the observer with a single retry; pages mid-navigation
// destroy the script context and recover on the second try.
func (a *AgentService) observe(ctx context.Context, session PageSession) (*models.PageSnapshot, error) {
	snap, err := a.observer.Observe(ctx, session)
	if err == nil {
		return snap, nil
	}
	a.logger.WithError(err).Debug("Observation failed, retrying once")
	sleepCtx(ctx, 1*time.Second)
	return a.observer.Observe(ctx, session)
}

// navigateToForm clicks signup-like navigation buttons until one reveals a
// form. App-store destinations stop the hunt immediately.
func (a *AgentService) navigateToForm(ctx context.Context, session PageSession, snap *models.PageSnapshot, analysis models.PageAnalysis) (*models.PageSnapshot, models.PageAnalysis, error) {
	navState := models.NewAgentState(snap.URL)

	for i, btn := range analysis.NavigationButtons {
		if i >= maxNavClicks || a.stop() {
			break
		}

		a.logger.WithFields(logrus.Fields{"button": btn.Text, "selector": btn.Selector}).Info("Clicking navigation button")
		action := models.Action{Kind: models.ActionClick, Selector: btn.Selector, Reasoning: "navigate toward signup form"}
		if err := a.executor.Execute(ctx, session, action, snap, navState); err != nil {
			a.logger.WithError(err).Debug("Navigation click failed")
			continue
		}

		next, err := a.observe(ctx, session)
		if err != nil {
			return snap, analysis, err
		}
		snap = next

		if reason := appStoreReason(snap.URL, strings.ToLower(snap.Title)); reason != "" {
			return snap, models.PageAnalysis{
				Class:        models.PageAppStore,
				Reason:       "Navigation landed on an app store",
				SkipCategory: models.CategoryAppStore,
			}, nil
		}

		analysis = a.classifier.Classify(snap)
		if analysis.Class == models.PageSignup {
			return snap, analysis, nil
		}
	}

	analysis.ShouldProcess = false
	return snap, analysis, nil
}

// runLoop is the main agent state machine, at most MaxSteps iterations
func (a *AgentService) runLoop(ctx context.Context, session PageSession, snap *models.PageSnapshot, state *models.AgentState, result *models.SignupResult) *models.SignupResult {
	var queue []models.Action
	lastVerifyStep := 0

	if a.batchPlanning {
		planned, err := a.planner.PlanActions(ctx, snap, state)
		if err != nil {
			if IsFatalLLMError(err) {
				return a.llmFailure(result, state, err)
			}
			a.logger.WithError(err).Warn("Batch planning failed, falling back to stepwise")
		} else {
			a.logger.WithField("actions", len(planned)).Info("Batch plan ready")
			queue = planned
		}
	}

	for ; state.Step <= models.MaxSteps; state.Step++ {
		if a.stop() {
			return interrupted(result)
		}
		if ctx.Err() != nil {
			return interrupted(result)
		}

		if state.Step > 1 {
			fresh, err := a.observe(ctx, session)
			if err != nil {
				a.logger.WithError(err).Debug("Observation failed, keeping previous snapshot")
			} else {
				snap = fresh
			}
		}
		for _, msg := range snap.ErrorMessages {
			state.NoteError(msg)
		}

		if cat, reason := unwantedMidRun(snap); cat != "" {
			return a.finishFailure(result, state, cat, reason)
		}

		if snap.Captcha.Visible && !state.CaptchaAttempted {
			solved, err := a.captcha.Handle(ctx, session, snap, state)
			if err != nil {
				a.logger.WithError(err).Warn("Captcha handling errored")
			}
			if solved {
				if fresh, err := a.observe(ctx, session); err == nil {
					snap = fresh
				}
			}
		}

		if ok, reasons := a.oracle.CheckSuccess(snap, state, session.NetworkLog()); ok {
			return a.finishSuccess(result, state, reasons)
		}

		action, fatalErr := a.nextAction(ctx, session, snap, state, &queue)
		if fatalErr != nil {
			return a.llmFailure(result, state, fatalErr)
		}
		if action == nil {
			sleepCtx(ctx, stepPacing)
			continue
		}

		if action.Kind == models.ActionComplete {
			if done, verdict := a.handleComplete(ctx, session, snap, state, result, &queue, &lastVerifyStep); done {
				return verdict
			}
			sleepCtx(ctx, stepPacing)
			continue
		}

		if err := a.guard.ValidateAction(action, snap, state); err != nil {
			if errors.Is(err, ErrHallucinatedSelector) || errors.Is(err, ErrAlreadyFilled) {
				a.logger.WithError(err).Debug("Action filtered before execution")
				state.PushRecentAction("filtered:" + action.Selector)
				if state.HallucinationCount > models.MaxActionFailures {
					return a.finishFailure(result, state, models.CategorySelector,
						"AI planner kept choosing selectors that do not exist on the page")
				}
				continue
			}
			a.logger.WithError(err).Debug("Invalid action skipped")
			continue
		}

		execErr := a.executor.Execute(ctx, session, *action, snap, state)
		state.RecordAction(actionRecord(*action, execErr))
		if execErr != nil {
			a.logger.WithError(execErr).WithFields(logrus.Fields{
				"action":   action.Kind,
				"selector": action.Selector,
			}).Debug("Action failed")
			var ee *ExecError
			if errors.As(execErr, &ee) && (ee.Category == models.CategoryNotFound || ee.Category == models.CategorySelector) {
				state.ConsecutiveSelectorFails++
				if state.ConsecutiveSelectorFails >= maxSelectorFailures {
					state.BlockSelector(action.Selector)
					state.ConsecutiveSelectorFails = 0
				}
			}
		}

		if state.TotalFailures > models.MaxActionFailures {
			cat, msg := a.guard.ClassifyFailure(state, snap)
			return a.finishFailure(result, state, cat, msg)
		}

		if stuck, reason := a.guard.CheckStuckLoop(state, snap); stuck {
			state.StuckLoopDetected = true
			if done, verdict := a.rescueOrAbort(ctx, session, snap, state, result, reason); done {
				return verdict
			}
		}

		if state.FormSubmitted && state.Step-lastVerifyStep >= verifyCooldown &&
			state.SubmitAttempts+state.ClickAttemptsAfterFill >= 2 {
			lastVerifyStep = state.Step
			if done, verdict := a.verifySubmission(ctx, session, state, result, &queue); done {
				return verdict
			}
		}

		sleepCtx(ctx, stepPacing)
	}

	// Step budget exhausted; give the evidence one last reading.
	if fresh, err := a.observe(ctx, session); err == nil {
		snap = fresh
	}
	if ok, reasons := a.oracle.FinalAudit(snap, state, session.NetworkLog()); ok {
		return a.finishSuccess(result, state, reasons)
	}
	cat, msg := a.guard.ClassifyFailure(state, snap)
	return a.finishFailure(result, state, cat, msg)
}

// nextAction pops the batch queue or asks the planner for one step.
// A nil action with nil error means "skip this step".
func (a *AgentService) nextAction(ctx context.Context, session PageSession, snap *models.PageSnapshot, state *models.AgentState, queue *[]models.Action) (*models.Action, error) {
	if len(*queue) > 0 {
		action := (*queue)[0]
		*queue = (*queue)[1:]
		return &action, nil
	}

	var screenshot []byte
	if a.wantsVision(state) {
		if shot, err := session.Screenshot(ctx); err == nil {
			screenshot = shot
		}
	}

	action, err := a.planner.NextAction(ctx, snap, state, screenshot)
	if err != nil {
		if IsFatalLLMError(err) {
			return nil, err
		}
		kind := LLMFailureKind(err)
		state.LLMFailureReason = kind
		a.logger.WithError(err).Warn("Planner call failed")
		return nil, nil
	}
	state.LLMFailureReason = ""
	return action, nil
}

// wantsVision decides when a screenshot is worth its tokens
func (a *AgentService) wantsVision(state *models.AgentState) bool {
	if state.Step == 1 || state.LastActionFailed {
		return true
	}
	switch state.LastActionKind {
	case models.ActionClick, models.ActionWait:
		return true
	}
	return state.Step%5 == 0
}

// handleComplete accepts a complete action only with corroborating evidence
func (a *AgentService) handleComplete(ctx context.Context, session PageSession, snap *models.PageSnapshot, state *models.AgentState, result *models.SignupResult, queue *[]models.Action, lastVerifyStep *int) (bool, *models.SignupResult) {
	if state.Step == 1 && len(state.FieldsFilled) == 0 {
		// A first-step complete is only trusted when preflight found no form.
		if snap.FormCount() == 0 && len(snap.Inputs) == 0 {
			return true, skipped(result, models.CategoryNoForm, "No signup form on this page")
		}
		return false, nil
	}

	if ok, reasons := a.oracle.FinalAudit(snap, state, session.NetworkLog()); ok {
		return true, a.finishSuccess(result, state, reasons)
	}

	if state.FormSubmitted {
		*lastVerifyStep = state.Step
		return a.verifySubmission(ctx, session, state, result, queue)
	}
	a.logger.Debug("Planner claimed completion without evidence, continuing")
	return false, nil
}

// rescueOrAbort runs when the guard detects a stuck loop: first an oracle
// rescue, then a captcha attempt, then the abort.
func (a *AgentService) rescueOrAbort(ctx context.Context, session PageSession, snap *models.PageSnapshot, state *models.AgentState, result *models.SignupResult, reason string) (bool, *models.SignupResult) {
	a.logger.WithField("reason", reason).Warn("Stuck loop detected")

	if fresh, err := a.observe(ctx, session); err == nil {
		snap = fresh
	}
	if ok, reasons := a.oracle.CheckSuccess(snap, state, session.NetworkLog()); ok {
		return true, a.finishSuccess(result, state, append(reasons, "rescued from stuck loop"))
	}

	if snap.Captcha.Visible && !state.CaptchaAttempted {
		solved, _ := a.captcha.Handle(ctx, session, snap, state)
		if solved {
			state.StuckLoopDetected = false
			return false, nil
		}
	}

	cat, msg := a.guard.ClassifyFailure(state, snap)
	return true, a.finishFailure(result, state, cat, msg)
}

// verifySubmission asks the LLM verifier for a verdict and acts on it
func (a *AgentService) verifySubmission(ctx context.Context, session PageSession, state *models.AgentState, result *models.SignupResult, queue *[]models.Action) (bool, *models.SignupResult) {
	snap, err := a.observe(ctx, session)
	if err != nil {
		return false, nil
	}

	networkSuccess := networkWriteSucceeded(session.NetworkLog())
	verdict, err := a.planner.Verify(ctx, snap, state, networkSuccess)
	if err != nil {
		if IsFatalLLMError(err) {
			return true, a.llmFailure(result, state, err)
		}
		a.logger.WithError(err).Warn("Verification call failed")
		return false, nil
	}

	a.logger.WithFields(logrus.Fields{
		"status":     verdict.Status,
		"confidence": verdict.Confidence,
	}).Info("Submission verified")

	switch verdict.Status {
	case models.VerifySuccess:
		reasons := verdict.Indicators
		if len(reasons) == 0 {
			reasons = []string{firstNonEmpty(verdict.Reason, "verifier confirmed success")}
		}
		return true, a.finishSuccess(result, state, reasons)
	case models.VerifyNeedsMore:
		*queue = append(*queue, verdict.NextActions...)
		return false, nil
	case models.VerifyValidationError:
		msg := firstNonEmpty(verdict.Reason, "Form rejected the submitted values")
		if repeated, _ := dominantError(state); repeated != "" {
			msg = "Form rejected input: " + repeated
		}
		return true, a.finishFailure(result, state, models.CategoryValidation, msg)
	default:
		return true, a.finishFailure(result, state, models.CategoryNoConfirmation,
			firstNonEmpty(verdict.Reason, "Form was submitted but the page never confirmed the signup"))
	}
}

// unwantedMidRun aborts pages the agent should never fill mid-flow
func unwantedMidRun(snap *models.PageSnapshot) (models.ErrorCategory, string) {
	if reason := appStoreReason(snap.URL, strings.ToLower(snap.Title)); reason != "" {
		return models.CategoryAppStore, "Redirected to an app store"
	}
	lowerURL := strings.ToLower(snap.URL)
	if strings.Contains(lowerURL, "/cart") || strings.Contains(lowerURL, "/checkout") {
		if !strings.Contains(lowerURL, "/signup") && !strings.Contains(lowerURL, "/register") {
			return models.CategoryPaymentRequired, "Redirected into a checkout flow"
		}
	}
	return "", ""
}

// finishSuccess fills the result from the agent state with a success status
func (a *AgentService) finishSuccess(result *models.SignupResult, state *models.AgentState, reasons []string) *models.SignupResult {
	a.fillFromState(result, state)
	result.Status = models.StatusSuccess
	result.Details = strings.Join(reasons, "; ")
	if len(state.FieldsFilled) <= 2 {
		result.SignupType = "Newsletter"
	} else {
		result.SignupType = "Account"
	}

	a.logger.WithFields(logrus.Fields{
		"url":     result.URL,
		"type":    result.SignupType,
		"fields":  len(result.FieldsFilled),
		"reasons": reasons,
	}).Info("Signup succeeded")
	return result
}

func (a *AgentService) finishFailure(result *models.SignupResult, state *models.AgentState, category models.ErrorCategory, message string) *models.SignupResult {
	a.fillFromState(result, state)
	result.Status = models.StatusFailed
	result.PrimaryCategory = category
	result.PrimaryError = message

	a.logger.WithFields(logrus.Fields{
		"url":      result.URL,
		"category": category,
		"error":    message,
	}).Info("Signup failed")
	return result
}

func (a *AgentService) llmFailure(result *models.SignupResult, state *models.AgentState, err error) *models.SignupResult {
	a.fillFromState(result, state)
	result.Status = models.StatusFailed
	result.PrimaryCategory = models.CategoryLLMError
	result.PrimaryError = "AI planner failed: " + err.Error()
	result.Details = LLMFailureKind(err)
	return result
}

func (a *AgentService) fillFromState(result *models.SignupResult, state *models.AgentState) {
	result.FieldsFilled = state.FilledSelectors()
	result.FieldTypesFilled = state.FieldTypesFilled
	result.Actions = state.Actions
	result.SubmitAttempts = state.SubmitAttempts
	result.FormSubmitted = state.FormSubmitted
	result.StuckLoopDetected = state.StuckLoopDetected
	result.CaptchaAttempted = state.CaptchaAttempted
	result.CaptchaSolved = state.CaptchaSolved
}

func actionRecord(action models.Action, err error) models.ActionRecord {
	rec := models.ActionRecord{
		Kind:      action.Kind,
		Selector:  action.Selector,
		Value:     action.Value,
		FieldType: action.FieldType,
		Reasoning: action.Reasoning,
		Success:   err == nil,
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	return rec
}

func skipped(result *models.SignupResult, category models.ErrorCategory, reason string) *models.SignupResult {
	result.Status = models.StatusSkipped
	result.PrimaryCategory = category
	result.PrimaryError = reason
	return result
}

func interrupted(result *models.SignupResult) *models.SignupResult {
	result.Status = models.StatusSkipped
	result.Interrupted = true
	result.PrimaryError = "Run stopped before this URL finished"
	return result
}
