package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

const (
	attachTimeout     = 5 * time.Second
	attachPoll        = 250 * time.Millisecond
	postClickSettle   = 1500 * time.Millisecond
	minLoadedBodyText = 200
)

// ExecError is an executor failure carrying its taxonomy category
type ExecError struct {
	Category models.ErrorCategory
	Message  string
}

func (e *ExecError) Error() string {
	return e.Message
}

func execErrorf(category models.ErrorCategory, format string, args ...interface{}) *ExecError {
	return &ExecError{Category: category, Message: fmt.Sprintf(format, args...)}
}

// ExecutorService performs planned actions against the live page
type ExecutorService struct {
	logger *logrus.Logger
}

// NewExecutorService creates a new executor service
func NewExecutorService(logger *logrus.Logger) ExecutorServiceInterface {
	return &ExecutorService{logger: logger}
}

// Execute performs one planned action, updating the agent state with its
// observable effects.
func (e *ExecutorService) Execute(ctx context.Context, session PageSession, action models.Action, snap *models.PageSnapshot, state *models.AgentState) error {
	switch action.Kind {
	case models.ActionFillField:
		return e.fillField(ctx, session, action, snap, state)
	case models.ActionClick:
		return e.click(ctx, session, action, snap, state)
	case models.ActionScroll:
		return e.scroll(ctx, session)
	case models.ActionWait:
		return e.wait(ctx, action.Value)
	case models.ActionComplete:
		return nil
	default:
		return execErrorf(models.CategoryException, "unknown action kind %q", action.Kind)
	}
}

// fillField fills one input, select, or checkbox and verifies the result
func (e *ExecutorService) fillField(ctx context.Context, session PageSession, action models.Action, snap *models.PageSnapshot, state *models.AgentState) error {
	friendly := HumanFieldName(action.FieldType)
	input, known := snap.InputBySelector(action.Selector)

	if err := e.waitAttached(ctx, session, action.Selector); err != nil {
		return execErrorf(models.CategoryNotFound, "Failed to fill %s: field not found on page", friendly)
	}

	kind := input.Kind
	if !known {
		kind = strings.ToLower(action.FieldType)
	}

	var err error
	switch kind {
	case "select":
		err = e.fillSelect(ctx, session, action.Selector, action.Value, friendly)
	case "checkbox", "radio", "div-checkbox":
		err = e.setCheckbox(ctx, session, action.Selector, input, friendly)
		if err == nil {
			state.NoteCheckbox(action.Selector)
		}
	default:
		err = e.fillText(ctx, session, action.Selector, action.Value, action.FieldType, friendly)
	}
	if err != nil {
		return err
	}

	state.NoteFill(action.Selector, action.Value, action.FieldType)
	e.trackActiveForm(ctx, session, action.Selector, state)

	e.logger.WithFields(logrus.Fields{
		"field":    friendly,
		"selector": action.Selector,
	}).Debug("Field filled")
	return nil
}

// fillText types the value and reads it back, accepting input-mask
// reformatting on phone fields.
func (e *ExecutorService) fillText(ctx context.Context, session PageSession, selector, value, fieldType, friendly string) error {
	if err := session.SendKeys(ctx, selector, value); err != nil {
		// Framework-controlled inputs reject synthetic keystrokes; setting
		// the value property with events is the second chance.
		if jsErr := session.SetValueJS(ctx, selector, value); jsErr != nil {
			return execErrorf(models.CategoryNotFound, "Failed to fill %s: %v", friendly, jsErr)
		}
	}

	got, err := session.FieldValue(ctx, selector)
	if err != nil {
		return execErrorf(models.CategorySelector, "Failed to verify %s after filling: %v", friendly, err)
	}
	if valueMatches(got, value, fieldType) {
		return nil
	}

	if err := session.SetValueJS(ctx, selector, value); err == nil {
		if got, err := session.FieldValue(ctx, selector); err == nil && valueMatches(got, value, fieldType) {
			return nil
		}
	}
	return execErrorf(models.CategoryValidation, "Failed to fill %s: page kept value %q instead of %q",
		friendly, utils.Truncate(got, 40), utils.Truncate(value, 40))
}

// valueMatches compares a read-back value against the typed one. Phone
// inputs are compared on digits only because masks reformat freely.
func valueMatches(got, want, fieldType string) bool {
	if got == want {
		return true
	}
	if strings.EqualFold(fieldType, "phone") {
		gotDigits := utils.DigitsOnly(got)
		wantDigits := utils.DigitsOnly(want)
		if gotDigits == "" {
			return false
		}
		return strings.Contains(wantDigits, gotDigits) || strings.Contains(gotDigits, wantDigits) || len(gotDigits) >= 7
	}
	return false
}

func (e *ExecutorService) fillSelect(ctx context.Context, session PageSession, selector, value, friendly string) error {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el || el.tagName !== 'SELECT') { return false; }
		var want = %s;
		for (var i = 0; i < el.options.length; i++) {
			var opt = el.options[i];
			if (opt.value === want || opt.text.trim().toLowerCase() === want.toLowerCase()) {
				el.selectedIndex = i;
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, jsString(selector), jsString(value))

	var ok bool
	if err := session.Evaluate(ctx, script, &ok); err != nil {
		return execErrorf(models.CategorySelector, "Failed to select %s option: %v", friendly, err)
	}
	if !ok {
		return execErrorf(models.CategoryValidation, "Failed to select %s: no option matches %q", friendly, value)
	}
	return nil
}

// setCheckbox checks a checkbox, working through the strategies hidden
// styled checkboxes need: label click, label[for] click, forced property.
func (e *ExecutorService) setCheckbox(ctx context.Context, session PageSession, selector string, input models.InputInfo, friendly string) error {
	if input.Visible {
		if err := session.Click(ctx, selector); err == nil {
			if e.isChecked(ctx, session, selector) {
				return nil
			}
		}
	}

	strategies := []string{
		// Enclosing label click.
		fmt.Sprintf(`(function(){
			var el = document.querySelector(%s);
			if (!el) { return false; }
			var label = el.closest('label');
			if (!label) { return false; }
			label.click();
			return el.checked === true;
		})()`, jsString(selector)),
		// Paired label[for] click.
		fmt.Sprintf(`(function(){
			var el = document.querySelector(%s);
			if (!el || !el.id) { return false; }
			var label = document.querySelector('label[for="' + el.id + '"]');
			if (!label) { return false; }
			label.click();
			return el.checked === true;
		})()`, jsString(selector)),
		// Forced property with the events frameworks listen for.
		fmt.Sprintf(`(function(){
			var el = document.querySelector(%s);
			if (!el) { return false; }
			el.checked = true;
			el.dispatchEvent(new Event('change', {bubbles: true}));
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('click', {bubbles: true}));
			return el.checked === true;
		})()`, jsString(selector)),
	}

	for _, script := range strategies {
		var ok bool
		if err := session.Evaluate(ctx, script, &ok); err == nil && ok {
			return nil
		}
	}
	return execErrorf(models.CategoryHidden, "Failed to check %s: checkbox never reported checked", friendly)
}

func (e *ExecutorService) isChecked(ctx context.Context, session PageSession, selector string) bool {
	script := fmt.Sprintf(`(function(){ var el = document.querySelector(%s); return !!(el && el.checked); })()`, jsString(selector))
	var checked bool
	if err := session.Evaluate(ctx, script, &checked); err != nil {
		return false
	}
	return checked
}

// formContextScript resolves the ancestor form and its submit button for an
// input that was just filled. Submit resolution mirrors the observer: typed
// submit input, keyword button that is not a dial-code dropdown, typed
// submit button, then the last plausible button.
const formContextScript = `(function(sel){
	var el = document.querySelector(sel);
	if (!el) { return null; }
	var form = el.closest('form');
	if (!form) { return null; }

	var forms = Array.prototype.slice.call(document.querySelectorAll('form'));
	var idx = forms.indexOf(form);
	var formId = form.id ? form.id : ('form-' + idx);
	var formSelector = form.id ? ('#' + form.id) : ('form:nth-of-type(' + (idx + 1) + ')');

	function sel4(btn) {
		if (btn.id) { return '#' + btn.id; }
		if (btn.name) { return "[name='" + btn.name + "']"; }
		var t = (btn.textContent || btn.value || '').trim();
		if (t) { return formSelector + " button:has-text('" + t.slice(0, 40).replace(/'/g, '') + "')"; }
		return formSelector + ' button';
	}
	function isDial(btn) {
		var t = (btn.textContent || btn.value || '').trim();
		return t.charAt(0) === '+' || /^\d{1,4}$/.test(t) || t.length <= 1;
	}

	var words = ['submit','sign up','signup','register','subscribe','join','send','continue','next','get started'];
	var submitSel = '';
	var typed = form.querySelector('input[type="submit"]');
	if (typed) {
		submitSel = typed.id ? ('#' + typed.id) : (formSelector + ' input[type="submit"]');
	}
	if (!submitSel) {
		var buttons = Array.prototype.slice.call(form.querySelectorAll('button'));
		for (var i = 0; i < buttons.length && !submitSel; i++) {
			var text = (buttons[i].textContent || '').trim().toLowerCase();
			if (isDial(buttons[i])) { continue; }
			for (var w = 0; w < words.length; w++) {
				if (text.indexOf(words[w]) >= 0) { submitSel = sel4(buttons[i]); break; }
			}
		}
		if (!submitSel) {
			var typedBtn = form.querySelector('button[type="submit"]');
			if (typedBtn) { submitSel = sel4(typedBtn); }
		}
		if (!submitSel) {
			for (var j = buttons.length - 1; j >= 0; j--) {
				if (!isDial(buttons[j])) { submitSel = sel4(buttons[j]); break; }
			}
		}
	}
	return {form_id: formId, form_selector: formSelector, submit_selector: submitSel};
})`

type formContext struct {
	FormID         string `json:"form_id"`
	FormSelector   string `json:"form_selector"`
	SubmitSelector string `json:"submit_selector"`
}

// trackActiveForm re-resolves the filled input's form so subsequent submit
// clicks target the right button even after DOM mutations.
func (e *ExecutorService) trackActiveForm(ctx context.Context, session PageSession, selector string, state *models.AgentState) {
	script := fmt.Sprintf("%s(%s)", formContextScript, jsString(selector))
	var fc *formContext
	if err := session.Evaluate(ctx, script, &fc); err != nil || fc == nil {
		return
	}
	state.SetActiveForm(fc.FormID, fc.FormSelector, fc.SubmitSelector)
}

// click clicks a button, trying progressively looser selector strategies
func (e *ExecutorService) click(ctx context.Context, session PageSession, action models.Action, snap *models.PageSnapshot, state *models.AgentState) error {
	button, buttonKnown := buttonBySelector(snap, action.Selector)
	clickText := button.Text + " " + action.Selector + " " + action.Reasoning
	realSubmit := IsRealSubmit(len(state.FieldsFilled), action.Selector, clickText)
	isCTA := buttonKnown && button.IsCTA && !realSubmit

	urlBefore, err := session.CurrentURL(ctx)
	if err != nil {
		return execErrorf(models.CategoryNetwork, "Failed to read page URL before click: %v", err)
	}
	formCountBefore := snap.FormCount()

	if realSubmit {
		session.ClearNetworkLog()
	}

	clickErr := e.tryClickStrategies(ctx, session, action, state, realSubmit)
	if clickErr != nil {
		// An intercepting overlay is the usual cause; clear it and retry the
		// literal selector once.
		if snap.Overlay.Present {
			if err := e.DismissOverlay(ctx, session, snap.Overlay); err == nil {
				clickErr = session.Click(ctx, action.Selector)
			}
		}
	}
	if clickErr != nil {
		return execErrorf(models.CategoryNotFound, "Failed to click %s: %v",
			utils.Truncate(firstNonEmpty(button.Text, action.Selector), 50), clickErr)
	}

	if len(state.FieldsFilled) > 0 {
		state.ClickAttemptsAfterFill++
	}
	if realSubmit {
		state.NoteSubmit(urlBefore, formCountBefore)
	}

	e.waitAfterClick(ctx, session, urlBefore, isCTA)
	return nil
}

// tryClickStrategies walks the fallback chain until one click lands
func (e *ExecutorService) tryClickStrategies(ctx context.Context, session PageSession, action models.Action, state *models.AgentState, realSubmit bool) error {
	var lastErr error

	try := func(f func() error) bool {
		if err := f(); err != nil {
			lastErr = err
			return false
		}
		return true
	}

	// The active form's resolved submit button outranks whatever the
	// planner picked.
	if realSubmit && state.ActiveFormSubmitSelector != "" && state.ActiveFormSubmitSelector != action.Selector {
		if try(func() error { return e.clickSelector(ctx, session, state.ActiveFormSubmitSelector) }) {
			return nil
		}
	}

	if try(func() error { return e.clickSelector(ctx, session, action.Selector) }) {
		return nil
	}

	if base, text, ok := splitTextSelector(action.Selector); ok {
		_ = base
		if try(func() error { return session.ClickByText(ctx, text) }) {
			return nil
		}
	}

	if try(func() error { return session.JSClick(ctx, action.Selector) }) {
		return nil
	}

	if cls := simplifiedClassSelector(action.Selector); cls != "" && cls != action.Selector {
		if try(func() error { return e.clickSelector(ctx, session, cls) }) {
			return nil
		}
	}
	return lastErr
}

// clickSelector routes text-matching selectors to the text locator and
// everything else to a plain CSS click.
func (e *ExecutorService) clickSelector(ctx context.Context, session PageSession, selector string) error {
	if _, text, ok := splitTextSelector(selector); ok {
		return session.ClickByText(ctx, text)
	}
	return session.Click(ctx, selector)
}

// splitTextSelector parses the :has-text()/:contains() shapes the planner emits
func splitTextSelector(selector string) (base, text string, ok bool) {
	m := hasTextPattern.FindStringSubmatch(selector)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), m[2], m[2] != ""
}

// simplifiedClassSelector keeps the tag and first class of a compound selector
func simplifiedClassSelector(selector string) string {
	if strings.ContainsAny(selector, "[]():>#") {
		return ""
	}
	parts := strings.Split(selector, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// waitAfterClick applies the post-click navigation discipline: navigations
// get full load waits, CTA clicks get a settle window, plain clicks a pause.
func (e *ExecutorService) waitAfterClick(ctx context.Context, session PageSession, urlBefore string, isCTA bool) {
	sleepCtx(ctx, 500*time.Millisecond)

	urlAfter, err := session.CurrentURL(ctx)
	if err == nil && urlAfter != urlBefore {
		_ = session.WaitNetworkIdle(ctx, 500*time.Millisecond, 10*time.Second)

		var bodyLen int
		if err := session.Evaluate(ctx, "document.body ? document.body.innerText.length : 0", &bodyLen); err == nil && bodyLen < minLoadedBodyText {
			sleepCtx(ctx, 3*time.Second)
		}
		sleepCtx(ctx, 2*time.Second)
		return
	}

	if isCTA {
		_ = session.WaitNetworkIdle(ctx, 500*time.Millisecond, 5*time.Second)
		sleepCtx(ctx, postClickSettle)
		return
	}
	sleepCtx(ctx, postClickSettle)
}

// overlayCloseSelectors are tried in order when an overlay has no
// discoverable close button of its own.
var overlayCloseSelectors = []string{
	"[aria-label='Close']",
	"[aria-label='close']",
	".modal-close",
	".close-button",
	".popup-close",
	"button.close",
	"[data-dismiss='modal']",
}

// DismissOverlay closes a blocking overlay via its close button or Escape
func (e *ExecutorService) DismissOverlay(ctx context.Context, session PageSession, overlay models.OverlayInfo) error {
	if overlay.CloseSelector != "" {
		if err := session.JSClick(ctx, overlay.CloseSelector); err == nil {
			sleepCtx(ctx, 500*time.Millisecond)
			return nil
		}
	}
	for _, sel := range overlayCloseSelectors {
		if err := session.JSClick(ctx, sel); err == nil {
			sleepCtx(ctx, 500*time.Millisecond)
			return nil
		}
	}
	if err := session.PressEscape(ctx); err != nil {
		return fmt.Errorf("failed to dismiss overlay: %w", err)
	}
	sleepCtx(ctx, 500*time.Millisecond)
	return nil
}

// scroll advances one viewport, or jumps to the bottom when close to it
func (e *ExecutorService) scroll(ctx context.Context, session PageSession) error {
	script := `(function(){
		var remaining = document.body.scrollHeight - window.pageYOffset - window.innerHeight;
		if (remaining < window.innerHeight) {
			window.scrollTo(0, document.body.scrollHeight);
		} else {
			window.scrollBy(0, window.innerHeight);
		}
		return true;
	})()`
	var ok bool
	if err := session.Evaluate(ctx, script, &ok); err != nil {
		return execErrorf(models.CategoryException, "Failed to scroll: %v", err)
	}
	sleepCtx(ctx, 500*time.Millisecond)
	return nil
}

// wait sleeps for the requested number of seconds, capped at ten
func (e *ExecutorService) wait(ctx context.Context, value string) error {
	seconds := 2.0
	if value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			seconds = parsed
		}
	}
	if seconds > 10 {
		seconds = 10
	}
	sleepCtx(ctx, time.Duration(seconds*float64(time.Second)))
	return nil
}

// waitAttached polls for the element to exist in the DOM. Attachment, not
// visibility: sr-only checkboxes are legitimately invisible.
func (e *ExecutorService) waitAttached(ctx context.Context, session PageSession, selector string) error {
	script := fmt.Sprintf("!!document.querySelector(%s)", jsString(selector))
	deadline := time.Now().Add(attachTimeout)

	for {
		var attached bool
		if err := session.Evaluate(ctx, script, &attached); err == nil && attached {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("element %s not attached after %s", selector, attachTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(attachPoll):
		}
	}
}

func buttonBySelector(snap *models.PageSnapshot, selector string) (models.ButtonInfo, bool) {
	for _, b := range snap.Buttons {
		if b.Selector == selector {
			return b, true
		}
	}
	return models.ButtonInfo{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// sleepCtx waits for d or cancellation, reporting false when cancelled
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
