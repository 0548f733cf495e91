package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

// Prompt limits keep token spend predictable on busy pages.
const (
	promptMaxInputs     = 15
	promptMaxButtons    = 15
	promptMaxBlocklist  = 10
	promptMaxErrors     = 3
	promptMaxHistory    = 5
	promptMaxPageText   = 400
	promptMaxVerifyText = 800
	promptMaxHTML       = 5000
)

const stepwiseSystemPrompt = "You are a web automation agent that fills out signup and newsletter forms. " +
	"You respond with exactly one JSON object and nothing else."

const batchSystemPrompt = "You are a web automation agent that plans signup form completion from raw HTML. " +
	"You respond with exactly one JSON object and nothing else."

const verifySystemPrompt = "You are a web automation agent verifying whether a signup form submission succeeded. " +
	"You respond with exactly one JSON object and nothing else."

var promptFieldTypes = []string{
	"email", "first_name", "last_name", "full_name", "phone", "company",
	"website", "address", "city", "state", "zip", "country", "password",
	"message", "checkbox",
}

// credentialsBlock renders the identity the model may use for field values
func credentialsBlock(creds models.Credentials) string {
	var b strings.Builder
	b.WriteString("CREDENTIALS (use these exact values):\n")
	fmt.Fprintf(&b, "- email: %s\n", creds.Email)
	fmt.Fprintf(&b, "- first_name: %s\n", creds.FirstName)
	fmt.Fprintf(&b, "- last_name: %s\n", creds.LastName)
	fmt.Fprintf(&b, "- full_name: %s\n", creds.FullName)
	b.WriteString("- phone: handled automatically, always set use_phone_number_only=true\n")
	b.WriteString("- company: My Business LLC\n")
	return b.String()
}

// blocklistBlock warns the model away from selectors proven absent
func blocklistBlock(state *models.AgentState) string {
	blocked := state.BlockedSelectors(promptMaxBlocklist)
	if len(blocked) == 0 {
		return ""
	}
	sort.Strings(blocked)

	var b strings.Builder
	b.WriteString("SELECTORS THAT DO NOT EXIST ON THIS PAGE (never use these again):\n")
	for _, sel := range blocked {
		fmt.Fprintf(&b, "- %s\n", sel)
	}
	return b.String()
}

// errorsBlock surfaces visible validation errors so the model can react
func errorsBlock(errors []string) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) > promptMaxErrors {
		errors = errors[:promptMaxErrors]
	}

	var b strings.Builder
	b.WriteString("VALIDATION ERRORS CURRENTLY VISIBLE:\n")
	for _, msg := range errors {
		fmt.Fprintf(&b, "- %s\n", msg)
	}
	return b.String()
}

// historyBlock summarises the most recent actions and their outcomes
func historyBlock(state *models.AgentState) string {
	recent := state.LastActions(promptMaxHistory)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("RECENT ACTIONS:\n")
	for _, rec := range recent {
		status := "ok"
		if !rec.Success {
			status = "FAILED"
			if rec.ErrorMessage != "" {
				status = "FAILED: " + utils.Truncate(rec.ErrorMessage, 80)
			}
		}
		fmt.Fprintf(&b, "- %s %s -> %s\n", rec.Kind, rec.Selector, status)
	}
	return b.String()
}

// filledBlock lists what has already been filled so the model never refills
func filledBlock(state *models.AgentState) string {
	if len(state.FieldsFilled) == 0 && len(state.CheckboxesChecked) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("ALREADY FILLED (do not fill again):\n")
	types := make([]string, 0, len(state.FieldTypesFilled))
	for ft := range state.FieldTypesFilled {
		types = append(types, ft)
	}
	sort.Strings(types)
	for _, ft := range types {
		fmt.Fprintf(&b, "- %s (%s)\n", ft, state.FieldTypesFilled[ft])
	}
	checked := make([]string, 0, len(state.CheckboxesChecked))
	for sel := range state.CheckboxesChecked {
		checked = append(checked, sel)
	}
	sort.Strings(checked)
	for _, sel := range checked {
		fmt.Fprintf(&b, "- checkbox checked: %s\n", sel)
	}
	return b.String()
}

// activeFormBlock tells the model which form the agent is committed to
func activeFormBlock(state *models.AgentState) string {
	if state.ActiveFormSelector == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("ACTIVE FORM (fields filled here, submit this form):\n")
	fmt.Fprintf(&b, "- selector: %s\n", state.ActiveFormSelector)
	if state.ActiveFormSubmitSelector != "" {
		fmt.Fprintf(&b, "- submit button: %s\n", state.ActiveFormSubmitSelector)
	}
	return b.String()
}

// inputsBlock renders the visible inputs with their form membership
func inputsBlock(snap *models.PageSnapshot) string {
	var b strings.Builder
	b.WriteString("VISIBLE INPUTS (use ONLY these selectors for fill_field):\n")

	count := 0
	for _, in := range snap.Inputs {
		if !in.Visible && !in.HiddenSrOnly {
			continue
		}
		if count >= promptMaxInputs {
			break
		}
		count++

		var markers []string
		if in.HiddenSrOnly {
			markers = append(markers, "HIDDEN")
		}
		if in.WrappedInLabel {
			markers = append(markers, "WRAPPED IN LABEL")
		}
		if in.Checked {
			markers = append(markers, "checked")
		}
		marker := ""
		if len(markers) > 0 {
			marker = " [" + strings.Join(markers, ", ") + "]"
		}

		desc := in.Kind
		if in.Placeholder != "" {
			desc += fmt.Sprintf(" placeholder=%q", in.Placeholder)
		}
		if in.Label != "" {
			desc += fmt.Sprintf(" label=%q", utils.Truncate(in.Label, 60))
		}
		if in.FormID != "" {
			desc += " form=" + in.FormID
		}
		fmt.Fprintf(&b, "- %s (%s)%s\n", in.Selector, desc, marker)
	}
	if count == 0 {
		b.WriteString("- (none)\n")
	}
	return b.String()
}

// buttonsBlock renders clickable buttons with submit buttons before CTAs
func buttonsBlock(snap *models.PageSnapshot) string {
	buttons := make([]models.ButtonInfo, len(snap.Buttons))
	copy(buttons, snap.Buttons)
	sort.SliceStable(buttons, func(i, j int) bool {
		return buttons[i].IsLikelySubmit && !buttons[j].IsLikelySubmit
	})

	var b strings.Builder
	b.WriteString("VISIBLE BUTTONS (use ONLY these selectors for click):\n")
	count := 0
	for _, btn := range buttons {
		if count >= promptMaxButtons {
			break
		}
		count++

		marker := ""
		switch {
		case btn.IsLikelySubmit:
			marker = " [SUBMIT]"
		case btn.IsCTA:
			marker = " [CTA, does not submit a form]"
		}
		form := ""
		if btn.FormID != "" {
			form = " form=" + btn.FormID
		}
		fmt.Fprintf(&b, "- %s (%q)%s%s\n", btn.Selector, utils.Truncate(btn.Text, 50), marker, form)
	}
	if count == 0 {
		b.WriteString("- (none)\n")
	}
	return b.String()
}

// buildStepwisePrompt assembles the user message for one NextAction call
func buildStepwisePrompt(snap *models.PageSnapshot, state *models.AgentState, creds models.Credentials) string {
	sections := []string{
		fmt.Sprintf("You are completing a signup form. Step %d of %d. Page URL: %s", state.Step, models.MaxSteps, snap.URL),
		credentialsBlock(creds),
		activeFormBlock(state),
		blocklistBlock(state),
		filledBlock(state),
		historyBlock(state),
		errorsBlock(snap.ErrorMessages),
		inputsBlock(snap),
		buttonsBlock(snap),
		"PAGE TEXT SAMPLE:\n" + utils.Truncate(snap.VisibleText, promptMaxPageText),
		stepwiseRules(state),
		stepwiseSchema(),
	}

	var nonEmpty []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, strings.TrimRight(s, "\n"))
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func stepwiseRules(state *models.AgentState) string {
	var b strings.Builder
	b.WriteString("RULES:\n")
	b.WriteString("1. Fill in order: email, name, phone, checkboxes, then click the submit button.\n")
	b.WriteString("2. Use ONLY selectors listed above. Never invent a selector.\n")
	b.WriteString("3. NEVER click country code or flag dropdowns. For phone fields set use_phone_number_only=true and leave value empty.\n")
	b.WriteString("4. Never fill a field that is already filled.\n")
	if state.Step == 1 {
		b.WriteString("5. Never respond with action complete on step 1.\n")
	} else {
		b.WriteString("5. Respond with action complete only when the page shows an unambiguous success message (e.g. \"thank you for subscribing\").\n")
	}
	if state.DetectedCountryCode != "" && state.DetectedCountryCode != "1" {
		fmt.Fprintf(&b, "6. The phone widget is set to country dial code +%s; the phone value is generated to match it.\n", state.DetectedCountryCode)
	}
	return b.String()
}

func stepwiseSchema() string {
	return `Respond with one JSON object:
{"action": "fill_field"|"click"|"scroll"|"wait"|"complete", "selector": "...", "field_type": "...", "value": "...", "use_phone_number_only": true|false, "reasoning": "..."}

Examples:
{"action": "fill_field", "selector": "#email", "field_type": "email", "value": "", "reasoning": "Fill the email field"}
{"action": "click", "selector": "button[type='submit']", "reasoning": "Submit the completed form"}`
}

// buildBatchPrompt assembles the one-shot planning prompt over simplified HTML
func buildBatchPrompt(simplifiedHTML, pageURL string, creds models.Credentials) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the complete sequence of actions to sign up on this page: %s\n\n", pageURL)
	b.WriteString(credentialsBlock(creds))
	b.WriteString("\nPAGE HTML (simplified, only forms and inputs):\n")
	b.WriteString(utils.Truncate(simplifiedHTML, promptMaxHTML))
	b.WriteString("\n\nRULES:\n")
	b.WriteString("1. Every selector MUST appear verbatim in the HTML above. Do not invent ids, names or classes.\n")
	b.WriteString("2. Valid field_type values: " + strings.Join(promptFieldTypes, ", ") + ".\n")
	b.WriteString("3. Fill only fields that belong to the signup or newsletter form. Skip search boxes and login forms.\n")
	b.WriteString("4. For phone fields set use_phone_number_only=true and leave value empty.\n")
	b.WriteString("5. The LAST action must click the form's submit button.\n")
	b.WriteString("6. If the page has no signup form, return a single complete action.\n\n")
	b.WriteString(`Respond with one JSON object:
{"actions": [{"action": "fill_field", "selector": "...", "field_type": "...", "value": "", "reasoning": "..."}, {"action": "click", "selector": "...", "reasoning": "..."}], "reasoning": "..."}`)
	return b.String()
}

// buildVerifyPrompt assembles the post-submit verification prompt
func buildVerifyPrompt(snap *models.PageSnapshot, state *models.AgentState, creds models.Credentials, networkSuccess bool, retryReason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A signup form was filled and submitted on %s. Decide whether the submission succeeded.\n\n", snap.URL)

	b.WriteString("FIELDS FILLED:\n")
	if len(state.FieldTypesFilled) == 0 {
		b.WriteString("- (none)\n")
	}
	types := make([]string, 0, len(state.FieldTypesFilled))
	for ft := range state.FieldTypesFilled {
		types = append(types, ft)
	}
	sort.Strings(types)
	for _, ft := range types {
		fmt.Fprintf(&b, "- %s (%s)\n", ft, state.FieldTypesFilled[ft])
	}
	fmt.Fprintf(&b, "\nSubmit attempts: %d\n", state.SubmitAttempts)
	if networkSuccess {
		b.WriteString("A POST/PUT request returned HTTP 2xx after the submit click.\n")
	}
	if retryReason != "" {
		b.WriteString("\nPREVIOUS RESPONSE PROBLEM: " + retryReason + "\n")
	}

	b.WriteString("\nCURRENT PAGE TEXT:\n")
	b.WriteString(utils.Truncate(snap.VisibleText, promptMaxVerifyText))
	b.WriteString("\n\nCURRENT PAGE HTML (simplified):\n")
	b.WriteString(utils.Truncate(snap.SimplifiedHTML, promptMaxHTML))

	b.WriteString("\n\nDECISION RULES (in priority order):\n")
	b.WriteString("1. Visible validation or rejection errors (\"is required\", \"invalid\", \"please fill\", \"already subscribed\", \"blocked\", \"try again\") mean validation_error, overriding everything else.\n")
	b.WriteString("2. A sales, pricing or upsell page after fields were filled and submitted means success - the lead was captured.\n")
	b.WriteString("3. Explicit thank-you or confirmation phrases mean success.\n")
	b.WriteString("4. A new second-step form asking for more details means needs_more_actions; include the actions using ONLY selectors present in the HTML above.\n")
	b.WriteString("5. Otherwise failed.\n\n")
	b.WriteString(credentialsBlock(creds))
	b.WriteString(`
Respond with one JSON object:
{"status": "success"|"needs_more_actions"|"validation_error"|"failed", "confidence": 0.0-1.0, "indicators": ["..."], "reason": "...", "next_actions": [{"action": "fill_field", "selector": "...", "field_type": "...", "value": ""}]}`)
	return b.String()
}
