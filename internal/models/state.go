package models

const (
	// MaxSteps bounds the per-URL agent loop
	MaxSteps = 30

	// MaxRecentActions bounds the loop-detection window
	MaxRecentActions = 10

	// MaxActionFailures bounds hard failures before the URL is abandoned
	MaxActionFailures = 5
)

// AgentState tracks everything the agent knows about one URL in progress.
// Created per URL, finalized into a SignupResult.
type AgentState struct {
	URL  string
	Step int

	Actions []ActionRecord

	FieldsFilled      map[string]string
	FieldTypesFilled  map[string]string
	CheckboxesChecked map[string]bool

	CountryCodeAttempts int
	PhoneFallbackUsed   bool
	DetectedCountryCode string

	SubmitAttempts         int
	ClickAttemptsAfterFill int
	FormSubmitted          bool

	URLBeforeSubmit       string
	FormCountBeforeSubmit int

	ActiveFormID             string
	ActiveFormSelector       string
	ActiveFormSubmitSelector string

	ErrorMessagesSeen map[string]int
	RecentActions     []string

	CaptchaAttempted bool
	CaptchaSolved    bool

	HallucinationCount        int
	TotalFailures             int
	ConsecutiveSelectorFails  int
	StuckLoopDetected         bool
	LLMFailureReason          string
	NonExistentSelectors      map[string]bool
	FailedSelectorHints       []string
	LastActionFailed          bool
	LastActionKind            ActionKind
	PaymentIndicatorsObserved bool
}

// NewAgentState creates the per-URL state with empty collections
func NewAgentState(url string) *AgentState {
	return &AgentState{
		URL:                  url,
		Step:                 1,
		FieldsFilled:         make(map[string]string),
		FieldTypesFilled:     make(map[string]string),
		CheckboxesChecked:    make(map[string]bool),
		ErrorMessagesSeen:    make(map[string]int),
		NonExistentSelectors: make(map[string]bool),
	}
}

// RecordAction appends the executed action and updates failure counters
func (s *AgentState) RecordAction(rec ActionRecord) {
	s.Actions = append(s.Actions, rec)
	s.LastActionKind = rec.Kind
	s.LastActionFailed = !rec.Success
	if !rec.Success {
		s.TotalFailures++
	}
	s.PushRecentAction(string(rec.Kind) + ":" + rec.Selector)
}

// PushRecentAction appends a pattern string to the bounded loop window
func (s *AgentState) PushRecentAction(pattern string) {
	s.RecentActions = append(s.RecentActions, pattern)
	if len(s.RecentActions) > MaxRecentActions {
		s.RecentActions = s.RecentActions[len(s.RecentActions)-MaxRecentActions:]
	}
}

// NoteFill records a successful field fill for refill prevention
func (s *AgentState) NoteFill(selector, value, fieldType string) {
	s.FieldsFilled[selector] = value
	if fieldType != "" {
		s.FieldTypesFilled[fieldType] = selector
	}
	s.ConsecutiveSelectorFails = 0
}

// NoteCheckbox records a checked checkbox selector
func (s *AgentState) NoteCheckbox(selector string) {
	s.CheckboxesChecked[selector] = true
}

// NoteError counts a visible validation error occurrence
func (s *AgentState) NoteError(message string) {
	if message == "" {
		return
	}
	s.ErrorMessagesSeen[message]++
}

// NoteSubmit records one real submit attempt. FormSubmitted latches.
func (s *AgentState) NoteSubmit(urlBefore string, formCountBefore int) {
	if s.SubmitAttempts == 0 {
		s.URLBeforeSubmit = urlBefore
		s.FormCountBeforeSubmit = formCountBefore
	}
	s.SubmitAttempts++
	s.FormSubmitted = true
}

// SetActiveForm remembers the form whose input was most recently filled
func (s *AgentState) SetActiveForm(id, selector, submitSelector string) {
	if id == "" && selector == "" {
		return
	}
	s.ActiveFormID = id
	s.ActiveFormSelector = selector
	if submitSelector != "" {
		s.ActiveFormSubmitSelector = submitSelector
	}
}

// BlockSelector marks a selector as verified non-existent
func (s *AgentState) BlockSelector(selector string) {
	if selector == "" {
		return
	}
	s.NonExistentSelectors[selector] = true
	s.HallucinationCount++
}

// IsBlocked reports whether a selector was previously proven non-existent
func (s *AgentState) IsBlocked(selector string) bool {
	return s.NonExistentSelectors[selector]
}

// BlockedSelectors returns up to limit blocklisted selectors for prompts
func (s *AgentState) BlockedSelectors(limit int) []string {
	out := make([]string, 0, len(s.NonExistentSelectors))
	for sel := range s.NonExistentSelectors {
		out = append(out, sel)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// FilledSelectors returns the selectors filled so far, for result records
func (s *AgentState) FilledSelectors() []string {
	out := make([]string, 0, len(s.FieldsFilled))
	for sel := range s.FieldsFilled {
		out = append(out, sel)
	}
	return out
}

// HasFilledFields reports whether at least one field was filled
func (s *AgentState) HasFilledFields() bool {
	return len(s.FieldsFilled) > 0
}

// LastActions returns up to n most recent action records for prompts
func (s *AgentState) LastActions(n int) []ActionRecord {
	if len(s.Actions) <= n {
		return s.Actions
	}
	return s.Actions[len(s.Actions)-n:]
}
