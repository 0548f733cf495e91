package models

import "time"

// Status is the terminal state of one processed URL
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// ErrorCategory classifies why a URL failed or was skipped
type ErrorCategory string

const (
	CategoryValidation      ErrorCategory = "validation"
	CategoryNotFound        ErrorCategory = "not_found"
	CategoryHidden          ErrorCategory = "hidden"
	CategorySelector        ErrorCategory = "selector"
	CategoryNetwork         ErrorCategory = "network"
	CategoryCaptcha         ErrorCategory = "captcha"
	CategoryLLMError        ErrorCategory = "llm_error"
	CategoryNoSubmit        ErrorCategory = "no_submit"
	CategoryNoFields        ErrorCategory = "no_fields"
	CategoryNoConfirmation  ErrorCategory = "no_confirmation"
	CategoryStuckLoop       ErrorCategory = "stuck_loop"
	CategoryNoForm          ErrorCategory = "no_form"
	CategoryBlogArticle     ErrorCategory = "blog_article"
	CategoryLoginPage       ErrorCategory = "login_page"
	CategoryPaymentRequired ErrorCategory = "payment_required"
	CategoryAppStore        ErrorCategory = "app_store"
	CategoryLoadError       ErrorCategory = "load_error"
	CategoryException       ErrorCategory = "exception"
)

// PageClass is the classifier's verdict for one snapshot
type PageClass string

const (
	PageSignup          PageClass = "signup"
	PageLoginOnly       PageClass = "login_only"
	PageBlogArticle     PageClass = "blog_article"
	PageLandingNoForm   PageClass = "landing_no_form"
	PageLandingWithNav  PageClass = "landing_with_nav"
	PagePaymentRequired PageClass = "payment_required"
	PageAppStore        PageClass = "app_store"
	PageLoadError       PageClass = "load_error"
)

// PageAnalysis is the classifier output consumed by the agent loop
type PageAnalysis struct {
	Class                PageClass     `json:"class"`
	Reason               string        `json:"reason,omitempty"`
	ShouldProcess        bool          `json:"should_process"`
	SkipCategory         ErrorCategory `json:"skip_category,omitempty"`
	NavigationButtons    []ButtonInfo  `json:"navigation_buttons,omitempty"`
	HasPaymentIndicators bool          `json:"has_payment_indicators,omitempty"`
}

// SignupResult is the outcome emitted for one URL
type SignupResult struct {
	URL               string            `json:"url"`
	Status            Status            `json:"status"`
	FieldsFilled      []string          `json:"fields_filled,omitempty"`
	FieldTypesFilled  map[string]string `json:"field_types_filled,omitempty"`
	PrimaryError      string            `json:"primary_error,omitempty"`
	PrimaryCategory   ErrorCategory     `json:"primary_category,omitempty"`
	Details           string            `json:"details,omitempty"`
	Actions           []ActionRecord    `json:"actions,omitempty"`
	SubmitAttempts    int               `json:"submit_attempts"`
	FormSubmitted     bool              `json:"form_submitted"`
	StuckLoopDetected bool              `json:"stuck_loop_detected"`
	CaptchaAttempted  bool              `json:"captcha_attempted"`
	CaptchaSolved     bool              `json:"captcha_solved"`
	SignupType        string            `json:"signup_type,omitempty"`
	Duration          time.Duration     `json:"duration_ms"`
	Interrupted       bool              `json:"interrupted,omitempty"`
}

// VerifyStatus is the verifier's verdict after a submit
type VerifyStatus string

const (
	VerifySuccess         VerifyStatus = "success"
	VerifyNeedsMore       VerifyStatus = "needs_more_actions"
	VerifyValidationError VerifyStatus = "validation_error"
	VerifyFailed          VerifyStatus = "failed"
)

// Verification is the parsed verifier response
type Verification struct {
	Status      VerifyStatus `json:"status"`
	Confidence  float64      `json:"confidence,omitempty"`
	Indicators  []string     `json:"indicators,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	NextActions []Action     `json:"next_actions,omitempty"`
}

// ModelUsage aggregates token spend for one model
type ModelUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Calls        int     `json:"calls"`
}

// CostSummary is a snapshot of the run's API spend
type CostSummary struct {
	SessionStart time.Time             `json:"session_start"`
	TotalCalls   int                   `json:"total_calls"`
	TotalCost    float64               `json:"total_cost"`
	Models       map[string]ModelUsage `json:"models"`
}

// RunSummary aggregates one pipeline run
type RunSummary struct {
	RunID             string         `json:"run_id"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	TotalAttempted    int            `json:"total_attempted"`
	Successful        int            `json:"successful"`
	Failed            int            `json:"failed"`
	Skipped           int            `json:"skipped"`
	Interrupted       bool           `json:"interrupted"`
	FailureCategories map[string]int `json:"failure_categories,omitempty"`
	Cost              CostSummary    `json:"cost"`
}

// RunStatus is the live view served by the status API
type RunStatus struct {
	RunID               string      `json:"run_id"`
	Running             bool        `json:"running"`
	CurrentURL          string      `json:"current_url,omitempty"`
	Processed           int         `json:"processed"`
	Successful          int         `json:"successful"`
	Failed              int         `json:"failed"`
	Skipped             int         `json:"skipped"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	StartedAt           time.Time   `json:"started_at"`
	Cost                CostSummary `json:"cost"`
}

// TargetURL is one unit of work fed to the pipeline
type TargetURL struct {
	URL        string `json:"url"`
	AdID       string `json:"ad_id,omitempty"`
	Advertiser string `json:"advertiser,omitempty"`
	Source     string `json:"source"`
}
