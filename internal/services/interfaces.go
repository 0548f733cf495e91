package services

import (
	"context"
	"time"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// CredentialServiceInterface defines the interface for credential resolution
type CredentialServiceInterface interface {
	// Resolve returns the value to fill for a field type
	Resolve(fieldType string, input *models.InputInfo) string

	// DetectCountryCode resolves phone widget signals to a dial code
	DetectCountryCode(widget models.PhoneWidgetInfo) string

	// GeneratePhone builds a plausible phone number for a dial code
	GeneratePhone(countryCode string) models.Phone

	// Credentials returns the configured identity
	Credentials() models.Credentials
}

// CacheServiceInterface defines the interface for cache service
type CacheServiceInterface interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value string) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)

	// Health returns cache service health status
	Health() map[string]interface{}
}

// BrowserServiceInterface defines the interface for the browser runtime
type BrowserServiceInterface interface {
	// Start launches the shared browser process
	Start(ctx context.Context) error

	// NewSession opens an isolated tab with fresh cookies
	NewSession(ctx context.Context) (PageSession, error)

	// Health returns browser service health status
	Health() map[string]interface{}

	// Close shuts the browser down and releases resources
	Close() error
}

// PageSession drives one isolated browser tab
type PageSession interface {
	// Navigate loads a URL and categorises load failures
	Navigate(ctx context.Context, url string) (*models.NavigationResult, error)

	// CurrentURL returns the page's current location
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the document title
	Title(ctx context.Context) (string, error)

	// HTML returns the full serialised DOM
	HTML(ctx context.Context) (string, error)

	// Evaluate runs JavaScript and unmarshals the result into out
	Evaluate(ctx context.Context, script string, out interface{}) error

	// Click clicks an element by CSS selector
	Click(ctx context.Context, selector string) error

	// ClickByText clicks the first element whose text matches
	ClickByText(ctx context.Context, text string) error

	// JSClick clicks via JavaScript, reaching overlapped elements
	JSClick(ctx context.Context, selector string) error

	// MouseClickXY dispatches a raw click at viewport coordinates
	MouseClickXY(ctx context.Context, x, y float64) error

	// SendKeys focuses a field, clears it and types a value
	SendKeys(ctx context.Context, selector, value string) error

	// SetValueJS sets a field value via JavaScript and fires input events
	SetValueJS(ctx context.Context, selector, value string) error

	// FieldValue reads a field's current value
	FieldValue(ctx context.Context, selector string) (string, error)

	// PressEscape sends the Escape key to the page
	PressEscape(ctx context.Context) error

	// ScrollBy scrolls the viewport vertically
	ScrollBy(ctx context.Context, pixels float64) error

	// Screenshot captures the full page as JPEG
	Screenshot(ctx context.Context) ([]byte, error)

	// WaitVisible waits for a selector to become visible
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// WaitNetworkIdle waits until no requests are in flight
	WaitNetworkIdle(ctx context.Context, quiet, max time.Duration) error

	// NetworkLog returns write responses observed since the last clear
	NetworkLog() []models.NetworkEvent

	// ClearNetworkLog resets the response log, called before submits
	ClearNetworkLog()

	// Close releases the tab
	Close() error
}

// ObserverServiceInterface defines the interface for page observation
type ObserverServiceInterface interface {
	// Observe captures a normalised snapshot of the current page
	Observe(ctx context.Context, session PageSession) (*models.PageSnapshot, error)
}

// ClassifierServiceInterface defines the interface for page classification
type ClassifierServiceInterface interface {
	// Classify decides whether a page is worth processing
	Classify(snapshot *models.PageSnapshot) models.PageAnalysis
}

// PlannerServiceInterface defines the interface for LLM action planning
type PlannerServiceInterface interface {
	// NextAction plans a single next action from the page state
	NextAction(ctx context.Context, snapshot *models.PageSnapshot, state *models.AgentState, screenshot []byte) (*models.Action, error)

	// PlanActions plans a batch of actions for a fresh form
	PlanActions(ctx context.Context, snapshot *models.PageSnapshot, state *models.AgentState) ([]models.Action, error)

	// Verify asks the model whether the signup flow completed
	Verify(ctx context.Context, snapshot *models.PageSnapshot, state *models.AgentState, networkSuccess bool) (*models.Verification, error)

	// CostSummary returns accumulated API spend
	CostSummary() models.CostSummary
}

// GuardServiceInterface defines the interface for loop and hallucination protection
type GuardServiceInterface interface {
	// ValidateAction rejects actions referencing selectors absent from the page
	ValidateAction(action *models.Action, snapshot *models.PageSnapshot, state *models.AgentState) error

	// CheckStuckLoop reports whether the agent is spinning without progress
	CheckStuckLoop(state *models.AgentState, snapshot *models.PageSnapshot) (bool, string)

	// ClassifyFailure maps the accumulated evidence to an error category
	ClassifyFailure(state *models.AgentState, snapshot *models.PageSnapshot) (models.ErrorCategory, string)
}

// OracleServiceInterface defines the interface for success detection
type OracleServiceInterface interface {
	// CheckSuccess looks for confirmation evidence after a submit
	CheckSuccess(snapshot *models.PageSnapshot, state *models.AgentState, network []models.NetworkEvent) (bool, []string)

	// FinalAudit re-examines all evidence when the loop ends undecided
	FinalAudit(snapshot *models.PageSnapshot, state *models.AgentState, network []models.NetworkEvent) (bool, []string)
}

// ExecutorServiceInterface defines the interface for action execution
type ExecutorServiceInterface interface {
	// Execute performs one planned action against the page
	Execute(ctx context.Context, session PageSession, action models.Action, snapshot *models.PageSnapshot, state *models.AgentState) error

	// DismissOverlay closes a blocking overlay
	DismissOverlay(ctx context.Context, session PageSession, overlay models.OverlayInfo) error
}

// CaptchaHandlerInterface defines the interface for on-page captcha handling
type CaptchaHandlerInterface interface {
	// Handle attempts to clear a captcha, returns whether it was solved
	Handle(ctx context.Context, session PageSession, snapshot *models.PageSnapshot, state *models.AgentState) (bool, error)
}

// AgentServiceInterface defines the interface for the per-URL agent loop
type AgentServiceInterface interface {
	// ProcessURL runs the full signup attempt for one URL
	ProcessURL(ctx context.Context, target models.TargetURL) *models.SignupResult
}

// PipelineServiceInterface defines the interface for the run orchestrator
type PipelineServiceInterface interface {
	// Run processes URLs until sources drain or budgets stop the run
	Run(ctx context.Context) (*models.RunSummary, error)

	// Status returns the live run view for the status API
	Status() models.RunStatus

	// RequestStop asks the run to stop after the current URL
	RequestStop()
}

// URLSource yields target URLs for the pipeline. Next returns nil when
// the source is drained.
type URLSource interface {
	// Name identifies the source in logs
	Name() string

	// Next returns the next target, or nil when drained
	Next(ctx context.Context) (*models.TargetURL, error)
}
