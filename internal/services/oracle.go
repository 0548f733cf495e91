package services

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

// strongSuccessPhrases alone are enough to call a signup done.
var strongSuccessPhrases = []string{
	"thank you for signing up",
	"thank you for subscribing",
	"thank you for registering",
	"thank you for joining",
	"thank you for your interest",
	"thank you for your submission",
	"thanks for signing up",
	"thanks for subscribing",
	"thanks for registering",
	"thanks for joining",
	"thanks for your interest",
	"you're in",
	"you are in",
	"you're all set",
	"you are all set",
	"you're subscribed",
	"you are subscribed",
	"you have been subscribed",
	"successfully subscribed",
	"successfully registered",
	"successfully signed up",
	"registration complete",
	"registration successful",
	"subscription confirmed",
	"check your email",
	"check your inbox",
	"confirmation sent",
	"confirmation email",
	"we'll be in touch",
	"we will be in touch",
	"welcome aboard",
	"welcome to the",
}

// weakSuccessKeywords only count alongside another submit signal.
var weakSuccessKeywords = []string{"thank", "success", "confirm", "welcome", "complete"}

// successURLKeywords rescue stuck loops when a redirect landed on a
// confirmation route.
var successURLKeywords = []string{"thank", "success", "confirm", "welcome", "registered"}

// negativeVetoPhrases block weak success combinations entirely.
var negativeVetoPhrases = []string{
	"error", "failed", "invalid", "required field", "please fill",
	"please enter", "please provide", "must be", "cannot be empty",
	"is required", "try again", "forgot password", "sign in", "log in",
}

// OracleService combines page signals into a calibrated success decision
type OracleService struct {
	logger *logrus.Logger
}

// NewOracleService creates a new success oracle
func NewOracleService(logger *logrus.Logger) OracleServiceInterface {
	return &OracleService{logger: logger}
}

// CheckSuccess looks for confirmation evidence after a submit. The returned
// reasons list every signal that contributed.
func (o *OracleService) CheckSuccess(snap *models.PageSnapshot, state *models.AgentState, network []models.NetworkEvent) (bool, []string) {
	lowerText := strings.ToLower(snap.VisibleText)

	if phrase, ok := utils.FirstMatch(lowerText, strongSuccessPhrases); ok {
		return true, []string{"success phrase: " + phrase}
	}

	// Overlays get checked before the veto: confirmation modals often sit
	// on top of the still-error-bearing form.
	if ok, reason := overlaySuccess(snap.Overlay, state); ok {
		return true, []string{reason}
	}

	vetoed := utils.ContainsAny(lowerText, negativeVetoPhrases)
	submitted := state.FormSubmitted || state.SubmitAttempts > 0
	if !submitted {
		return false, nil
	}

	urlChanged := state.URLBeforeSubmit != "" && snap.URL != state.URLBeforeSubmit
	if urlChanged {
		lowerURL := strings.ToLower(snap.URL)
		if kw, ok := utils.FirstMatch(lowerURL, successURLKeywords); ok {
			return true, []string{"redirected to " + kw + " url after submit"}
		}
	}

	if vetoed {
		return false, nil
	}

	weak, hasWeak := utils.FirstMatch(lowerText, weakSuccessKeywords)
	if !hasWeak {
		return false, nil
	}

	var reasons []string
	if urlChanged {
		reasons = append(reasons, "url changed after submit", "keyword: "+weak)
	}
	if state.FormCountBeforeSubmit > 0 && snap.FormCount() == 0 {
		reasons = append(reasons, "form disappeared after submit", "keyword: "+weak)
	}
	if networkWriteSucceeded(network) && len(state.FieldsFilled) >= 1 {
		reasons = append(reasons, "2xx write response after submit", "keyword: "+weak)
	}

	if len(reasons) > 0 {
		o.logger.WithFields(logrus.Fields{"url": snap.URL, "reasons": reasons}).Debug("Oracle success")
		return true, reasons
	}
	return false, nil
}

// FinalAudit re-examines the evidence when the loop ends with a claimed
// success. A success with no submission or no filled fields is downgraded.
func (o *OracleService) FinalAudit(snap *models.PageSnapshot, state *models.AgentState, network []models.NetworkEvent) (bool, []string) {
	if !state.FormSubmitted && state.SubmitAttempts == 0 && state.ClickAttemptsAfterFill == 0 {
		return false, []string{"no submit or post-fill click ever happened"}
	}
	if len(state.FieldsFilled) == 0 {
		return false, []string{"no field was ever filled"}
	}

	if ok, reasons := o.CheckSuccess(snap, state, network); ok {
		return true, reasons
	}
	// The page may have moved on from the confirmation already; accept the
	// agent's claim when the submission evidence is solid.
	if state.FormSubmitted && networkWriteSucceeded(network) {
		return true, []string{"form submitted with 2xx write response"}
	}
	return false, []string{"no confirmation evidence on final page"}
}

// overlaySuccess classifies a post-submit overlay. Overlays holding only an
// iframe never imply success: that iframe may be a captcha challenge.
func overlaySuccess(overlay models.OverlayInfo, state *models.AgentState) (bool, string) {
	if !overlay.Present || !state.FormSubmitted {
		return false, ""
	}
	if overlay.HasCaptchaContent || overlay.HasErrorText {
		return false, ""
	}
	if overlay.IsSuccessText {
		return true, "overlay shows success text"
	}
	if overlay.IsRecommendation {
		return true, "overlay shows post-signup recommendations"
	}
	return false, ""
}

func networkWriteSucceeded(events []models.NetworkEvent) bool {
	for _, ev := range events {
		if (ev.Method == "POST" || ev.Method == "PUT") && ev.Status >= 200 && ev.Status < 300 {
			return true
		}
	}
	return false
}
