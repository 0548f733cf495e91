package services

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

var (
	appStoreHosts = []string{"apps.apple.com", "itunes.apple.com", "play.google.com"}
	appStoreTitle = []string{"on the app store", "apps on google play", "- google play"}

	loginWords  = []string{"log in", "login", "sign in", "signin", "forgot password", "remember me", "forgot your password"}
	signupWords = []string{"sign up", "signup", "register", "create account", "create your account", "create an account", "subscribe", "join", "get started"}

	socialAuthWords = []string{
		"continue with google", "sign in with google", "sign up with google",
		"continue with facebook", "sign in with facebook",
		"continue with apple", "sign in with apple", "continue with github",
	}

	blogPathPattern = regexp.MustCompile(`/(blog|article|news|post|story|p)/|/20\d{2}/`)

	navButtonWords = []string{"sign up", "signup", "subscribe", "join", "register", "get started", "newsletter", "contact", "free trial", "request demo"}

	paymentSoftWords = []string{"credit card", "payment", "checkout", "billing", "per month", "/mo", "pricing", "purchase"}
)

// ClassifierService decides whether a page is worth running the agent on
type ClassifierService struct {
	logger *logrus.Logger
}

// NewClassifierService creates a new classifier service
func NewClassifierService(logger *logrus.Logger) ClassifierServiceInterface {
	return &ClassifierService{logger: logger}
}

// Classify applies the skip heuristics in priority order
func (s *ClassifierService) Classify(snap *models.PageSnapshot) models.PageAnalysis {
	lowerText := strings.ToLower(snap.VisibleText)
	lowerTitle := strings.ToLower(snap.Title)

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if docErr != nil {
		doc = nil
	}

	analysis := s.classify(snap, doc, lowerText, lowerTitle)
	analysis.HasPaymentIndicators = analysis.HasPaymentIndicators ||
		isPaymentWall(doc, lowerText) || hasPaymentMentions(lowerText)

	s.logger.WithFields(logrus.Fields{
		"url":     snap.URL,
		"class":   analysis.Class,
		"process": analysis.ShouldProcess,
		"reason":  analysis.Reason,
	}).Debug("Page classified")

	return analysis
}

func (s *ClassifierService) classify(snap *models.PageSnapshot, doc *goquery.Document, lowerText, lowerTitle string) models.PageAnalysis {
	if reason := appStoreReason(snap.URL, lowerTitle); reason != "" {
		return models.PageAnalysis{
			Class:        models.PageAppStore,
			Reason:       reason,
			SkipCategory: models.CategoryAppStore,
		}
	}

	fillable := fillableInputs(snap)

	if isLoginOnly(snap, lowerText, lowerTitle) {
		return models.PageAnalysis{
			Class:        models.PageLoginOnly,
			Reason:       "account access form with a single password field",
			SkipCategory: models.CategoryLoginPage,
		}
	}

	if len(fillable) > 0 {
		return models.PageAnalysis{
			Class:         models.PageSignup,
			Reason:        "fillable signup fields present",
			ShouldProcess: true,
		}
	}

	if isBlogArticle(snap.URL, doc) {
		return models.PageAnalysis{
			Class:        models.PageBlogArticle,
			Reason:       "article content without any signup fields",
			SkipCategory: models.CategoryBlogArticle,
		}
	}

	if nav := navigationButtons(snap); len(nav) > 0 {
		return models.PageAnalysis{
			Class:             models.PageLandingWithNav,
			Reason:            "no form yet, signup-like navigation available",
			ShouldProcess:     true,
			NavigationButtons: nav,
		}
	}

	return models.PageAnalysis{
		Class:        models.PageLandingNoForm,
		Reason:       "no fillable fields or signup navigation found",
		SkipCategory: models.CategoryNoForm,
	}
}

func appStoreReason(pageURL, lowerTitle string) string {
	if u, err := url.Parse(pageURL); err == nil {
		host := strings.ToLower(u.Hostname())
		for _, storeHost := range appStoreHosts {
			if host == storeHost || strings.HasSuffix(host, "."+storeHost) {
				return "app store host " + host
			}
		}
	}
	for _, pattern := range appStoreTitle {
		if strings.Contains(lowerTitle, pattern) {
			return "app store page title"
		}
	}
	return ""
}

// fillableInputs returns inputs the agent could type into. Search boxes do
// not make a page a signup target.
func fillableInputs(snap *models.PageSnapshot) []models.InputInfo {
	var out []models.InputInfo
	for _, in := range snap.Inputs {
		if !in.Visible && !in.HiddenSrOnly {
			continue
		}
		switch in.Kind {
		case "email", "text", "tel", "textarea", "number", "url":
		default:
			continue
		}
		meta := strings.ToLower(in.Name + " " + in.Placeholder + " " + in.Label)
		if strings.Contains(meta, "search") || in.Name == "q" || in.Name == "s" {
			continue
		}
		out = append(out, in)
	}
	return out
}

// isLoginOnly flags account-access pages the agent cannot complete: a
// single visible password input next to an email input, account-creation
// button text, social-login buttons, or login language. Two password
// fields mean a confirm-password sibling, a registration form the agent
// can fill.
func isLoginOnly(snap *models.PageSnapshot, lowerText, lowerTitle string) bool {
	passwords := 0
	for _, in := range snap.Inputs {
		if in.Kind == "password" && (in.Visible || in.HiddenSrOnly) {
			passwords++
		}
	}
	if passwords != 1 {
		return false
	}

	for _, in := range snap.Inputs {
		if in.Kind == "email" && (in.Visible || in.HiddenSrOnly) {
			return true
		}
	}
	if utils.ContainsAny(lowerText, socialAuthWords) {
		return true
	}
	for _, b := range snap.Buttons {
		if utils.ContainsAny(strings.ToLower(b.Text), signupWords) {
			return true
		}
	}
	return utils.ContainsAny(lowerText, loginWords) || utils.ContainsAny(lowerTitle, loginWords)
}

func isPaymentWall(doc *goquery.Document, lowerText string) bool {
	if doc != nil {
		if doc.Find(`input[autocomplete^="cc-"]`).Length() > 0 {
			return true
		}
		if doc.Find(`input[name*="card_number"], input[id*="card-number"], input[name*="cardnumber"]`).Length() > 0 {
			return true
		}
	}
	return strings.Contains(lowerText, "card number") &&
		(strings.Contains(lowerText, "cvc") || strings.Contains(lowerText, "cvv") || strings.Contains(lowerText, "expiry"))
}

func isBlogArticle(pageURL string, doc *goquery.Document) bool {
	if u, err := url.Parse(pageURL); err == nil {
		if blogPathPattern.MatchString(strings.ToLower(u.Path)) {
			return true
		}
	}
	if doc == nil {
		return false
	}
	if val, ok := doc.Find(`meta[property="og:type"]`).Attr("content"); ok && strings.EqualFold(val, "article") {
		return true
	}
	long := false
	doc.Find("article").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(strings.TrimSpace(sel.Text())) > 1500 {
			long = true
			return false
		}
		return true
	})
	return long
}

// navigationButtons picks up to three buttons likely to lead to a signup form
func navigationButtons(snap *models.PageSnapshot) []models.ButtonInfo {
	var nav []models.ButtonInfo
	seen := make(map[string]bool)

	add := func(b models.ButtonInfo) {
		if len(nav) >= 3 || seen[b.Selector] || b.Selector == "" {
			return
		}
		seen[b.Selector] = true
		nav = append(nav, b)
	}

	for _, b := range snap.Buttons {
		if utils.ContainsAny(strings.ToLower(b.Text), navButtonWords) {
			add(b)
		}
	}
	for _, b := range snap.Buttons {
		if b.IsCTA {
			add(b)
		}
	}
	return nav
}

func hasPaymentMentions(lowerText string) bool {
	for _, w := range paymentSoftWords {
		if strings.Contains(lowerText, w) {
			return true
		}
	}
	return false
}

