package services

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// Strong keywords mark buttons that genuinely submit a form. Weak keywords
// appear on multi-step forms and only count as submits once fields are filled.
var (
	strongSubmitKeywords = []string{"submit", "sign up", "signup", "register", "subscribe", "join", "send"}
	weakSubmitKeywords   = []string{"continue", "next", "create", "get started"}

	ctaActionVerbs = []string{"get", "start", "try", "download", "claim", "grab", "unlock", "access", "discover", "shop", "buy", "learn"}
	ctaUrgency     = []string{"now", "today", "free", "instant", "limited"}
	ctaTargets     = []string{"demo", "trial", "quote", "consultation"}
)

var hasTextPattern = regexp.MustCompile(`^(.*?):(?:has-text|contains)\(\s*['"]?(.*?)['"]?\s*\)\s*$`)

// ContainsSubmitKeyword reports whether button text carries any submit keyword
func ContainsSubmitKeyword(text string) bool {
	return HasStrongSubmitKeyword(text) || hasWeakSubmitKeyword(text)
}

// HasStrongSubmitKeyword reports whether button text carries an unambiguous submit keyword
func HasStrongSubmitKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range strongSubmitKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasWeakSubmitKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range weakSubmitKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CTAScore rates how much a button reads like a marketing call-to-action
// rather than a form submit. Scores of 2 or more are treated as CTAs.
func CTAScore(text, classes string) int {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return 0
	}

	score := 0
	for _, verb := range ctaActionVerbs {
		if containsWord(lower, verb) {
			score += 2
			break
		}
	}
	for _, word := range ctaUrgency {
		if containsWord(lower, word) {
			score++
			break
		}
	}
	for _, word := range ctaTargets {
		if containsWord(lower, word) {
			score++
			break
		}
	}
	if HasStrongSubmitKeyword(lower) {
		score -= 3
	}

	classLower := strings.ToLower(classes)
	if strings.Contains(classLower, "cta") || strings.Contains(classLower, "hero") {
		score += 2
	}

	words := len(strings.Fields(lower))
	switch {
	case words >= 1 && words <= 6:
		score++
	case words > 10:
		score--
	}
	return score
}

// IsPureCTA reports whether button text is a call-to-action with no submit intent
func IsPureCTA(text, classes string) bool {
	return CTAScore(text, classes) >= 2 && !HasStrongSubmitKeyword(text)
}

// IsRadioOrCheckboxSelector reports whether a selector targets a radio or checkbox
// input. Clicking those never counts as a form submit.
func IsRadioOrCheckboxSelector(selector string) bool {
	normalized := strings.ToLower(selector)
	normalized = strings.ReplaceAll(normalized, `"`, "")
	normalized = strings.ReplaceAll(normalized, "'", "")
	return strings.Contains(normalized, "radio") || strings.Contains(normalized, "checkbox")
}

// IsRealSubmit decides whether a click should count as a genuine form
// submission: at least one field filled, not a radio/checkbox, button text
// carrying a submit keyword, and not a pure marketing CTA.
func IsRealSubmit(fieldsFilled int, selector, buttonText string) bool {
	if fieldsFilled == 0 {
		return false
	}
	if IsRadioOrCheckboxSelector(selector) {
		return false
	}
	if !ContainsSubmitKeyword(buttonText) {
		return false
	}
	if IsPureCTA(buttonText, "") {
		return false
	}
	return true
}

// ValidateSelectorExists checks a CSS selector against raw page HTML.
// Selectors that cannot be evaluated locally (XPath, exotic pseudo-classes)
// are assumed present so only provably missing targets get blocked.
func ValidateSelectorExists(html, selector string) bool {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return false
	}
	// XPath is resolved by the browser, not here.
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}

	if m := hasTextPattern.FindStringSubmatch(selector); m != nil {
		base := strings.TrimSpace(m[1])
		if base == "" {
			base = "*"
		}
		needle := strings.ToLower(m[2])
		found := false
		safeFind(doc, base).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.Contains(strings.ToLower(s.Text()), needle) {
				found = true
				return false
			}
			return true
		})
		return found
	}

	sel := safeFind(doc, selector)
	if sel == nil {
		// Unparseable selector, leave it to the browser.
		return true
	}
	return sel.Length() > 0
}

// safeFind wraps goquery.Find, which panics on selectors cascadia cannot compile
func safeFind(doc *goquery.Document, selector string) (sel *goquery.Selection) {
	defer func() {
		if r := recover(); r != nil {
			sel = nil
		}
	}()
	return doc.Find(selector)
}

// ValidateActions drops planned actions whose selectors are provably absent
// from the page. Returns the surviving actions and the rejected selectors.
func ValidateActions(actions []models.Action, html string) ([]models.Action, []string) {
	var valid []models.Action
	var rejected []string
	for _, action := range actions {
		switch action.Kind {
		case models.ActionFillField, models.ActionClick:
			if !ValidateSelectorExists(html, action.Selector) {
				rejected = append(rejected, action.Selector)
				continue
			}
		}
		valid = append(valid, action)
	}
	return valid, rejected
}

var fieldTypePatterns = []struct {
	fieldType string
	pattern   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`(?i)e[-_]?mail`)},
	{"phone", regexp.MustCompile(`(?i)phone|mobile|\btel\b`)},
	{"first_name", regexp.MustCompile(`(?i)first[-_ ]?name|fname|given`)},
	{"last_name", regexp.MustCompile(`(?i)last[-_ ]?name|lname|surname|family`)},
	{"company", regexp.MustCompile(`(?i)company|business|organization|organisation`)},
	{"website", regexp.MustCompile(`(?i)website|web[-_ ]?site|url|domain`)},
	{"full_name", regexp.MustCompile(`(?i)full[-_ ]?name|your[-_ ]?name|\bname\b`)},
	{"address", regexp.MustCompile(`(?i)address|street`)},
	{"city", regexp.MustCompile(`(?i)\bcity\b|\btown\b`)},
	{"state", regexp.MustCompile(`(?i)\bstate\b|province|region`)},
	{"zip", regexp.MustCompile(`(?i)\bzip\b|postal|postcode`)},
	{"country", regexp.MustCompile(`(?i)country`)},
	{"password", regexp.MustCompile(`(?i)password|passwd`)},
	{"message", regexp.MustCompile(`(?i)message|comment|question|how can we help`)},
}

// DetectFieldType maps an input's attributes to a canonical field type.
// Used when the planner omits field_type or names a type we don't know.
func DetectFieldType(input models.InputInfo) string {
	switch strings.ToLower(input.Kind) {
	case "email":
		return "email"
	case "tel":
		return "phone"
	case "password":
		return "password"
	case "checkbox":
		return "checkbox"
	case "url":
		return "website"
	}

	haystack := strings.ToLower(strings.Join([]string{input.Name, input.Placeholder, input.Label, input.Selector}, " "))
	for _, entry := range fieldTypePatterns {
		if entry.pattern.MatchString(haystack) {
			return entry.fieldType
		}
	}
	return "text"
}

var humanFieldNames = map[string]string{
	"email":      "Email",
	"first_name": "First name",
	"last_name":  "Last name",
	"full_name":  "Full name",
	"name":       "Full name",
	"phone":      "Phone",
	"company":    "Company",
	"website":    "Website",
	"address":    "Address",
	"city":       "City",
	"state":      "State",
	"zip":        "ZIP code",
	"country":    "Country",
	"password":   "Password",
	"message":    "Message",
	"checkbox":   "Checkbox",
	"text":       "Text",
}

// HumanFieldName renders a field type for log lines
func HumanFieldName(fieldType string) string {
	if name, ok := humanFieldNames[strings.ToLower(fieldType)]; ok {
		return name
	}
	return fieldType
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(text[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isWordChar(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
