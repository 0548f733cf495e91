package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inboxhunter/signup-agent/internal/models"
)

func TestContainsSubmitKeyword(t *testing.T) {
	tests := []struct {
		text   string
		strong bool
		any    bool
	}{
		{"Submit", true, true},
		{"Sign Up Now", true, true},
		{"SUBSCRIBE", true, true},
		{"Join the waitlist", true, true},
		{"Continue", false, true},
		{"Next step", false, true},
		{"Get Started", false, true},
		{"Learn More", false, false},
		{"Close", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.strong, HasStrongSubmitKeyword(tt.text))
			assert.Equal(t, tt.any, ContainsSubmitKeyword(tt.text))
		})
	}
}

func TestIsPureCTA(t *testing.T) {
	tests := []struct {
		text    string
		classes string
		want    bool
	}{
		{"Get Started Free", "", true},
		{"Try It Free", "", true},
		{"Download Now", "", true},
		{"Start Your Free Trial", "", true},
		{"Learn More", "btn-cta", true},
		{"Submit", "", false},
		{"Sign Up", "", false},
		{"Subscribe", "", false},
		{"Send Message", "", false},
		// Strong keyword beats CTA styling.
		{"Sign Up Free Today", "btn-cta hero", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPureCTA(tt.text, tt.classes))
		})
	}
}

func TestIsRadioOrCheckboxSelector(t *testing.T) {
	assert.True(t, IsRadioOrCheckboxSelector(`input[type="radio"]`))
	assert.True(t, IsRadioOrCheckboxSelector(`input[type='checkbox']`))
	assert.True(t, IsRadioOrCheckboxSelector("#newsletter-checkbox"))
	assert.True(t, IsRadioOrCheckboxSelector(".radio-option"))
	assert.False(t, IsRadioOrCheckboxSelector("button.submit"))
	assert.False(t, IsRadioOrCheckboxSelector("#signup-form button"))
}

func TestIsRealSubmit(t *testing.T) {
	tests := []struct {
		name         string
		fieldsFilled int
		selector     string
		text         string
		want         bool
	}{
		{"submit after fill", 2, "button[type='submit']", "Submit", true},
		{"sign up after fill", 1, "#signup-btn", "Sign Up", true},
		{"weak keyword after fill", 1, "#next", "Continue", true},
		{"nothing filled yet", 0, "button[type='submit']", "Submit", false},
		{"radio click", 2, `input[type="radio"]#opt-1`, "Submit", false},
		{"checkbox click", 2, "#terms-checkbox", "Sign up for updates", false},
		{"pure CTA", 3, ".hero-btn", "Get Started Free", false},
		{"no keyword at all", 2, "#close", "Close", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRealSubmit(tt.fieldsFilled, tt.selector, tt.text))
		})
	}
}

const sampleHTML = `
<html><body>
<form id="signup" action="/subscribe" method="post">
	<input type="email" id="email" name="email" placeholder="Enter your email">
	<input type="text" name="first_name">
	<button type="submit" class="btn btn-primary">Sign Up</button>
</form>
<div class="footer">Contact us anytime</div>
</body></html>`

func TestValidateSelectorExists(t *testing.T) {
	tests := []struct {
		selector string
		want     bool
	}{
		{"#email", true},
		{"input[name='email']", true},
		{`input[name="first_name"]`, true},
		{"form#signup button", true},
		{"#missing-element", false},
		{"input[name='phone']", false},
		{`button:has-text("Sign Up")`, true},
		{`button:has-text("Log In")`, false},
		{`div:contains('Contact us')`, true},
		// XPath and empty selectors.
		{"//button[@type='submit']", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateSelectorExists(sampleHTML, tt.selector))
		})
	}
}

func TestValidateActions(t *testing.T) {
	actions := []models.Action{
		{Kind: models.ActionFillField, Selector: "#email", Value: "a@b.com"},
		{Kind: models.ActionFillField, Selector: "#ghost-field", Value: "x"},
		{Kind: models.ActionClick, Selector: "form#signup button"},
		{Kind: models.ActionWait},
		{Kind: models.ActionComplete},
	}

	valid, rejected := ValidateActions(actions, sampleHTML)
	assert.Len(t, valid, 4)
	assert.Equal(t, []string{"#ghost-field"}, rejected)
	assert.Equal(t, models.ActionFillField, valid[0].Kind)
	assert.Equal(t, models.ActionWait, valid[2].Kind)
}

func TestDetectFieldType(t *testing.T) {
	tests := []struct {
		name  string
		input models.InputInfo
		want  string
	}{
		{"type email", models.InputInfo{Kind: "email"}, "email"},
		{"type tel", models.InputInfo{Kind: "tel"}, "phone"},
		{"type checkbox", models.InputInfo{Kind: "checkbox"}, "checkbox"},
		{"name email", models.InputInfo{Kind: "text", Name: "user_email"}, "email"},
		{"placeholder phone", models.InputInfo{Kind: "text", Placeholder: "Phone number"}, "phone"},
		{"first name", models.InputInfo{Kind: "text", Name: "first_name"}, "first_name"},
		{"last name", models.InputInfo{Kind: "text", Label: "Last Name"}, "last_name"},
		{"bare name", models.InputInfo{Kind: "text", Name: "name", Selector: "#name"}, "full_name"},
		{"company", models.InputInfo{Kind: "text", Placeholder: "Company name"}, "company"},
		{"website", models.InputInfo{Kind: "text", Name: "website"}, "website"},
		{"zip", models.InputInfo{Kind: "text", Label: "ZIP"}, "zip"},
		{"unknown", models.InputInfo{Kind: "text", Name: "q"}, "text"},
		{"hotel is not a phone", models.InputInfo{Kind: "text", Placeholder: "Hotel preference"}, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFieldType(tt.input))
		})
	}
}

func TestHumanFieldName(t *testing.T) {
	assert.Equal(t, "Email", HumanFieldName("email"))
	assert.Equal(t, "First name", HumanFieldName("FIRST_NAME"))
	assert.Equal(t, "custom_thing", HumanFieldName("custom_thing"))
}
