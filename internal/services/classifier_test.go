package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inboxhunter/signup-agent/internal/models"
)

func newTestClassifier() ClassifierServiceInterface {
	return NewClassifierService(quietLogger())
}

func TestClassifyAppStore(t *testing.T) {
	c := newTestClassifier()

	byHost := c.Classify(&models.PageSnapshot{URL: "https://apps.apple.com/us/app/some-app/id123"})
	assert.Equal(t, models.PageAppStore, byHost.Class)
	assert.False(t, byHost.ShouldProcess)
	assert.Equal(t, models.CategoryAppStore, byHost.SkipCategory)

	byTitle := c.Classify(&models.PageSnapshot{
		URL:   "https://example.com/get-app",
		Title: "SuperTracker on the App Store",
	})
	assert.Equal(t, models.PageAppStore, byTitle.Class)
}

func TestClassifyLoginOnly(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL:         "https://example.com/account",
		Title:       "Log in",
		VisibleText: "Log in to your account. Forgot password?",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true},
			{Kind: "password", Selector: "#password", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageLoginOnly, analysis.Class)
	assert.False(t, analysis.ShouldProcess)
	assert.Equal(t, models.CategoryLoginPage, analysis.SkipCategory)
}

func TestClassifyAccountRegistrationIsSkipped(t *testing.T) {
	c := newTestClassifier()

	// A lone password field with a "Create Account" button is an account
	// registration gate, not a form the agent can complete.
	snap := &models.PageSnapshot{
		URL:         "https://example.com/account",
		VisibleText: "Welcome! Enter your details to get going.",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true},
			{Kind: "password", Selector: "#password", Visible: true},
		},
		Buttons: []models.ButtonInfo{
			{Text: "Create Account", Selector: "#create"},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageLoginOnly, analysis.Class)
	assert.False(t, analysis.ShouldProcess)
	assert.Equal(t, models.CategoryLoginPage, analysis.SkipCategory)
}

func TestClassifySocialLoginIsSkipped(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL:         "https://example.com/welcome",
		VisibleText: "Continue with Google or use your password",
		Inputs: []models.InputInfo{
			{Kind: "password", Selector: "#password", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageLoginOnly, analysis.Class)
	assert.Equal(t, models.CategoryLoginPage, analysis.SkipCategory)
}

func TestClassifyConfirmPasswordFormIsProcessed(t *testing.T) {
	c := newTestClassifier()

	// A confirm-password sibling marks a registration form worth filling.
	snap := &models.PageSnapshot{
		URL:         "https://example.com/register",
		VisibleText: "Create your account",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true},
			{Kind: "password", Selector: "#password", Visible: true},
			{Kind: "password", Selector: "#password-confirm", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageSignup, analysis.Class)
	assert.True(t, analysis.ShouldProcess)
}

func TestClassifySignupForm(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL:         "https://example.com",
		VisibleText: "Join our newsletter",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true, Placeholder: "Enter your email"},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageSignup, analysis.Class)
	assert.True(t, analysis.ShouldProcess)
	assert.Empty(t, analysis.SkipCategory)
}

func TestClassifySearchBoxIsNotSignup(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL: "https://example.com",
		Inputs: []models.InputInfo{
			{Kind: "text", Selector: "#q", Name: "q", Placeholder: "Search...", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageLandingNoForm, analysis.Class)
	assert.Equal(t, models.CategoryNoForm, analysis.SkipCategory)
}

func TestClassifyPaymentIndicatorsForwardedNotSkipped(t *testing.T) {
	c := newTestClassifier()

	// Card fields flag the page but do not skip it; the agent loop decides
	// after observing the actual form.
	snap := &models.PageSnapshot{
		URL:  "https://example.com/start",
		HTML: `<html><body><form><input autocomplete="cc-number" name="number"></form></body></html>`,
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true},
			{Kind: "text", Selector: "input[name='number']", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageSignup, analysis.Class)
	assert.True(t, analysis.ShouldProcess)
	assert.True(t, analysis.HasPaymentIndicators)
	assert.Empty(t, analysis.SkipCategory)
}

func TestClassifyBlogArticle(t *testing.T) {
	c := newTestClassifier()

	analysis := c.Classify(&models.PageSnapshot{
		URL:         "https://example.com/blog/ten-growth-tips",
		VisibleText: "Ten growth tips for your startup...",
	})
	assert.Equal(t, models.PageBlogArticle, analysis.Class)
	assert.Equal(t, models.CategoryBlogArticle, analysis.SkipCategory)
}

func TestClassifyBlogWithNewsletterFormIsProcessed(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL: "https://example.com/blog/ten-growth-tips",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#newsletter-email", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageSignup, analysis.Class)
	assert.True(t, analysis.ShouldProcess)
}

func TestClassifyLandingWithNavigation(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL:         "https://example.com",
		VisibleText: "The best product for teams",
		Buttons: []models.ButtonInfo{
			{Text: "Learn More", Selector: "#learn"},
			{Text: "Sign Up", Selector: "#signup-nav"},
			{Text: "Get Started Free", Selector: "#cta", IsCTA: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageLandingWithNav, analysis.Class)
	assert.True(t, analysis.ShouldProcess)
	assert.Len(t, analysis.NavigationButtons, 2)
	assert.Equal(t, "#signup-nav", analysis.NavigationButtons[0].Selector)
}

func TestClassifyPaymentMentionsFlagged(t *testing.T) {
	c := newTestClassifier()

	snap := &models.PageSnapshot{
		URL:         "https://example.com",
		VisibleText: "Plans from $9 per month. Join the waitlist now.",
		Inputs: []models.InputInfo{
			{Kind: "email", Selector: "#email", Visible: true},
		},
	}
	analysis := c.Classify(snap)
	assert.Equal(t, models.PageSignup, analysis.Class)
	assert.True(t, analysis.HasPaymentIndicators)
}
