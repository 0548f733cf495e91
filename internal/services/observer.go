package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// ObserverService captures normalised page snapshots via injected JavaScript
type ObserverService struct {
	logger *logrus.Logger
}

// NewObserverService creates a new observer service
func NewObserverService(logger *logrus.Logger) ObserverServiceInterface {
	return &ObserverService{logger: logger}
}

// rawButton is the button shape emitted by the observer script, before
// CTA and submit classification.
type rawButton struct {
	Text     string `json:"text"`
	Selector string `json:"selector"`
	Classes  string `json:"classes"`
	Kind     string `json:"kind"`
	FormID   string `json:"form_id"`
}

type rawCaptcha struct {
	Present bool   `json:"present"`
	Visible bool   `json:"visible"`
	Kind    string `json:"kind"`
	SiteKey string `json:"site_key"`
}

type pageObservation struct {
	VisibleText    string                 `json:"visible_text"`
	SimplifiedHTML string                 `json:"simplified_html"`
	Forms          []models.FormInfo      `json:"forms"`
	Inputs         []models.InputInfo     `json:"inputs"`
	Buttons        []rawButton            `json:"buttons"`
	ErrorMessages  []string               `json:"error_messages"`
	Captcha        rawCaptcha             `json:"captcha"`
	Overlay        models.OverlayInfo     `json:"overlay"`
	PhoneWidget    models.PhoneWidgetInfo `json:"phone_widget"`
	SuccessHint    bool                   `json:"success_hint"`
}

// Observe runs the observer script and assembles a snapshot
func (o *ObserverService) Observe(ctx context.Context, session PageSession) (*models.PageSnapshot, error) {
	var obs pageObservation
	if err := session.Evaluate(ctx, observerScript, &obs); err != nil {
		return nil, fmt.Errorf("failed to observe page: %w", err)
	}

	url, err := session.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current url: %w", err)
	}
	html, err := session.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}
	title, err := session.Title(ctx)
	if err != nil {
		o.logger.WithError(err).Debug("Failed to read page title")
	}

	snapshot := &models.PageSnapshot{
		URL:            url,
		Title:          title,
		VisibleText:    obs.VisibleText,
		HTML:           html,
		SimplifiedHTML: obs.SimplifiedHTML,
		Forms:          obs.Forms,
		Inputs:         obs.Inputs,
		Buttons:        classifyButtons(obs.Buttons),
		ErrorMessages:  obs.ErrorMessages,
		Captcha:        normalizeCaptcha(obs.Captcha),
		Overlay:        obs.Overlay,
		PhoneWidget:    obs.PhoneWidget,
		SuccessHint:    obs.SuccessHint,
	}

	o.logger.WithFields(logrus.Fields{
		"url":     url,
		"forms":   len(snapshot.Forms),
		"inputs":  len(snapshot.Inputs),
		"buttons": len(snapshot.Buttons),
		"captcha": snapshot.Captcha.Kind,
		"overlay": snapshot.Overlay.Present,
	}).Debug("Page observed")

	return snapshot, nil
}

// classifyButtons applies CTA and submit heuristics to the raw buttons
func classifyButtons(raw []rawButton) []models.ButtonInfo {
	buttons := make([]models.ButtonInfo, 0, len(raw))
	for _, b := range raw {
		text := strings.TrimSpace(b.Text)
		if text == "" && b.Kind != "submit" {
			continue
		}
		buttons = append(buttons, models.ButtonInfo{
			Text:           text,
			Selector:       b.Selector,
			IsCTA:          IsPureCTA(text, b.Classes),
			IsLikelySubmit: b.Kind == "submit" || HasStrongSubmitKeyword(text),
			FormID:         b.FormID,
		})
	}
	return buttons
}

func normalizeCaptcha(raw rawCaptcha) models.CaptchaInfo {
	kind := models.CaptchaKind(raw.Kind)
	switch kind {
	case models.CaptchaRecaptchaV2, models.CaptchaRecaptchaCh, models.CaptchaHCaptcha,
		models.CaptchaTurnstile, models.CaptchaErrorText:
	default:
		kind = models.CaptchaNone
	}
	return models.CaptchaInfo{
		Present: raw.Present && kind != models.CaptchaNone,
		Visible: raw.Visible,
		Kind:    kind,
		SiteKey: raw.SiteKey,
	}
}
