package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/captcha"
	"github.com/inboxhunter/signup-agent/internal/models"
)

// CaptchaService clears visible captchas: remote solve first, one manual
// checkbox click as the fallback for reCAPTCHA v2.
type CaptchaService struct {
	solver *captcha.Client
	logger *logrus.Logger
}

// NewCaptchaService creates a new captcha handler
func NewCaptchaService(solver *captcha.Client, logger *logrus.Logger) CaptchaHandlerInterface {
	return &CaptchaService{solver: solver, logger: logger}
}

// Handle attempts to clear the captcha in the snapshot. CaptchaAttempted
// latches on entry so one URL never burns more than one handling pass.
func (s *CaptchaService) Handle(ctx context.Context, session PageSession, snap *models.PageSnapshot, state *models.AgentState) (bool, error) {
	if state.CaptchaAttempted {
		return state.CaptchaSolved, nil
	}
	state.CaptchaAttempted = true

	info := snap.Captcha
	s.logger.WithFields(logrus.Fields{
		"kind":    info.Kind,
		"sitekey": info.SiteKey != "",
		"solver":  s.solver.Enabled(),
	}).Info("Handling captcha")

	if s.solver.Enabled() && info.SiteKey != "" {
		token, err := s.remoteSolve(ctx, info, snap.URL)
		if err == nil {
			if err := s.injectToken(ctx, session, info.Kind, token); err == nil {
				state.CaptchaSolved = true
				return true, nil
			}
			s.logger.WithError(err).Warn("Failed to inject solved captcha token")
		} else {
			s.logger.WithError(err).Warn("Remote captcha solve failed")
		}
	}

	if info.Kind == models.CaptchaRecaptchaV2 {
		solved, err := s.clickCheckbox(ctx, session)
		if err != nil {
			return false, err
		}
		state.CaptchaSolved = solved
		return solved, nil
	}
	return false, nil
}

func (s *CaptchaService) remoteSolve(ctx context.Context, info models.CaptchaInfo, pageURL string) (string, error) {
	switch info.Kind {
	case models.CaptchaRecaptchaV2, models.CaptchaRecaptchaCh:
		return s.solver.SolveRecaptchaV2(ctx, info.SiteKey, pageURL)
	case models.CaptchaHCaptcha:
		return s.solver.SolveHCaptcha(ctx, info.SiteKey, pageURL)
	default:
		return "", fmt.Errorf("no remote solve for captcha kind %s", info.Kind)
	}
}

// recaptchaInjectScript plants the token in the response textarea and fires
// whatever completion callback the page registered.
const recaptchaInjectScript = `(function(token){
	var ta = document.getElementById('g-recaptcha-response');
	if (!ta) {
		ta = document.createElement('textarea');
		ta.id = 'g-recaptcha-response';
		ta.name = 'g-recaptcha-response';
		ta.style.display = 'none';
		(document.querySelector('form') || document.body).appendChild(ta);
	}
	ta.value = token;
	ta.dispatchEvent(new Event('input', {bubbles: true}));
	ta.dispatchEvent(new Event('change', {bubbles: true}));

	try {
		var cfg = window.___grecaptcha_cfg;
		if (cfg && cfg.clients) {
			Object.keys(cfg.clients).forEach(function(id) {
				var client = cfg.clients[id];
				Object.keys(client).forEach(function(k1) {
					var lvl1 = client[k1];
					if (!lvl1 || typeof lvl1 !== 'object') { return; }
					Object.keys(lvl1).forEach(function(k2) {
						var lvl2 = lvl1[k2];
						if (lvl2 && typeof lvl2.callback === 'function') {
							try { lvl2.callback(token); } catch (e) {}
						}
					});
				});
			});
		}
	} catch (e) {}

	var holder = document.querySelector('[data-callback]');
	if (holder) {
		var cb = window[holder.getAttribute('data-callback')];
		if (typeof cb === 'function') { try { cb(token); } catch (e) {} }
	}
	if (typeof window.onCaptchaSuccess === 'function') {
		try { window.onCaptchaSuccess(token); } catch (e) {}
	}
	return true;
})`

const hcaptchaInjectScript = `(function(token){
	var ta = document.querySelector('textarea[name="h-captcha-response"]');
	if (!ta) {
		ta = document.createElement('textarea');
		ta.name = 'h-captcha-response';
		ta.style.display = 'none';
		(document.querySelector('form') || document.body).appendChild(ta);
	}
	ta.value = token;
	ta.dispatchEvent(new Event('input', {bubbles: true}));
	ta.dispatchEvent(new Event('change', {bubbles: true}));
	if (window.hcaptcha && typeof window.hcaptcha.setResponse === 'function') {
		try { window.hcaptcha.setResponse(token); } catch (e) {}
	}
	return true;
})`

func (s *CaptchaService) injectToken(ctx context.Context, session PageSession, kind models.CaptchaKind, token string) error {
	script := recaptchaInjectScript
	if kind == models.CaptchaHCaptcha {
		script = hcaptchaInjectScript
	}

	var ok bool
	if err := session.Evaluate(ctx, fmt.Sprintf("%s(%s)", script, jsString(token)), &ok); err != nil {
		return fmt.Errorf("failed to run token injection: %w", err)
	}
	if !ok {
		return fmt.Errorf("token injection script reported failure")
	}
	s.logger.Info("Captcha token injected")
	return nil
}

// clickCheckbox clicks the reCAPTCHA v2 anchor checkbox by raw coordinates.
// The anchor iframe is cross-origin, so success is verified through
// grecaptcha.getResponse rather than the checkbox's aria state.
func (s *CaptchaService) clickCheckbox(ctx context.Context, session PageSession) (bool, error) {
	var rect struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		Found  bool    `json:"found"`
	}
	script := `(function(){
		var frame = document.querySelector('iframe[src*="recaptcha"][src*="anchor"]') ||
			document.querySelector('iframe[title="reCAPTCHA"]');
		if (!frame) { return {found: false}; }
		var r = frame.getBoundingClientRect();
		return {found: true, x: r.left, y: r.top, width: r.width, height: r.height};
	})()`
	if err := session.Evaluate(ctx, script, &rect); err != nil {
		return false, fmt.Errorf("failed to locate recaptcha frame: %w", err)
	}
	if !rect.Found || rect.Width == 0 {
		return false, nil
	}

	// The checkbox sits near the left edge of the anchor frame.
	if err := session.MouseClickXY(ctx, rect.X+28, rect.Y+rect.Height/2); err != nil {
		return false, fmt.Errorf("failed to click captcha checkbox: %w", err)
	}
	sleepCtx(ctx, 3*time.Second)

	var token string
	verify := `(function(){
		try {
			if (window.grecaptcha && typeof window.grecaptcha.getResponse === 'function') {
				return window.grecaptcha.getResponse() || '';
			}
		} catch (e) {}
		var ta = document.getElementById('g-recaptcha-response');
		return ta ? ta.value : '';
	})()`
	if err := session.Evaluate(ctx, verify, &token); err != nil {
		return false, nil
	}
	if token != "" {
		s.logger.Info("Captcha checkbox click succeeded")
		return true, nil
	}
	return false, nil
}
