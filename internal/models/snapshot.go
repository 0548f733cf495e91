package models

// CaptchaKind identifies the captcha implementation detected on a page
type CaptchaKind string

const (
	CaptchaNone        CaptchaKind = "none"
	CaptchaRecaptchaV2 CaptchaKind = "recaptcha_v2"
	CaptchaRecaptchaCh CaptchaKind = "recaptcha_challenge"
	CaptchaHCaptcha    CaptchaKind = "hcaptcha"
	CaptchaTurnstile   CaptchaKind = "turnstile"
	CaptchaErrorText   CaptchaKind = "error_text"
)

// PageSnapshot is a normalised immutable observation of the current page
type PageSnapshot struct {
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	VisibleText    string          `json:"visible_text"`
	HTML           string          `json:"html,omitempty"`
	SimplifiedHTML string          `json:"simplified_html,omitempty"`
	Forms          []FormInfo      `json:"forms"`
	Inputs         []InputInfo     `json:"inputs"`
	Buttons        []ButtonInfo    `json:"buttons"`
	ErrorMessages  []string        `json:"error_messages,omitempty"`
	Captcha        CaptchaInfo     `json:"captcha"`
	Overlay        OverlayInfo     `json:"overlay"`
	PhoneWidget    PhoneWidgetInfo `json:"phone_widget"`
	SuccessHint    bool            `json:"success_hint"`
}

// FormCount returns the number of forms visible in the snapshot
func (s *PageSnapshot) FormCount() int {
	return len(s.Forms)
}

// InputBySelector looks up an input descriptor by its selector
func (s *PageSnapshot) InputBySelector(selector string) (InputInfo, bool) {
	for _, in := range s.Inputs {
		if in.Selector == selector {
			return in, true
		}
	}
	return InputInfo{}, false
}

// FormInfo describes one form element and its resolved submit button
type FormInfo struct {
	ID             string   `json:"id"`
	Selector       string   `json:"selector"`
	Action         string   `json:"action,omitempty"`
	Method         string   `json:"method,omitempty"`
	InputSelectors []string `json:"input_selectors,omitempty"`
	SubmitSelector string   `json:"submit_selector,omitempty"`
}

// InputInfo describes one fillable element
type InputInfo struct {
	Kind               string `json:"kind"`
	Selector           string `json:"selector"`
	Placeholder        string `json:"placeholder,omitempty"`
	Label              string `json:"label,omitempty"`
	Name               string `json:"name,omitempty"`
	Visible            bool   `json:"visible"`
	HiddenSrOnly       bool   `json:"hidden_sr_only,omitempty"`
	WrappedInLabel     bool   `json:"wrapped_in_label,omitempty"`
	Checked            bool   `json:"checked,omitempty"`
	FormID             string `json:"form_id,omitempty"`
	FormSubmitSelector string `json:"form_submit_selector,omitempty"`
	Options            string `json:"options,omitempty"`
}

// ButtonInfo describes one clickable element with its CTA classification
type ButtonInfo struct {
	Text           string `json:"text"`
	Selector       string `json:"selector"`
	IsCTA          bool   `json:"is_cta"`
	IsLikelySubmit bool   `json:"is_likely_submit"`
	FormID         string `json:"form_id,omitempty"`
}

// CaptchaInfo describes captcha presence and visibility on the page
type CaptchaInfo struct {
	Present bool        `json:"present"`
	Visible bool        `json:"visible"`
	Kind    CaptchaKind `json:"kind"`
	SiteKey string      `json:"site_key,omitempty"`
}

// OverlayInfo describes a modal/overlay currently shown on the page
type OverlayInfo struct {
	Present           bool   `json:"present"`
	Text              string `json:"text,omitempty"`
	IsSuccessText     bool   `json:"is_success_text"`
	IsRecommendation  bool   `json:"is_recommendation"`
	HasIframe         bool   `json:"has_iframe"`
	IframeSrc         string `json:"iframe_src,omitempty"`
	HasCaptchaContent bool   `json:"has_captcha_content"`
	HasErrorText      bool   `json:"has_error_text"`
	CloseSelector     string `json:"close_selector,omitempty"`
}

// PhoneWidgetInfo carries raw country signals scraped near phone inputs.
// Resolution to a dial code happens in the credential engine.
type PhoneWidgetInfo struct {
	WidgetTitles []string `json:"widget_titles,omitempty"`
	DataAttrs    []string `json:"data_attrs,omitempty"`
	FlagImages   []string `json:"flag_images,omitempty"`
	Emojis       []string `json:"emojis,omitempty"`
	FormText     string   `json:"form_text,omitempty"`
}

// NavigationResult reports how a page load ended
type NavigationResult struct {
	OK            bool   `json:"ok"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// NetworkEvent is one observed response, used as a submit success signal
type NetworkEvent struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int64  `json:"status"`
}
