package services

// observerScript walks the DOM and returns the raw material for a
// PageSnapshot. Keys mirror the snapshot's JSON tags so the result
// unmarshals directly. Kept to ES5 syntax so it survives older pages
// that patch their own prototypes.
const observerScript = `
(function() {
	function text(el) {
		return ((el && (el.innerText || el.textContent)) || '').replace(/\s+/g, ' ').trim();
	}

	function cssPath(el) {
		var path = [];
		var node = el;
		while (node && node.nodeType === 1 && path.length < 6) {
			var seg = node.tagName.toLowerCase();
			if (node.id) {
				path.unshift(seg + '#' + CSS.escape(node.id));
				break;
			}
			var parent = node.parentElement;
			if (parent) {
				var sibs = [];
				for (var i = 0; i < parent.children.length; i++) {
					if (parent.children[i].tagName === node.tagName) { sibs.push(parent.children[i]); }
				}
				if (sibs.length > 1) {
					seg += ':nth-of-type(' + (sibs.indexOf(node) + 1) + ')';
				}
			}
			path.unshift(seg);
			node = parent;
		}
		return path.join(' > ');
	}

	function selectorFor(el) {
		if (!el) { return ''; }
		if (el.id) { return '#' + CSS.escape(el.id); }
		var tag = el.tagName.toLowerCase();
		var name = el.getAttribute && el.getAttribute('name');
		if (name) {
			var sel = tag + '[name="' + name.replace(/"/g, '\\"') + '"]';
			try {
				if (document.querySelectorAll(sel).length === 1) { return sel; }
			} catch (e) {}
		}
		return cssPath(el);
	}

	function isVisible(el) {
		if (!el) { return false; }
		var style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') { return false; }
		var rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}

	function isSrOnlyHidden(el) {
		var style = window.getComputedStyle(el);
		if (style.opacity === '0') { return true; }
		var rect = el.getBoundingClientRect();
		if (rect.width <= 1 && rect.height <= 1) { return true; }
		if (style.position === 'absolute' && (parseInt(style.left, 10) < -999 || parseInt(style.top, 10) < -999)) { return true; }
		var cls = (typeof el.className === 'string') ? el.className : '';
		return cls.indexOf('sr-only') >= 0 || cls.indexOf('visually-hidden') >= 0 || cls.indexOf('screen-reader') >= 0;
	}

	function labelFor(el) {
		if (el.labels && el.labels.length) { return text(el.labels[0]); }
		var aria = el.getAttribute('aria-label');
		if (aria) { return aria; }
		if (el.id) {
			var lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) { return text(lab); }
		}
		var wrap = el.closest ? el.closest('label') : null;
		if (wrap) { return text(wrap); }
		return '';
	}

	function matchAny(t, words) {
		for (var i = 0; i < words.length; i++) {
			if (t.indexOf(words[i]) >= 0) { return true; }
		}
		return false;
	}

	var strongWords = ['submit', 'sign up', 'signup', 'register', 'subscribe', 'join', 'send'];
	var weakWords = ['continue', 'next', 'create', 'get started'];

	function resolveSubmit(scope) {
		var btn = scope.querySelector('button[type="submit"]');
		if (btn) { return selectorFor(btn); }
		btn = scope.querySelector('input[type="submit"]');
		if (btn) { return selectorFor(btn); }
		var btns = scope.querySelectorAll('button, [role="button"], input[type="button"]');
		var i, t;
		for (i = 0; i < btns.length; i++) {
			t = text(btns[i]).toLowerCase();
			if (matchAny(t, strongWords)) { return selectorFor(btns[i]); }
		}
		for (i = 0; i < btns.length; i++) {
			t = text(btns[i]).toLowerCase();
			if (matchAny(t, weakWords)) { return selectorFor(btns[i]); }
		}
		if (btns.length === 1) { return selectorFor(btns[0]); }
		return '';
	}

	// Forms
	var forms = [];
	var formIDs = [];
	var formSubmits = [];
	var f;
	for (f = 0; f < document.forms.length; f++) {
		var form = document.forms[f];
		var fid = form.id || ('form-' + (f + 1));
		var submitSel = resolveSubmit(form);
		var inputSels = [];
		var fields = form.querySelectorAll('input, textarea, select');
		for (var k = 0; k < fields.length; k++) {
			var ft = (fields[k].getAttribute('type') || 'text').toLowerCase();
			if (ft === 'hidden' || ft === 'submit' || ft === 'button' || ft === 'reset' || ft === 'image') { continue; }
			inputSels.push(selectorFor(fields[k]));
		}
		formIDs.push(fid);
		formSubmits.push(submitSel);
		forms.push({
			id: fid,
			selector: selectorFor(form) || 'form:nth-of-type(' + (f + 1) + ')',
			action: form.getAttribute('action') || '',
			method: (form.getAttribute('method') || 'get').toLowerCase(),
			input_selectors: inputSels,
			submit_selector: submitSel
		});
	}

	function formIndexOf(el) {
		if (!el.form) { return -1; }
		for (var i = 0; i < document.forms.length; i++) {
			if (document.forms[i] === el.form) { return i; }
		}
		return -1;
	}

	// Inputs
	var inputs = [];
	var allFields = document.querySelectorAll('input, textarea, select');
	for (var n = 0; n < allFields.length; n++) {
		var el = allFields[n];
		var kind = el.tagName.toLowerCase();
		if (kind === 'input') {
			kind = (el.getAttribute('type') || 'text').toLowerCase();
		}
		if (kind === 'hidden' || kind === 'submit' || kind === 'button' || kind === 'reset' || kind === 'image') { continue; }

		var fi = formIndexOf(el);
		var visible = isVisible(el);
		var options = '';
		if (el.tagName.toLowerCase() === 'select') {
			var opts = [];
			for (var o = 0; o < el.options.length && o < 25; o++) {
				opts.push(el.options[o].value + '=' + text(el.options[o]));
			}
			options = opts.join('|');
		}

		inputs.push({
			kind: kind,
			selector: selectorFor(el),
			placeholder: el.getAttribute('placeholder') || '',
			label: labelFor(el),
			name: el.getAttribute('name') || '',
			visible: visible,
			hidden_sr_only: !visible && isSrOnlyHidden(el),
			wrapped_in_label: !!(el.closest && el.closest('label')),
			checked: !!el.checked,
			form_id: fi >= 0 ? formIDs[fi] : '',
			form_submit_selector: fi >= 0 ? formSubmits[fi] : '',
			options: options
		});
		if (inputs.length >= 60) { break; }
	}

	// Buttons
	var buttons = [];
	var clickables = document.querySelectorAll('button, input[type="submit"], input[type="button"], [role="button"], a');
	for (var b = 0; b < clickables.length; b++) {
		var cl = clickables[b];
		if (!isVisible(cl)) { continue; }
		var btnText = text(cl) || cl.value || '';
		var tag2 = cl.tagName.toLowerCase();
		var classes = (typeof cl.className === 'string') ? cl.className : '';
		if (tag2 === 'a') {
			var lc = classes.toLowerCase();
			if (lc.indexOf('btn') < 0 && lc.indexOf('button') < 0 && lc.indexOf('cta') < 0 && !cl.closest('form')) { continue; }
		}
		if (!btnText && (cl.getAttribute('type') || '') !== 'submit') { continue; }

		var bfi = formIndexOf(cl);
		if (bfi < 0 && cl.closest) {
			var pform = cl.closest('form');
			if (pform) {
				for (var pf = 0; pf < document.forms.length; pf++) {
					if (document.forms[pf] === pform) { bfi = pf; break; }
				}
			}
		}
		buttons.push({
			text: btnText.substring(0, 120),
			selector: selectorFor(cl),
			classes: classes,
			kind: (cl.getAttribute('type') || '').toLowerCase(),
			form_id: bfi >= 0 ? formIDs[bfi] : ''
		});
		if (buttons.length >= 40) { break; }
	}

	// Visible validation errors
	var errors = [];
	var errNodes = document.querySelectorAll('[class*="error"], [class*="invalid"], [role="alert"], .invalid-feedback, .help-block');
	for (var e2 = 0; e2 < errNodes.length && errors.length < 5; e2++) {
		if (!isVisible(errNodes[e2])) { continue; }
		var msg = text(errNodes[e2]);
		if (!msg) { continue; }
		msg = msg.substring(0, 100);
		if (errors.indexOf(msg) < 0) { errors.push(msg); }
	}

	// Captcha
	var captcha = { present: false, visible: false, kind: 'none', site_key: '' };
	function setCaptcha(kind, el, keyAttr) {
		captcha.present = true;
		captcha.kind = kind;
		if (el) {
			captcha.visible = isVisible(el);
			var key = keyAttr ? el.getAttribute(keyAttr) : null;
			if (key) { captcha.site_key = key; }
		}
	}
	var rcWidget = document.querySelector('.g-recaptcha[data-sitekey]');
	var rcAnchor = document.querySelector('iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"]');
	var rcChallenge = document.querySelector('iframe[src*="recaptcha/api2/bframe"], iframe[src*="recaptcha/enterprise/bframe"]');
	var hc = document.querySelector('.h-captcha[data-sitekey], iframe[src*="hcaptcha.com"]');
	var ts = document.querySelector('.cf-turnstile, iframe[src*="challenges.cloudflare.com"]');
	if (rcChallenge && isVisible(rcChallenge)) {
		setCaptcha('recaptcha_challenge', rcChallenge, null);
		captcha.visible = true;
	} else if (rcWidget) {
		setCaptcha('recaptcha_v2', rcWidget, 'data-sitekey');
	} else if (rcAnchor) {
		setCaptcha('recaptcha_v2', rcAnchor, null);
		var src = rcAnchor.getAttribute('src') || '';
		var m = src.match(/[?&]k=([^&]+)/);
		if (m) { captcha.site_key = m[1]; }
	} else if (hc) {
		setCaptcha('hcaptcha', hc, 'data-sitekey');
		if (!captcha.site_key && hc.tagName.toLowerCase() === 'iframe') {
			var hsrc = hc.getAttribute('src') || '';
			var hm = hsrc.match(/sitekey=([^&#]+)/);
			if (hm) { captcha.site_key = hm[1]; }
		}
	} else if (ts) {
		setCaptcha('turnstile', ts, 'data-sitekey');
	}

	var bodyText = text(document.body).substring(0, 15000);
	if (!captcha.present && /captcha (check |verification |)(failed|error|invalid)|failed captcha|please complete the captcha/i.test(bodyText)) {
		captcha.present = true;
		captcha.kind = 'error_text';
	}

	// Overlay: topmost fixed element covering a meaningful share of the viewport
	var overlay = {
		present: false, text: '', is_success_text: false, is_recommendation: false,
		has_iframe: false, iframe_src: '', has_captcha_content: false, has_error_text: false,
		close_selector: ''
	};
	var successWords = ['thank you', 'thanks for', "you're in", 'you are in', 'check your email', 'check your inbox',
		'success', 'confirmed', 'subscribed', 'welcome aboard', 'almost done', 'one more step'];
	var vw = window.innerWidth || 1;
	var vh = window.innerHeight || 1;
	var best = null;
	var bestZ = -1;
	var candidates = document.querySelectorAll('div, section, dialog, aside');
	for (var c = 0; c < candidates.length; c++) {
		var cand = candidates[c];
		var style2 = window.getComputedStyle(cand);
		if (style2.position !== 'fixed' && !(cand.tagName === 'DIALOG' && cand.open)) { continue; }
		if (!isVisible(cand)) { continue; }
		var rect2 = cand.getBoundingClientRect();
		var cover = (rect2.width * rect2.height) / (vw * vh);
		if (cover < 0.25) { continue; }
		var z = parseInt(style2.zIndex, 10);
		if (isNaN(z)) { z = 0; }
		if (z >= bestZ) { bestZ = z; best = cand; }
	}
	if (best) {
		overlay.present = true;
		var otext = text(best).substring(0, 600);
		overlay.text = otext;
		var lower = otext.toLowerCase();
		overlay.is_success_text = matchAny(lower, successWords);
		overlay.is_recommendation = /recommend|you may also like|related products|suggested for you/.test(lower);
		overlay.has_error_text = /error|failed|invalid|try again/.test(lower);
		var ifr = best.querySelector('iframe');
		if (ifr) {
			overlay.has_iframe = true;
			overlay.iframe_src = ifr.getAttribute('src') || '';
		}
		overlay.has_captcha_content = !!best.querySelector('iframe[src*="recaptcha"], iframe[src*="hcaptcha"], [class*="captcha"]');
		var closers = best.querySelectorAll('button, a, [role="button"], [class*="close"], [aria-label]');
		for (var x = 0; x < closers.length; x++) {
			var ct = (text(closers[x]) + ' ' + (closers[x].getAttribute('aria-label') || '')).toLowerCase();
			var ccls = ((typeof closers[x].className === 'string') ? closers[x].className : '').toLowerCase();
			if (ct.indexOf('close') >= 0 || ct.indexOf('dismiss') >= 0 || ct.indexOf('no thanks') >= 0 ||
				ct.indexOf('got it') >= 0 || ct === 'x' || ct.trim() === '×' || ccls.indexOf('close') >= 0) {
				overlay.close_selector = selectorFor(closers[x]);
				break;
			}
		}
	}

	// Phone widget country signals
	var phone = { widget_titles: [], data_attrs: [], flag_images: [], emojis: [], form_text: '' };
	var telInput = null;
	for (var p2 = 0; p2 < inputs.length; p2++) {
		if (inputs[p2].kind === 'tel') { telInput = inputs[p2]; break; }
	}
	if (!telInput) {
		for (var p3 = 0; p3 < inputs.length; p3++) {
			var nm = (inputs[p3].name + ' ' + inputs[p3].placeholder).toLowerCase();
			if (nm.indexOf('phone') >= 0 || nm.indexOf('mobile') >= 0) { telInput = inputs[p3]; break; }
		}
	}
	if (telInput) {
		var telEl = null;
		try { telEl = document.querySelector(telInput.selector); } catch (e3) {}
		var scope2 = (telEl && telEl.form) ? telEl.form : ((telEl && telEl.closest) ? (telEl.closest('form') || telEl.parentElement || document.body) : document.body);

		var titled = scope2.querySelectorAll('[class*="flag"][title], [class*="country"][title], [class*="selected"][title]');
		for (var t2 = 0; t2 < titled.length && phone.widget_titles.length < 5; t2++) {
			phone.widget_titles.push(titled[t2].getAttribute('title'));
		}
		var datad = scope2.querySelectorAll('[data-country], [data-country-code], [data-dial-code]');
		for (var d = 0; d < datad.length && phone.data_attrs.length < 8; d++) {
			var dv = datad[d].getAttribute('data-country') || datad[d].getAttribute('data-country-code') || datad[d].getAttribute('data-dial-code');
			if (dv) { phone.data_attrs.push(dv); }
		}
		var flags = scope2.querySelectorAll('img[src*="flag"], [class*="flag"]');
		for (var g = 0; g < flags.length && phone.flag_images.length < 5; g++) {
			var fsrc = flags[g].getAttribute('src');
			var fcls = (typeof flags[g].className === 'string') ? flags[g].className : '';
			phone.flag_images.push(fsrc || fcls);
		}
		var stext = text(scope2).substring(0, 400);
		phone.form_text = stext;
		var emojiMatches = stext.match(/(\uD83C[\uDDE6-\uDDFF]){2}/g);
		if (emojiMatches) {
			for (var em = 0; em < emojiMatches.length && phone.emojis.length < 5; em++) {
				phone.emojis.push(emojiMatches[em]);
			}
		}
	}

	// Simplified HTML for the planner
	var simplified = '';
	if (document.body) {
		var clone = document.body.cloneNode(true);
		var junk = clone.querySelectorAll('script, style, noscript, svg, link, meta, video, audio, canvas');
		for (var j = 0; j < junk.length; j++) {
			if (junk[j].parentNode) { junk[j].parentNode.removeChild(junk[j]); }
		}
		simplified = (clone.innerHTML || '').replace(/\s+/g, ' ').substring(0, 80000);
	}

	var successHint = matchAny(bodyText.toLowerCase(), successWords);

	return {
		visible_text: bodyText,
		simplified_html: simplified,
		forms: forms,
		inputs: inputs,
		buttons: buttons,
		error_messages: errors,
		captcha: captcha,
		overlay: overlay,
		phone_widget: phone,
		success_hint: successHint
	};
})()
`
