package services

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Attributes worth keeping when rebuilding form markup for the planner.
var simplifyKeptAttrs = []string{
	"id", "name", "type", "placeholder", "value", "for", "action", "method",
	"aria-label", "role", "required", "checked", "selected",
}

const simplifyMaxLen = 5000

// SimplifyHTML reduces a full page to just its form-relevant markup so the
// batch planner sees selectors without the surrounding noise. Used when the
// in-page observer script could not produce a simplified view itself.
func SimplifyHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var b strings.Builder
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		if b.Len() >= simplifyMaxLen {
			return
		}
		writeSimplifiedElement(&b, form, 0)
	})

	// Pages mount inputs outside any form element often enough that an
	// empty result needs a second pass over standalone controls.
	if strings.TrimSpace(b.String()) == "" {
		doc.Find("input, textarea, select, button").Each(func(_ int, sel *goquery.Selection) {
			if b.Len() >= simplifyMaxLen {
				return
			}
			writeTag(&b, sel)
			b.WriteString("\n")
		})
	}

	out := b.String()
	if len(out) > simplifyMaxLen {
		out = out[:simplifyMaxLen]
	}
	return out
}

// writeSimplifiedElement renders a form subtree keeping only controls,
// labels and whitelisted attributes.
func writeSimplifiedElement(b *strings.Builder, sel *goquery.Selection, depth int) {
	if depth > 6 || b.Len() >= simplifyMaxLen {
		return
	}

	tag := goquery.NodeName(sel)
	switch tag {
	case "script", "style", "svg", "noscript", "template":
		return
	case "input", "textarea", "select", "button", "option":
		writeTag(b, sel)
		if tag == "button" || tag == "option" {
			b.WriteString(strings.TrimSpace(sel.Text()))
			b.WriteString("</" + tag + ">")
		}
		b.WriteString("\n")
		return
	case "label":
		writeTag(b, sel)
		b.WriteString(strings.TrimSpace(sel.Text()))
		b.WriteString("</label>\n")
		return
	case "form":
		writeTag(b, sel)
		b.WriteString("\n")
	}

	sel.Children().Each(func(_ int, child *goquery.Selection) {
		writeSimplifiedElement(b, child, depth+1)
	})

	if tag == "form" {
		b.WriteString("</form>\n")
	}
}

func writeTag(b *strings.Builder, sel *goquery.Selection) {
	b.WriteString("<" + goquery.NodeName(sel))
	for _, attr := range simplifyKeptAttrs {
		if val, ok := sel.Attr(attr); ok {
			b.WriteString(` ` + attr + `="` + strings.ReplaceAll(val, `"`, "&quot;") + `"`)
		}
	}
	b.WriteString(">")
}
