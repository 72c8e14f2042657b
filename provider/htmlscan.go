package provider

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// captchaMarker is present in the identifier page whenever the provider asks for a CAPTCHA.
const captchaMarker = "captcha"

// HasCaptchaMarker reports whether a page renders a CAPTCHA element: any element whose name, id,
// class or alt mentions captcha. Scripts, styles and stylesheet links are ignored, and so is
// text, so a page that merely references a captcha widget is not a challenge.
func HasCaptchaMarker(body []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr || nonContentTags[string(name)] {
				continue
			}
			attrs := tagAttrs(z)
			for _, key := range markerAttrs {
				if strings.Contains(strings.ToLower(attrs[key]), captchaMarker) {
					return true
				}
			}
		}
	}
}

var (
	markerAttrs    = []string{"name", "id", "class", "alt"}
	nonContentTags = map[string]bool{"script": true, "style": true, "link": true, "meta": true}
)

// FindHiddenState returns the value of the page's hidden "state" input, if any.
func FindHiddenState(body []byte) (string, bool) {
	var state string
	found := scanTags(body, "input", func(attrs map[string]string) bool {
		if attrs["name"] != "state" {
			return false
		}
		if t, ok := attrs["type"]; ok && !strings.EqualFold(t, "hidden") {
			return false
		}
		state = attrs["value"]
		return state != ""
	})
	return state, found
}

// FindCaptchaImage returns the src of the first <img alt="captcha"> element.
func FindCaptchaImage(body []byte) (string, bool) {
	var src string
	found := scanTags(body, "img", func(attrs map[string]string) bool {
		if !strings.EqualFold(strings.TrimSpace(attrs["alt"]), captchaMarker) {
			return false
		}
		src = attrs["src"]
		return src != ""
	})
	return src, found
}

// scanTags walks the start tags named tag until match returns true.
func scanTags(body []byte, tag string, match func(attrs map[string]string) bool) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != tag || !hasAttr {
				continue
			}
			if match(tagAttrs(z)) {
				return true
			}
		}
	}
}

func tagAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			return attrs
		}
	}
}
