package variable

import (
	"regexp"

	"github.com/GabriWar/vigilant/model"
)

// placeholderRe matches [[name]] placeholders.  Names follow identifier
// rules, so literal double brackets around anything else pass through.
var placeholderRe = regexp.MustCompile(`\[\[(\w+)\]\]`)

// Substitute replaces every [[name]] placeholder in s with its value from
// vars.  Placeholders with no entry in vars are left intact so a template can
// be partially resolved and inspected.
func Substitute(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-2]
		if val, ok := vars[name]; ok {
			return val
		}
		return m
	})
}

// SubstituteBytes is Substitute for request bodies.
func SubstituteBytes(b []byte, vars map[string]string) []byte {
	if len(b) == 0 || len(vars) == 0 {
		return b
	}
	return []byte(Substitute(string(b), vars))
}

// ApplyToRequest resolves placeholders across every templatable part of a
// watcher definition: URL, header values, and body.  The watcher itself is
// not mutated; resolved copies are returned.
func ApplyToRequest(w *model.Watcher, vars map[string]string) (url string, headers []model.HeaderPair, body []byte) {
	url = Substitute(w.URL, vars)
	if len(w.Headers) > 0 {
		headers = make([]model.HeaderPair, len(w.Headers))
		for i, h := range w.Headers {
			headers[i] = model.HeaderPair{Name: h.Name, Value: Substitute(h.Value, vars)}
		}
	}
	body = SubstituteBytes(w.Body, vars)
	return url, headers, body
}
