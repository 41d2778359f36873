// Package challenge provides a zero-browser JavaScript challenge solver.
//
// Some watched origins gate their pages behind lightweight JavaScript
// challenges: inline scripts that compute a token or seed a cookie which must
// accompany the retry request.  Watchers with challenge solving enabled run
// those scripts in-process through the otto pure-Go interpreter, so no
// headless browser is needed.
//
// The VM is seeded with a minimal browser-like global (window, document,
// navigator.userAgent) so common challenge scripts run without
// ReferenceError.  A mutex serialises access, one Solver may be shared by
// every concurrent watcher run.
package challenge

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"

	"github.com/GabriWar/vigilant/model"
)

// scriptRe captures the contents of inline <script> blocks.
var scriptRe = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)

// Solver evaluates challenge JavaScript against a shared otto VM.
type Solver struct {
	vm        *otto.Otto
	userAgent string
	mu        sync.Mutex
}

// New creates a Solver with the browser-stub environment pre-loaded.
// userAgent is exposed as navigator.userAgent; empty falls back to a generic
// string.
func New(userAgent string) (*Solver, error) {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; Vigilant/2.0)"
	}
	vm := otto.New()
	bootstrap := fmt.Sprintf(`
var window = this;
var document = { cookie: "" };
var navigator = { userAgent: %q };
`, userAgent)
	if _, err := vm.Run(bootstrap); err != nil {
		return nil, fmt.Errorf("challenge: bootstrap JS globals: %w", err)
	}
	return &Solver{vm: vm, userAgent: userAgent}, nil
}

// Eval executes one JavaScript snippet and returns the string form of the
// final expression value.
func (s *Solver) Eval(script string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evalLocked(script)
}

func (s *Solver) evalLocked(script string) (string, error) {
	val, err := s.vm.Run(script)
	if err != nil {
		return "", fmt.Errorf("challenge: eval: %w", err)
	}
	result, err := val.ToString()
	if err != nil {
		return "", fmt.Errorf("challenge: convert result to string: %w", err)
	}
	return result, nil
}

// SolvePage runs every inline script of a challenge page and returns the
// cookies the scripts seeded through document.cookie.  ok is false when the
// page carried no inline scripts or the scripts seeded nothing, which tells
// the executor there is nothing to retry with.
//
// Script errors are tolerated per block: challenge pages routinely mix
// analytics snippets that reference globals the stub does not provide.
func (s *Solver) SolvePage(body []byte) (cookies []model.Cookie, ok bool, err error) {
	matches := scriptRe.FindAllSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reset document.cookie so stale state from a previous page cannot leak
	// into this solve.
	if _, err := s.vm.Run(`document.cookie = "";`); err != nil {
		return nil, false, fmt.Errorf("challenge: reset document.cookie: %w", err)
	}
	for _, m := range matches {
		if _, err := s.evalLocked(string(m[1])); err != nil {
			continue
		}
	}

	raw, err := s.documentCookieLocked()
	if err != nil {
		return nil, false, err
	}
	cookies = ParseCookieString(raw)
	return cookies, len(cookies) > 0, nil
}

func (s *Solver) documentCookieLocked() (string, error) {
	val, err := s.vm.Get("document")
	if err != nil {
		return "", fmt.Errorf("challenge: get document: %w", err)
	}
	cookieVal, err := val.Object().Get("cookie")
	if err != nil {
		return "", fmt.Errorf("challenge: get document.cookie: %w", err)
	}
	return cookieVal.String(), nil
}

// ParseCookieString splits a document.cookie style string ("a=1; b=2") into
// cookie records.  Attribute-less name=value pairs only; challenge scripts do
// not set expiry through this path.
func ParseCookieString(raw string) []model.Cookie {
	var out []model.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		out = append(out, model.Cookie{Name: name, Value: value})
	}
	return out
}
