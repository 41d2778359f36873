package variable_test

import (
	"testing"

	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/variable"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"token": "abc", "user_id": "42"}
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"no placeholders", "no placeholders"},
		{"Bearer [[token]]", "Bearer abc"},
		{"/users/[[user_id]]/orders?t=[[token]]", "/users/42/orders?t=abc"},
		{"[[unknown]] stays", "[[unknown]] stays"},
		{"[not a [[token]] placeholder]", "[not a abc placeholder]"},
		{"[[bad name]]", "[[bad name]]"},
	}
	for _, tt := range tests {
		if got := variable.Substitute(tt.in, vars); got != tt.want {
			t.Errorf("Substitute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubstituteNoVars(t *testing.T) {
	in := "keep [[token]]"
	if got := variable.Substitute(in, nil); got != in {
		t.Errorf("Substitute with nil vars = %q, want %q", got, in)
	}
}

func TestApplyToRequest(t *testing.T) {
	w := &model.Watcher{
		URL:    "https://api.example.com/v1/[[resource]]",
		Method: "POST",
		Headers: []model.HeaderPair{
			{Name: "Authorization", Value: "Bearer [[token]]"},
			{Name: "Accept", Value: "application/json"},
		},
		Body: []byte(`{"id":"[[resource]]"}`),
	}
	vars := map[string]string{"resource": "orders", "token": "abc"}

	url, headers, body := variable.ApplyToRequest(w, vars)
	if url != "https://api.example.com/v1/orders" {
		t.Errorf("url = %q", url)
	}
	if headers[0].Value != "Bearer abc" {
		t.Errorf("header = %q", headers[0].Value)
	}
	if headers[1].Value != "application/json" {
		t.Errorf("untouched header = %q", headers[1].Value)
	}
	if string(body) != `{"id":"orders"}` {
		t.Errorf("body = %q", body)
	}

	// Original watcher must not be mutated.
	if w.URL != "https://api.example.com/v1/[[resource]]" {
		t.Error("watcher URL mutated")
	}
	if w.Headers[0].Value != "Bearer [[token]]" {
		t.Error("watcher header mutated")
	}
}
