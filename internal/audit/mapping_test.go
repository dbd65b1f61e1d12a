package audit

import "testing"

func TestParseRoute(t *testing.T) {
	tests := []struct {
		method, route    string
		action, resource string
	}{
		{"GET", "/rest/v1/profiles/:id", "get", "profile"},
		{"POST", "/rest/v1/profiles", "create", "profile"},
		{"GET", "/rest/v1/profiles", "list", "profile"},
		{"GET", "/auth/v1/user", "list", "user"},
		{"POST", "/auth/v1/signup", "create", "signup"},
		{"POST", "/auth/v1/token", "token", "session"},
		{"POST", "/auth/v1/logout", "logout", "session"},
		{"GET", "/auth/v1/verify", "verify", "user"},
		{"DELETE", "/rest/v1/profiles/:id", "delete", "profile"},
		{"PATCH", "/rest/v1/profiles/:id", "update", "profile"},
		{"GET", "/", "list", "unknown"},
	}
	for _, tt := range tests {
		ar := ParseRoute(tt.method, tt.route)
		if ar.Action != tt.action {
			t.Errorf("ParseRoute(%s %s) action = %q, want %q", tt.method, tt.route, ar.Action, tt.action)
		}
		if ar.Resource != tt.resource {
			t.Errorf("ParseRoute(%s %s) resource = %q, want %q", tt.method, tt.route, ar.Resource, tt.resource)
		}
	}
}
