package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/users/01J5QZ0V9N":            "/v1/users/:id",
		"/v1/users/01J5QZ0V9N/role":       "/v1/users/:id/role",
		"/v1/users/01J5QZ0V9N/deactivate": "/v1/users/:id/deactivate",
		"/v1/users/01J5QZ0V9N/extra":      "/v1/users/01J5QZ0V9N/extra",
		"/v1/auth/login":                  "/v1/auth/login",
		"/v1/audit?limit=10":              "/v1/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
