package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer lowercase-scheme", "lowercase-scheme", true},
		{"  Bearer padded  ", "padded", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Bearer    ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc.def.ghi", "", false},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || token != tc.token) {
			t.Fatalf("header %q: got %q, %v", tc.header, token, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("header %q: expected error", tc.header)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/v1/auth/login", "/v1/auth/refresh", "/metrics", "/healthz", "/readyz", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Fatalf("%s should be public", p)
		}
	}
	private := []string{"/v1/auth/logout", "/v1/auth/session", "/v1/users", "/v1/audit", "/v1/users/abc/role"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Fatalf("%s should require a session", p)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	newReq := func(body string) (*httptest.ResponseRecorder, *payload, error) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))
		var p payload
		err := decodeJSON(rec, req, &p)
		return rec, &p, err
	}

	if _, p, err := newReq(`{"name":"alice"}`); err != nil || p.Name != "alice" {
		t.Fatalf("valid body: %v %+v", err, p)
	}
	if _, _, err := newReq(""); err == nil {
		t.Fatal("empty body accepted")
	}
	if _, _, err := newReq(`{"name":"a","unknown":1}`); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, _, err := newReq(`{"name":"a"}{"name":"b"}`); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, _, err := newReq(`not json`); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4711"
	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("remote addr: %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if ip := clientIP(req); ip != "198.51.100.1" {
		t.Fatalf("forwarded: %s", ip)
	}
}
