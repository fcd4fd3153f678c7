package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// FuzzIsValidID checks the process id validator with arbitrary input.
func FuzzIsValidID(f *testing.F) {
	f.Add("3f2c9a0b1d2e4f5a6b7c8d9e0f1a2b3c")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("id/with/slash")
	f.Add("id\\with\\backslash")
	f.Add("valid.id")
	f.Add("unicode한글id")
	f.Add("id\x00null")
	f.Add("id\nnewline")

	f.Fuzz(func(t *testing.T, id string) {
		result := isValidID(id)
		if id == "" && result {
			t.Error("empty id should not be valid")
		}
		if strings.Contains(id, "..") && result {
			t.Errorf("id with .. should not be valid: %q", id)
		}
		if strings.ContainsAny(id, "/\\\x00\n") && result {
			t.Errorf("id with separators or control characters should not be valid: %q", id)
		}
		if len(id) > maxIDLen && result {
			t.Errorf("overlong id accepted: %d bytes", len(id))
		}
		if result != isValidID(id) {
			t.Errorf("isValidID inconsistent for %q", id)
		}
	})
}

// FuzzSanitizeBase tests base path sanitization
func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")
	f.Add("/path\x00null")

	f.Fuzz(func(t *testing.T, basePath string) {
		if len(basePath) > 200 {
			t.Skip("base path too long")
		}
		result := sanitizeBase(basePath)
		if result != "" {
			if !strings.HasPrefix(result, "/") {
				t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
			}
			if strings.HasSuffix(result, "/") {
				t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
			}
		}
		trimmed := strings.TrimSpace(basePath)
		if (trimmed == "" || trimmed == "/") && result != "" {
			t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
		}
	})
}

// FuzzProcessEndpoints sends arbitrary ids to the lookup endpoints. None
// of them may answer 5xx.
func FuzzProcessEndpoints(f *testing.F) {
	f.Add("missing", "v")
	f.Add("../bad", "")
	f.Add("", "value with spaces")
	f.Add(strings.Repeat("a", 200), "x")

	gin.SetMode(gin.TestMode)
	e := setupRouter(f, Options{})

	f.Fuzz(func(t *testing.T, id, value string) {
		q := url.Values{"process_id": {id}, "value": {value}}.Encode()
		for _, path := range []string{"/get_process_output", "/send_value", "/get_process_state", "/update_process_refresh_time"} {
			rec := httptest.NewRecorder()
			e.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path+"?"+q, nil))
			if rec.Code >= 500 {
				t.Fatalf("%s?%s answered %d: %s", path, q, rec.Code, rec.Body.String())
			}
		}
	})
}
