package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxIDLen = 128

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isValidID accepts process ids made of A-Z a-z 0-9 . _ - without "..".
// Ids end up in mirror log file names.
func isValidID(s string) bool {
	if s == "" || len(s) > maxIDLen || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// param reads a request parameter from the query string, falling back to
// the form body for POST requests.
func param(c *gin.Context, key string) string {
	if v, ok := c.GetQuery(key); ok {
		return v
	}
	return c.PostForm(key)
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeOK(c *gin.Context, fields gin.H) {
	body := make(gin.H, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["status"] = "success"
	writeJSON(c, 200, body)
}

func writeError(c *gin.Context, code int, msg string) {
	writeJSON(c, code, gin.H{"status": "error", "message": msg})
}
