package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeaders adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Locally served avatars are images; everything else is JSON
		if strings.HasPrefix(r.URL.Path, "/avatars/") {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
		} else {
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large", "FILE_TOO_LARGE", "")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimits applies MaxBodySize with a larger allowance for the
// multipart upload endpoints.
func BodyLimits(jsonMax, uploadMax int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		small := MaxBodySize(jsonMax)(next)
		large := MaxBodySize(uploadMax)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if MultipartPaths[r.URL.Path] {
				large.ServeHTTP(w, r)
				return
			}
			small.ServeHTTP(w, r)
		})
	}
}

// MultipartPaths are endpoints that accept multipart uploads.
var MultipartPaths = map[string]bool{
	"/api/v1/agents/me/avatar": true,
}

// ValidateRequest validates incoming requests for common attack patterns.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check Content-Type for POST/PUT/PATCH
		if r.Method == "POST" || r.Method == "PUT" || r.Method == "PATCH" {
			ct := r.Header.Get("Content-Type")
			allowed := strings.HasPrefix(ct, "application/json") ||
				(MultipartPaths[r.URL.Path] && strings.HasPrefix(ct, "multipart/form-data"))
			// Allow empty body with no content-type
			if r.ContentLength > 0 && !allowed {
				WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "INVALID_BODY", "")
				return
			}
		}

		// Check for suspicious patterns in URL
		if containsSuspiciousPatterns(r.URL.Path, pathPatterns) {
			WriteError(w, http.StatusBadRequest, "Invalid request", "VALIDATION_ERROR", "")
			return
		}

		// Query values carry free text such as search terms; only markup is rejected
		if containsSuspiciousPatterns(r.URL.RawQuery, markupPatterns) {
			WriteError(w, http.StatusBadRequest, "Invalid request", "VALIDATION_ERROR", "")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var (
	markupPatterns = []string{
		"<script",     // XSS
		"javascript:", // XSS
		"vbscript:",   // XSS
		"onload=",     // XSS event handlers
		"onerror=",    // XSS event handlers
	}
	pathPatterns = append([]string{
		"..", // Path traversal
		"//", // Path manipulation
	}, markupPatterns...)
)

// containsSuspiciousPatterns checks input for any of patterns.
func containsSuspiciousPatterns(input string, patterns []string) bool {
	if input == "" {
		return false
	}

	lower := strings.ToLower(input)
	for _, s := range patterns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
