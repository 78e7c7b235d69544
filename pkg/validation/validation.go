package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateRoomID checks a caller-supplied room identifier. Any non-empty
// string is a room id; ids are compared by exact equality and never
// normalized.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	return nil
}

// ValidateConnectionID checks that id looks like a server-issued connection id.
func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("connection ID is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid connection ID format")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateOrigins checks an allowed-origins list: "*" or absolute http(s) origins.
func ValidateOrigins(origins []string) error {
	for _, o := range origins {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid origin %q", o)
		}
		if u.Path != "" && u.Path != "/" {
			return fmt.Errorf("origin %q must not contain a path", o)
		}
	}
	return nil
}

// OriginAllowed reports whether origin matches the allow list. An empty
// origin (non-browser client) is always allowed.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	origin = strings.TrimSuffix(origin, "/")
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}
