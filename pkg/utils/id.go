package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// GenerateConnectionID returns a fresh connection identifier. Connection ids
// are never reused for the lifetime of the process.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateInstanceID names this process in the shared room directory.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "roomsignal"
	}
	return fmt.Sprintf("%s-%s", host, randomHex(4))
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), randomHex(4))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()[:2*n]
	}
	return hex.EncodeToString(b)
}
