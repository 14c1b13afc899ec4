package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewConnectionLabel returns a fresh random label for one simulator connection
func NewConnectionLabel() string {
	return uuid.NewString()
}

// GenerateRunID generates a run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().Format("20060102-150405")
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("run-%s-%s", timestamp, id[:8])
}
