package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// Global counter for generating unique sequential IDs in tests
	testSequence uint64

	// Base timestamp to make names shorter
	baseTimestamp = time.Now().UnixNano()
)

func init() {
	// Initialize with current timestamp to ensure uniqueness across test runs
	testSequence = uint64(baseTimestamp % 1000000)
}

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("test_dir") -> "test_dir_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueString generates a unique string identifier
// Useful when you need guaranteed uniqueness (uses UUID)
func UniqueString() string {
	return uuid.New().String()
}

// UniqueSessionID generates a unique chat session ID
func UniqueSessionID() string {
	return fmt.Sprintf("session_%d", NextSequence())
}

// UniqueMessageID generates a unique chat message ID
func UniqueMessageID() string {
	return fmt.Sprintf("msg_%d", NextSequence())
}

// UniqueUserID generates a unique user ID
func UniqueUserID() string {
	return fmt.Sprintf("user_%d", NextSequence())
}

// UniqueEventID generates a unique event ID
func UniqueEventID() string {
	return fmt.Sprintf("event_%d_%s", NextSequence(), uuid.New().String()[:8])
}
