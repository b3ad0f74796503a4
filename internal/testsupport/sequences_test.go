package testsupport

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSequence_Increments(t *testing.T) {
	seq1 := NextSequence()
	seq2 := NextSequence()
	seq3 := NextSequence()

	assert.Greater(t, seq2, seq1, "Sequence should increment")
	assert.Equal(t, seq1+1, seq2, "Should increment by 1")
	assert.Equal(t, seq2+1, seq3, "Should increment by 1")
}

func TestUniqueName_GeneratesUnique(t *testing.T) {
	name1 := UniqueName("test_dir")
	name2 := UniqueName("test_dir")

	assert.NotEqual(t, name1, name2, "Names should be unique")
	assert.Contains(t, name1, "test_dir_", "Should contain prefix")
}

func TestUniqueIDs_HavePrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(UniqueSessionID(), "session_"))
	assert.True(t, strings.HasPrefix(UniqueMessageID(), "msg_"))
	assert.True(t, strings.HasPrefix(UniqueUserID(), "user_"))
	assert.True(t, strings.HasPrefix(UniqueEventID(), "event_"))
}

func TestUniqueString_GeneratesUUID(t *testing.T) {
	s1 := UniqueString()
	s2 := UniqueString()

	assert.NotEqual(t, s1, s2, "UUIDs should be unique")
	assert.Len(t, s1, 36, "UUID should be 36 characters")
}

func TestNextSequence_ThreadSafe(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seq := NextSequence()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "All sequences should be unique")
}
