// ABOUTME: Tests for the fleet-wide first-acceptance cache.
// ABOUTME: Validates exactly-one-winner semantics, ordering, and synchronous persistence.

package dedupe

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures appended values in order.
type recordingSink struct {
	mu     sync.Mutex
	values []string
	err    error
}

func (s *recordingSink) Append(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.values = append(s.values, value)
	return nil
}

func TestCache_TryInsert_New(t *testing.T) {
	c := New(nil)

	accepted, err := c.TryInsert("code-1")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, c.Seen("code-1"))
}

func TestCache_TryInsert_Duplicate(t *testing.T) {
	c := New(nil)

	accepted, err := c.TryInsert("code-1")
	require.NoError(t, err)
	assert.True(t, accepted)

	// Second insert of the same value is the common case near the end of a
	// run and must not be an error.
	accepted, err = c.TryInsert("code-1")
	require.NoError(t, err)
	assert.False(t, accepted)

	assert.Equal(t, 1, c.Len())
}

func TestCache_TryInsert_PersistsBeforeReturn(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink)

	accepted, err := c.TryInsert("code-1")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, []string{"code-1"}, sink.values)

	// Duplicates never reach the sink.
	_, err = c.TryInsert("code-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1"}, sink.values)
}

func TestCache_TryInsert_SinkFailureKeepsAcceptance(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	c := New(sink)

	accepted, err := c.TryInsert("code-1")
	assert.True(t, accepted, "acceptance stands even when persistence fails")
	assert.Error(t, err)

	// In-memory state is intact: the value stays deduplicated.
	accepted, err = c.TryInsert("code-1")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestCache_Values_Order(t *testing.T) {
	c := New(nil)

	for _, v := range []string{"c", "a", "b"} {
		_, err := c.TryInsert(v)
		require.NoError(t, err)
	}
	_, err := c.TryInsert("a")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, c.Values())
}

func TestCache_TryInsert_ConcurrentSameValue(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink)

	const numGoroutines = 100

	var winners int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			accepted, err := c.TryInsert("contested-code")
			assert.NoError(t, err)
			if accepted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners,
		"exactly one caller should observe newly accepted")
	assert.Equal(t, []string{"contested-code"}, sink.values,
		"the value should be persisted exactly once")
}

func TestCache_TryInsert_ConcurrentDistinctValues(t *testing.T) {
	c := New(&recordingSink{})

	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			accepted, err := c.TryInsert("code-" + string(rune('a'+id%26)))
			assert.NoError(t, err)
			_ = accepted
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 26, c.Len())
}

func TestFileSink_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.txt")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Append("first"))
	require.NoError(t, sink.Append("second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestFileSink_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.txt")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append("from-first-run"))
	require.NoError(t, sink.Close())

	// A new process run must extend the log, not truncate it.
	sink, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append("from-second-run"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-first-run\nfrom-second-run\n", string(data))
}
