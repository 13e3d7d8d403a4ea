// ABOUTME: Tests for ClientSlot set, clear and info reporting.
// ABOUTME: Includes a concurrent reader/writer check for the race detector.

package tools

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSlot_Lifecycle(t *testing.T) {
	slot := NewClientSlot()

	_, ok := slot.Get()
	assert.False(t, ok, "new slot is empty")
	_, _, connected := slot.Info()
	assert.False(t, connected)

	before := time.Now()
	fake := &fakeRecords{}
	slot.Set(fake, "https://crm.example.com")

	got, ok := slot.Get()
	require.True(t, ok)
	assert.Same(t, fake, got)

	baseURL, at, connected := slot.Info()
	assert.True(t, connected)
	assert.Equal(t, "https://crm.example.com", baseURL)
	assert.False(t, at.Before(before))

	slot.Clear()
	_, ok = slot.Get()
	assert.False(t, ok)
	baseURL, at, connected = slot.Info()
	assert.False(t, connected)
	assert.Empty(t, baseURL)
	assert.True(t, at.IsZero())
}

func TestClientSlot_ConcurrentAccess(t *testing.T) {
	slot := NewClientSlot()
	fake := &fakeRecords{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			slot.Set(fake, "https://crm.example.com")
		}()
		go func() {
			defer wg.Done()
			if c, ok := slot.Get(); ok {
				assert.Same(t, fake, c)
			}
		}()
	}
	wg.Wait()

	_, ok := slot.Get()
	assert.True(t, ok)
}
