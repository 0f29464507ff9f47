package ncio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_NeverOverlaps(t *testing.T) {
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_ = Do(func() error {
					n := active.Add(1)
					if n > maxSeen.Load() {
						maxSeen.Store(n)
					}
					time.Sleep(10 * time.Microsecond)
					active.Add(-1)
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxSeen.Load())
}

func TestDo_ReturnsError(t *testing.T) {
	want := errors.New("boom")
	assert.ErrorIs(t, Do(func() error { return want }), want)
	assert.NoError(t, Do(func() error { return nil }))
}
