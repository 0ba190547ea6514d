package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	c := context.Background()
	session := NewStore().Session()

	_, err := session.Get(c, "cart")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, session.Set(c, "cart", []byte("v1")))
	value, err := session.Get(c, "cart")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, session.Delete(c, "cart"))
	_, err = session.Get(c, "cart")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSessionsShareValues(t *testing.T) {
	c := context.Background()
	profile := NewStore()
	a := profile.Session()
	b := profile.Session()

	require.NoError(t, a.Set(c, "cart", []byte("from-a")))
	value, err := b.Get(c, "cart")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-a"), value)
}

func TestWatchExcludesWritingSession(t *testing.T) {
	c := context.Background()
	profile := NewStore()
	a := profile.Session()
	b := profile.Session()

	var aFired, bFired atomic.Int32
	stopA := a.Watch("cart", func([]byte) { aFired.Add(1) })
	defer stopA()
	stopB := b.Watch("cart", func([]byte) { bFired.Add(1) })
	defer stopB()

	require.NoError(t, a.Set(c, "cart", []byte("v1")))

	// the sibling tab hears the write, the writer itself never does
	require.Eventually(t, func() bool {
		return bFired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 0, aFired.Load())
}

func TestWatchIgnoresOtherKeys(t *testing.T) {
	c := context.Background()
	profile := NewStore()
	a := profile.Session()
	b := profile.Session()

	var fired atomic.Int32
	stop := b.Watch("cart", func([]byte) { fired.Add(1) })
	defer stop()

	require.NoError(t, a.Set(c, "theme", []byte("dark")))
	require.NoError(t, a.Set(c, "cart", []byte("v1")))

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
}

func TestWatchStopRemovesWatcher(t *testing.T) {
	c := context.Background()
	profile := NewStore()
	a := profile.Session()
	b := profile.Session()

	var fired atomic.Int32
	stop := b.Watch("cart", func([]byte) { fired.Add(1) })
	stop()

	require.NoError(t, a.Set(c, "cart", []byte("v1")))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, fired.Load())
}

func TestGetReturnsCopy(t *testing.T) {
	c := context.Background()
	session := NewStore().Session()
	require.NoError(t, session.Set(c, "cart", []byte("abc")))

	value, err := session.Get(c, "cart")
	require.NoError(t, err)
	value[0] = 'z'

	again, err := session.Get(c, "cart")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
