package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyAppearsInActive(t *testing.T) {
	c := context.Background()
	center := NewCenter(time.Minute)
	t.Cleanup(center.Close)

	first := center.Notify(c, SeverityInfo, "added to cart")
	second := center.Notify(c, SeverityWarning, "only 2 in stock")

	active := center.Active()
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
	assert.Equal(t, SeverityWarning, active[1].Severity)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	c := context.Background()
	center := NewCenter(30 * time.Millisecond)
	t.Cleanup(center.Close)

	center.Notify(c, SeverityInfo, "short lived")
	require.Len(t, center.Active(), 1)

	require.Eventually(t, func() bool {
		return len(center.Active()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeReceivesEveryNotification(t *testing.T) {
	c := context.Background()
	center := NewCenter(time.Minute)
	t.Cleanup(center.Close)

	got := []Notification{}
	stop := center.Subscribe(func(n Notification) {
		got = append(got, n)
	})

	center.Notify(c, SeverityInfo, "one")
	center.Notify(c, SeverityError, "two")

	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)

	stop()
	center.Notify(c, SeverityInfo, "three")
	assert.Len(t, got, 2)
}
