package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeRunsDueTimersInOrder(t *testing.T) {
	f := NewFake(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	var fired []string
	f.AfterFunc(2*time.Minute, func() { fired = append(fired, "second") })
	f.AfterFunc(time.Minute, func() { fired = append(fired, "first") })
	f.AfterFunc(time.Hour, func() { fired = append(fired, "later") })

	f.Advance(5 * time.Minute)

	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, 1, f.Pending())
}

func TestFakeStop(t *testing.T) {
	f := NewFake(time.Now())
	ran := false
	tm := f.AfterFunc(time.Second, func() { ran = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	f.Advance(time.Minute)
	assert.False(t, ran)
}
