package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(time.Second)
		require.NotNil(t, timer1)
		PutTimer(timer1)

		timer2 := GetTimer(20 * time.Millisecond)
		require.NotNil(t, timer2)
		<-timer2.C
		PutTimer(timer2)
	})

	t.Run("Reused timer does not fire early", func(t *testing.T) {
		timer1 := GetTimer(5 * time.Millisecond)
		time.Sleep(20 * time.Millisecond) // let it expire without reading C
		PutTimer(timer1)

		timer2 := GetTimer(200 * time.Millisecond)
		defer PutTimer(timer2)

		select {
		case <-timer2.C:
			t.Fatal("stale expiry leaked into reused timer")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Second), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

func TestRemaining(t *testing.T) {
	assert.Zero(t, Remaining(time.Now().Add(-time.Second), 0))
	assert.Equal(t, 10*time.Millisecond, Remaining(time.Now().Add(time.Hour), 10*time.Millisecond))

	d := Remaining(time.Now().Add(time.Second), 0)
	assert.Greater(t, d, 900*time.Millisecond)
}
