package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/at1559/WhatsappWeb4j/binary"
)

func TestBlockingSendResolvesOnComplete(t *testing.T) {
	c := NewCorrelator()
	reply := binary.Node{Description: "iq", Attrs: []binary.Attr{binary.StrAttr("type", "result")}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Complete("req-1", reply, nil)
	}()

	got, err := c.BlockingSend(context.Background(), "req-1", func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, "iq", got.Description)
}

func TestWaitTimesOutWithoutReply(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, "req-2")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCompleteWithErrorPropagatesToWaiter(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-3"))

	streamErr := &struct{ error }{}
	go c.Complete("req-3", binary.Node{}, streamErr)

	_, err := c.Wait(context.Background(), "req-3")
	require.Equal(t, streamErr, err)
}

func TestCompleteAllWithErrorResolvesEveryWaiter(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("a"))
	require.NoError(t, c.Register("b"))

	done := make(chan error, 2)
	go func() {
		_, err := c.Wait(context.Background(), "a")
		done <- err
	}()
	go func() {
		_, err := c.Wait(context.Background(), "b")
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	c.CompleteAllWithError(ErrClosed)

	require.ErrorIs(t, <-done, ErrClosed)
	require.ErrorIs(t, <-done, ErrClosed)
}

func TestSendFailureSkipsWait(t *testing.T) {
	c := NewCorrelator()
	sendErr := context.DeadlineExceeded
	_, err := c.BlockingSend(context.Background(), "req-4", func() error { return sendErr })
	require.ErrorIs(t, err, sendErr)
}

func TestCloseResolvesOutstandingWaits(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-5"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), "req-5")
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	c.Close()
	require.ErrorIs(t, <-done, ErrClosed)

	err := c.Register("req-6")
	require.ErrorIs(t, err, ErrClosed)
}
