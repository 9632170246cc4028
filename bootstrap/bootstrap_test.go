package bootstrap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolverFindsLocalhost(t *testing.T) {
	r := &Resolver{}
	addrs, err := r.Resolve(context.Background(), "localhost")
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
}

// counter is a tiny thread-safe counter for assertions across goroutines.
type counter struct {
	mu sync.Mutex
	v  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func newLoopbackAttempt(dial Dialer, onConn func(net.Conn), onFail func(error)) *Attempt {
	return NewAttempt("localhost", "1234", &Resolver{}, dial, onConn, onFail)
}

func TestAttemptFirstConnectWins(t *testing.T) {
	var connected, failed counter

	dial := func(network, address string) (net.Conn, error) {
		connected.inc()
		c1, c2 := net.Pipe()
		go func() {
			time.Sleep(10 * time.Millisecond)
			c2.Close()
		}()
		return c1, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	a := newLoopbackAttempt(dial,
		func(conn net.Conn) { wg.Done() },
		func(err error) { failed.inc(); wg.Done() },
	)
	a.Start()
	wg.Wait()

	require.GreaterOrEqual(t, connected.get(), 1)
	require.Equal(t, 0, failed.get())
}

func TestAttemptAllFailuresInvokesCallbackOnce(t *testing.T) {
	var failed counter

	dial := func(network, address string) (net.Conn, error) {
		return nil, fmt.Errorf("refused")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	a := newLoopbackAttempt(dial,
		func(conn net.Conn) { t.Fatal("should not connect") },
		func(err error) { failed.inc(); wg.Done() },
	)
	a.Start()
	wg.Wait()

	require.Equal(t, 1, failed.get())
}

func TestAttemptCancelSuppressesFailure(t *testing.T) {
	dial := func(network, address string) (net.Conn, error) {
		return nil, fmt.Errorf("refused")
	}

	a := newLoopbackAttempt(dial,
		func(conn net.Conn) { t.Fatal("should not connect") },
		func(err error) { t.Fatal("failure callback should be suppressed after cancel") },
	)
	a.Cancel()
	a.Start()

	time.Sleep(50 * time.Millisecond)
}
