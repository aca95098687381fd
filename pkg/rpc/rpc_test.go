package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/rpc/rpctest"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func echoServer(t *testing.T) *rpctest.Server {
	t.Helper()
	srv := rpctest.NewServer()
	t.Cleanup(srv.Close)
	srv.Handle("echo", func(params []json.RawMessage) (interface{}, error) {
		var delay int
		if len(params) > 1 {
			_ = json.Unmarshal(params[1], &delay)
		}
		time.Sleep(time.Duration(delay) * time.Millisecond)
		return params[0], nil
	})
	srv.HandleResult("nothing", nil)
	srv.Handle("fail", func([]json.RawMessage) (interface{}, error) {
		return nil, &rpc.RemoteError{Code: 4003, Message: "Client error: Unknown block"}
	})
	return srv
}

func dial(t *testing.T, url string, timeout time.Duration) rpc.Conn {
	t.Helper()
	ep, err := rpc.ParseEndpoint(url, timeout)
	require.NoError(t, err)
	conn, err := rpc.Dial(context.Background(), ep, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestParseEndpoint(t *testing.T) {
	ep, err := rpc.ParseEndpoint(" WSS://Node.Example.com:443/rpc ", 0)
	require.NoError(t, err)
	require.Equal(t, rpc.SchemeWS, ep.Scheme)
	require.Equal(t, "wss://node.example.com:443/rpc", ep.Key())
	require.Equal(t, rpc.DefaultTimeout, ep.Timeout)

	ep, err = rpc.ParseEndpoint("http://127.0.0.1:9933", time.Second)
	require.NoError(t, err)
	require.Equal(t, rpc.SchemeHTTP, ep.Scheme)
	require.Equal(t, time.Second, ep.Timeout)

	for _, bad := range []string{"", "127.0.0.1:9944", "ftp://node", "ws://"} {
		_, err := rpc.ParseEndpoint(bad, 0)
		require.Error(t, err, bad)
	}
}

func TestCallBothTransports(t *testing.T) {
	srv := echoServer(t)

	for name, url := range map[string]string{"http": srv.URL, "ws": srv.WSURL()} {
		t.Run(name, func(t *testing.T) {
			conn := dial(t, url, time.Second)

			var out string
			require.NoError(t, conn.Call(context.Background(), "echo", &out, "0xabcd"))
			require.Equal(t, "0xabcd", out)

			err := conn.Call(context.Background(), "nothing", &out)
			require.ErrorIs(t, err, rpc.ErrNotFound)
			require.ErrorIs(t, err, rpc.ErrProtocol)

			err = conn.Call(context.Background(), "fail", &out)
			var re *rpc.RemoteError
			require.ErrorAs(t, err, &re)
			require.Equal(t, 4003, re.Code)
			require.ErrorIs(t, err, rpc.ErrProtocol)

			err = conn.Call(context.Background(), "no_such_method", &out)
			require.ErrorIs(t, err, rpc.ErrProtocol)

			var n int
			err = conn.Call(context.Background(), "echo", &n, "not a number")
			require.ErrorIs(t, err, rpc.ErrProtocol)

			require.True(t, conn.Alive())
		})
	}
}

func TestWSPipelinedCallsGetTheirOwnResponses(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), 5*time.Second)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 32; i++ {
		want := fmt.Sprintf("call-%d", i)
		// earlier calls are slower so responses arrive out of order
		delay := (32 - i) * 2
		g.Go(func() error {
			var got string
			if err := conn.Call(ctx, "echo", &got, want, delay); err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("got %q, want %q", got, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, srv.Connections())
}

func TestWSDiscardsUnknownIDs(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), 5*time.Second)

	done := make(chan error, 1)
	go func() {
		var got string
		err := conn.Call(context.Background(), "echo", &got, "mine", 100)
		if err == nil && got != "mine" {
			err = fmt.Errorf("got %q", got)
		}
		done <- err
	}()

	require.Eventually(t, func() bool { return srv.Calls("echo") == 1 }, time.Second, 5*time.Millisecond)
	srv.SendRaw(map[string]interface{}{"jsonrpc": "2.0", "id": 424242, "result": "stray"})
	srv.SendRaw(map[string]interface{}{"jsonrpc": "2.0", "id": nil, "result": "stray"})

	require.NoError(t, <-done)
	require.True(t, conn.Alive())
}

func TestTimeoutKeepsConnectionUsable(t *testing.T) {
	srv := echoServer(t)

	for name, url := range map[string]string{"http": srv.URL, "ws": srv.WSURL()} {
		t.Run(name, func(t *testing.T) {
			const timeout = 100 * time.Millisecond
			conn := dial(t, url, timeout)

			var out string
			start := time.Now()
			err := conn.Call(context.Background(), "echo", &out, "slow", 500)
			elapsed := time.Since(start)
			require.ErrorIs(t, err, rpc.ErrTimeout)
			require.GreaterOrEqual(t, elapsed, timeout)
			require.Less(t, elapsed, timeout+200*time.Millisecond)

			require.NoError(t, conn.Call(context.Background(), "echo", &out, "fast"))
			require.Equal(t, "fast", out)
		})
	}
}

func TestExpiredContextLeavesSocketIntact(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), 5*time.Second)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel()

	var out string
	require.ErrorIs(t, conn.Call(cancelled, "echo", &out, "x"), context.Canceled)
	require.ErrorIs(t, conn.Call(expired, "echo", &out, "x"), rpc.ErrTimeout)
	require.Equal(t, 0, srv.Calls("echo"))
	require.True(t, conn.Alive())

	require.NoError(t, conn.Call(context.Background(), "echo", &out, "after"))
	require.Equal(t, "after", out)
	require.Equal(t, 1, srv.Connections())
}

func TestCallerCancellationIsNotATimeout(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	var out string
	err := conn.Call(ctx, "echo", &out, "slow", 300)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, rpc.ErrTimeout))
}

func TestWSConnectionLossFailsPendingAndLaterCalls(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), 5*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out string
			errs <- conn.Call(context.Background(), "echo", &out, "x", 1000)
		}()
	}
	require.Eventually(t, func() bool { return srv.Calls("echo") == 4 }, time.Second, 5*time.Millisecond)
	srv.DropConnections()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, rpc.ErrNetworkFailure)
	}
	require.False(t, conn.Alive())

	var out string
	err := conn.Call(context.Background(), "echo", &out, "again")
	require.ErrorIs(t, err, rpc.ErrNetworkFailure)
}

func TestDialFailures(t *testing.T) {
	srv := rpctest.NewServer()
	url := srv.WSURL()
	httpURL := srv.URL
	srv.Close()

	ep, err := rpc.ParseEndpoint(url, time.Second)
	require.NoError(t, err)
	_, err = rpc.Dial(context.Background(), ep, quietLogger())
	require.ErrorIs(t, err, rpc.ErrConnectFailed)

	// HTTP dials lazily, so the failure shows on the first call
	conn := dial(t, httpURL, time.Second)
	err = conn.Call(context.Background(), "echo", nil, "x")
	require.ErrorIs(t, err, rpc.ErrConnectFailed)
}

func TestWSClosedClientRejectsCalls(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.WSURL(), time.Second)
	require.NoError(t, conn.Close())
	require.False(t, conn.Alive())

	err := conn.Call(context.Background(), "echo", nil, "x")
	require.ErrorIs(t, err, rpc.ErrClosed)
}

func TestSubscriptions(t *testing.T) {
	srv := echoServer(t)
	srv.HandleResult("chain_subscribeNewHeads", "sub-1")
	srv.HandleResult("chain_unsubscribeNewHeads", true)

	conn := dial(t, srv.WSURL(), time.Second)
	sub, err := conn.Subscribe(context.Background(), "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	require.NoError(t, err)
	require.Equal(t, "sub-1", sub.ID())

	srv.Notify("chain_newHead", "other", map[string]string{"number": "0x0"})
	srv.Notify("chain_newHead", "sub-1", map[string]string{"number": "0x1"})

	select {
	case raw := <-sub.Notifications():
		require.JSONEq(t, `{"number":"0x1"}`, string(raw))
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, sub.Unsubscribe(context.Background()))
	require.Eventually(t, func() bool { return srv.Calls("chain_unsubscribeNewHeads") == 1 }, time.Second, 5*time.Millisecond)
	_, open := <-sub.Notifications()
	require.False(t, open)
	require.NoError(t, sub.Err())
}

func TestSubscriptionEndsWithConnection(t *testing.T) {
	srv := echoServer(t)
	srv.HandleResult("chain_subscribeNewHeads", 7)

	conn := dial(t, srv.WSURL(), time.Second)
	sub, err := conn.Subscribe(context.Background(), "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	require.NoError(t, err)
	require.Equal(t, "7", sub.ID())

	srv.DropConnections()
	select {
	case _, open := <-sub.Notifications():
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	require.ErrorIs(t, sub.Err(), rpc.ErrNetworkFailure)
}

func TestHTTPHasNoSubscriptions(t *testing.T) {
	srv := echoServer(t)
	conn := dial(t, srv.URL, time.Second)
	_, err := conn.Subscribe(context.Background(), "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	require.ErrorIs(t, err, rpc.ErrSubscriptionsUnsupported)
}
