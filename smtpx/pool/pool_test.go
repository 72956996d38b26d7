package pool

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modfin/utskick/smtpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConnection struct {
	mu        sync.Mutex
	closed    bool
	sendErr   error
	sendDelay time.Duration
	sent      int
}

func (tc *testConnection) SendMail(from string, to []string, msg io.WriterTo) error {
	if tc.sendDelay > 0 {
		time.Sleep(tc.sendDelay)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.sendErr != nil {
		return tc.sendErr
	}
	tc.sent++
	return nil
}

func (tc *testConnection) SetLogger(logger smtpx.Logger) {}

func (tc *testConnection) Close() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.closed = true
	return nil
}

var testErr = errors.New("test error")

func TestPool_SendMail(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name        string
		dialer      smtpx.Dialer
		concurrency int
		mails       int
		wantErrCnt  int
	}

	defaultDialer := func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
		return &testConnection{sendDelay: time.Millisecond}, nil
	}

	for _, tc := range []testCase{
		{
			name:        "happy flow",
			concurrency: 4,
			mails:       8,
		},
		{
			name:        "dialer error",
			concurrency: 1,
			mails:       2,
			dialer: func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
				return nil, testErr
			},
			wantErrCnt: 2,
		},
		{
			name:        "send error",
			concurrency: 1,
			mails:       2,
			dialer: func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
				return &testConnection{sendErr: testErr}, nil
			},
			wantErrCnt: 2,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			dialer := tc.dialer
			if dialer == nil {
				dialer = defaultDialer
			}
			p := New(ctx, dialer, Config{Addr: "relay:465", Concurrency: tc.concurrency})
			defer p.Close()

			respChan := make(chan error)
			for i := 0; i < tc.mails; i++ {
				go func() {
					respChan <- p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil)
				}()
			}

			var errCnt int
			for i := 0; i < tc.mails; i++ {
				if err := <-respChan; err != nil {
					errCnt++
				}
			}
			assert.Equal(t, tc.wantErrCnt, errCnt)
		})
	}
}

func TestPool_SendMailReconnectsAfterError(t *testing.T) {
	t.Parallel()

	var dials int32
	failing := &testConnection{sendErr: testErr}
	working := &testConnection{}
	dialer := func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
		if atomic.AddInt32(&dials, 1) == 1 {
			return failing, nil
		}
		return working, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, dialer, Config{Addr: "relay:465", Concurrency: 1})
	defer p.Close()

	err := p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil)
	require.ErrorIs(t, err, testErr)
	assert.True(t, failing.closed, "failed connection should be dropped")

	err = p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, working.sent)
	assert.EqualValues(t, 2, atomic.LoadInt32(&dials))
}

func TestPool_RateLimitDelays(t *testing.T) {
	t.Parallel()

	dialer := func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
		return &testConnection{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 10 msg/s with burst 10, the 11th send within the window must wait
	p := New(ctx, dialer, Config{Addr: "relay:465", Concurrency: 2, MessagesPerSecond: 10})
	defer p.Close()

	start := time.Now()
	for i := 0; i < 11; i++ {
		require.NoError(t, p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil))
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPool_RateLimitRespectsContext(t *testing.T) {
	t.Parallel()

	dialer := func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
		return &testConnection{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, dialer, Config{Addr: "relay:465", Concurrency: 1, MessagesPerSecond: 0.001})
	defer p.Close()

	// burn the single burst token
	require.NoError(t, p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil))

	waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer waitCancel()
	err := p.SendMail(waitCtx, nil, "from@x.com", []string{"to@x.com"}, nil)
	assert.Error(t, err)
	cancel()
}

func TestPool_CleanerClosesIdle(t *testing.T) {
	t.Parallel()

	conn := &testConnection{}
	dialer := func(logger smtpx.Logger, addr string, localName string, auth smtpx.Auth) (smtpx.Connection, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, dialer, Config{
		Addr:          "relay:465",
		Concurrency:   1,
		MaxIdle:       time.Millisecond,
		CleanInterval: 5 * time.Millisecond,
	})
	defer p.Close()

	require.NoError(t, p.SendMail(ctx, nil, "from@x.com", []string{"to@x.com"}, nil))

	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, time.Second, 5*time.Millisecond)
}
