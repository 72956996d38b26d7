// Package pool implements the rate limited smtp transport used by a bulk
// run. A pool owns a fixed number of connection slots against one relay and
// enforces a rolling send rate, callers over the rate are delayed, never
// rejected.
package pool

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/modfin/utskick/smtpx"
	"golang.org/x/time/rate"
)

type Config struct {
	// Addr is the relay to deliver through, host:port.
	Addr      string
	LocalName string
	Auth      smtpx.Auth

	// Concurrency is the number of connection slots, and thereby the max
	// number of in flight sends.
	Concurrency int

	// MessagesPerSecond caps the rolling send rate. Zero disables the limit.
	MessagesPerSecond float64

	// MaxIdle is how long a connection may sit unused before the cleaner
	// closes it.
	MaxIdle time.Duration

	CleanInterval time.Duration
}

type (
	locker interface {
		Lock()
		Unlock()
	}
	Pool struct {
		cfg     Config
		dialer  smtpx.Dialer
		limiter *rate.Limiter
		slots   []*connection

		ostop sync.Once
		done  chan struct{}
	}
)

func New(ctx context.Context, dialer smtpx.Dialer, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 15 * time.Second
	}
	if cfg.CleanInterval <= 0 {
		cfg.CleanInterval = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}

	p := &Pool{
		cfg:     cfg,
		dialer:  dialer,
		limiter: rate.NewLimiter(limit, max(1, int(cfg.MessagesPerSecond))),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		p.slots = append(p.slots, &connection{
			addr:      cfg.Addr,
			localName: cfg.LocalName,
			auth:      cfg.Auth,
			dialer:    dialer,
			mu:        &sync.Mutex{},
		})
	}
	go p.cleaner(ctx)
	return p
}

// SendMail delivers one message through a connection slot, blocking until the
// rate limiter admits it. ctx aborts the wait, not an smtp exchange already
// in progress.
func (p *Pool) SendMail(ctx context.Context, logger smtpx.Logger, from string, to []string, msg io.WriterTo) error {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	// random slot pick avoids a roundrobin lock
	slot := p.slots[rand.Intn(len(p.slots))]
	return slot.sendMail(logger, from, to, msg)
}

func (p *Pool) Close() error {
	var err error
	p.ostop.Do(func() {
		close(p.done)
		for _, slot := range p.slots {
			slot.mu.Lock()
			if slot.conn != nil {
				cerr := slot.conn.Close()
				if cerr != nil && err == nil {
					err = cerr
				}
				slot.conn = nil
			}
			slot.mu.Unlock()
		}
	})
	return err
}

func (p *Pool) cleaner(ctx context.Context) {
	for {
		select {
		case <-time.After(p.cfg.CleanInterval):
		case <-p.done:
			return
		case <-ctx.Done():
			_ = p.Close()
			return
		}

		now := time.Now()
		for _, slot := range p.slots {
			slot.mu.Lock()
			if slot.conn != nil && now.Sub(slot.lastMessage) > p.cfg.MaxIdle {
				_ = slot.conn.Close()
				slot.conn = nil
			}
			slot.mu.Unlock()
		}
	}
}

type connection struct {
	addr      string
	localName string
	auth      smtpx.Auth
	dialer    smtpx.Dialer

	mu          locker
	conn        smtpx.Connection
	lastMessage time.Time
}

func (c *connection) connect(logger smtpx.Logger) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dialer(logger, c.addr, c.localName, c.auth)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *connection) sendMail(logger smtpx.Logger, from string, to []string, msg io.WriterTo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.connect(logger)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", c.addr, err)
	}
	c.conn.SetLogger(logger)
	defer c.conn.SetLogger(nil)

	err = c.conn.SendMail(from, to, msg)
	if err != nil {
		// the session state is unknown after a failed exchange, drop the
		// connection and let the next send redial
		_ = c.conn.Close()
		c.conn = nil
		return err
	}
	c.lastMessage = time.Now()
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
