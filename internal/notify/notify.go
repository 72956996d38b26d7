// Package notify pushes delivery reports to a configured webhook. It is
// strictly best effort, a run result never depends on the webhook being
// reachable, failures are logged and dropped after a few tries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/signals"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// URL is the webhook target. Empty disables the notifier, Enqueue
	// becomes a no-op.
	URL string

	Workers int

	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func New(cfg Config, lc *tools.Logger) *Notifier {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Notifier{
		cfg:  cfg,
		log:  lc.New("notify"),
		done: make(chan struct{}),
	}
}

type Notifier struct {
	cfg  Config
	log  *logrus.Logger
	done chan struct{}

	mu      sync.Mutex
	pending []utskick.Report

	ostart sync.Once
	ostop  sync.Once
	wg     sync.WaitGroup

	stopped chan struct{}
}

// Enqueue queues a report for webhook delivery and wakes the dispatch loop.
func (n *Notifier) Enqueue(report utskick.Report) {
	if len(n.cfg.URL) == 0 {
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, report)
	n.mu.Unlock()
	signals.Notify(signals.NewReport)
}

func (n *Notifier) dequeue(count int) []utskick.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	if count > len(n.pending) {
		count = len(n.pending)
	}
	batch := n.pending[:count:count]
	n.pending = n.pending[count:]
	return batch
}

func (n *Notifier) Start() {
	n.ostart.Do(func() {
		if len(n.cfg.URL) == 0 {
			n.log.Info("no webhook url configured, notifier is disabled")
			return
		}
		n.stopped = make(chan struct{})
		go n.start()
	})
}

func (n *Notifier) start() {
	defer close(n.stopped)

	reports := make(chan utskick.Report, n.cfg.Workers*2)
	for i := 0; i < n.cfg.Workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.worker(reports)
		}()
	}

	newReports, cancel := signals.Listen(signals.NewReport)
	defer cancel()

	for {
		batch := n.dequeue(n.cfg.Workers * 2)
		for _, report := range batch {
			reports <- report
		}

		// keep draining while there is a backlog
		if len(batch) > 0 {
			continue
		}

		select {
		case <-time.After(10 * time.Second):
		case <-newReports:
		case <-n.done:
			close(reports)
			n.wg.Wait()
			return
		}
	}
}

func (n *Notifier) worker(reports <-chan utskick.Report) {
	workerId := tools.RandStringRunes(5)
	for report := range reports {
		err := n.post(report)
		if err != nil {
			n.log.WithError(err).WithField("worker", workerId).
				WithField("run_id", report.RunID).
				Error("giving up on webhook notification")
		}
	}
}

func (n *Notifier) post(report utskick.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}

	var lastErr error
	delay := n.cfg.RetryDelay
	for attempt := 1; attempt <= n.cfg.Retries; attempt++ {
		lastErr = n.postOnce(body)
		if lastErr == nil {
			return nil
		}
		if attempt < n.cfg.Retries {
			select {
			case <-time.After(delay):
			case <-n.done:
				return lastErr
			}
			delay *= 2
		}
	}
	return lastErr
}

func (n *Notifier) postOnce(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook replied %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) Stop(ctx context.Context) error {
	var err error
	n.ostop.Do(func() {
		close(n.done)
		if n.stopped == nil {
			return
		}
		select {
		case <-n.stopped:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
