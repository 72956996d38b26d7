package engine

import (
	"context"
	"time"

	"github.com/modfin/utskick"
	"github.com/rs/xid"
)

// A Run is the handle of one asynchronous bulk send. The report and error are
// readable once Done is closed.
type Run struct {
	ID        string
	Campaign  utskick.Campaign
	CreatedAt time.Time

	done   chan struct{}
	report utskick.DeliveryReport
	err    error
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether the run has completed.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Report returns the delivery report and terminal error of a finished run.
// It must not be called before Done is closed.
func (r *Run) Report() (utskick.DeliveryReport, error) {
	return r.report, r.err
}

const runRetention = time.Hour

// Submit starts a bulk send in the background and returns its handle. The
// run always completes internally, a caller going away does not stop
// in-flight sends. On completion the report is pushed to the notification
// sink.
func (e *Engine) Submit(campaign utskick.Campaign) (*Run, error) {
	err := campaign.Validate()
	if err != nil {
		return nil, err
	}
	if _, err = e.profiles.Get(campaign.From.Email); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        xid.New().String(),
		Campaign:  campaign,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	e.prune()
	e.runs[run.ID] = run
	e.mu.Unlock()

	go func() {
		// deliberately detached from the caller's context, the engine
		// always finishes its report
		run.report, run.err = e.RunBulkSend(context.Background(), campaign)
		close(run.done)

		if run.err == nil && e.sink != nil {
			e.sink.Enqueue(utskick.Report{
				RunID:     run.ID,
				Sender:    campaign.From.Email,
				BunchID:   campaign.BunchID,
				Sent:      run.report.Sent,
				Failed:    run.report.Failed,
				Skipped:   run.report.Skipped,
				CreatedAt: time.Now().In(time.UTC),
			})
		}
	}()

	return run, nil
}

// Run looks up a submitted run by id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[id]
	return run, ok
}

// prune drops finished runs past retention. Caller holds e.mu.
func (e *Engine) prune() {
	cutoff := time.Now().Add(-runRetention)
	for id, run := range e.runs {
		if run.Finished() && run.CreatedAt.Before(cutoff) {
			delete(e.runs, id)
		}
	}
}
