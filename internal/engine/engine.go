// Package engine implements the bulk delivery flow, resolve the bunch,
// filter against the send ledger, render and track each message, dispatch
// through the rate limited transport under the retry policy and aggregate a
// delivery report.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/dao"
	"github.com/modfin/utskick/internal/metrics"
	"github.com/modfin/utskick/internal/profile"
	"github.com/modfin/utskick/internal/retry"
	"github.com/modfin/utskick/smtpx"
	"github.com/modfin/utskick/tmpl"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// Transport is what a run dispatches through, one rate limited connection
// pool against the relay of a sender profile.
type Transport interface {
	SendMail(ctx context.Context, logger smtpx.Logger, from string, to []string, msg io.WriterTo) error
	Close() error
}

// TransportFactory builds the dedicated transport for one run. Credentials
// and relay come from the sender profile.
type TransportFactory func(ctx context.Context, p profile.Profile) Transport

// Sink receives the report of a finished run, best effort.
type Sink interface {
	Enqueue(report utskick.Report)
}

type Config struct {
	// TrackingBaseURL is the default tracking host, profiles may override.
	TrackingBaseURL string

	// Exempt addresses are always dispatched and never written to the
	// ledger, regardless of send history.
	Exempt []string

	RetryAttempts  int
	RetryBaseDelay time.Duration

	// Concurrency bounds the dispatch worker pool of one run.
	Concurrency int
}

func New(cfg Config, recipients dao.RecipientStore, ledger dao.Ledger, profiles *profile.Registry,
	transport TransportFactory, sink Sink, m *metrics.Metrics, lc *tools.Logger) *Engine {

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, address := range cfg.Exempt {
		exempt[tools.NormalizeEmail(address)] = struct{}{}
	}

	return &Engine{
		cfg:        cfg,
		exempt:     exempt,
		recipients: recipients,
		ledger:     ledger,
		profiles:   profiles,
		transport:  transport,
		sink:       sink,
		metrics:    m,
		log:        lc.New("engine"),
		runs:       map[string]*Run{},
	}
}

type Engine struct {
	cfg        Config
	exempt     map[string]struct{}
	recipients dao.RecipientStore
	ledger     dao.Ledger
	profiles   *profile.Registry
	transport  TransportFactory
	sink       Sink
	metrics    *metrics.Metrics
	log        *logrus.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// RunBulkSend executes one bulk run synchronously and returns its report.
// Per recipient failures are folded into the report, only infrastructure
// failures, store unreachable or unknown sender, surface as an error.
func (e *Engine) RunBulkSend(ctx context.Context, campaign utskick.Campaign) (utskick.DeliveryReport, error) {
	report := utskick.DeliveryReport{BunchID: campaign.BunchID}

	err := campaign.Validate()
	if err != nil {
		return report, err
	}

	prof, err := e.profiles.Get(campaign.From.Email)
	if err != nil {
		return report, err
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RunDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// Resolving
	recipients, err := e.recipients.GetByBunch(ctx, campaign.BunchID)
	if err != nil {
		return report, fmt.Errorf("could not resolve recipients for bunch %s: %w", campaign.BunchID, err)
	}
	if len(recipients) == 0 {
		e.log.WithField("bunch", campaign.BunchID).Info("bunch has no recipients, nothing to do")
		return report, nil
	}

	// Filtering. Duplicates within the batch collapse to the first row and
	// the ledger snapshot is taken once, before dispatch begins.
	candidates := dedupe(recipients)

	var emails []string
	for _, r := range candidates {
		emails = append(emails, tools.NormalizeEmail(r.Email))
	}
	alreadySent, err := e.ledger.ExistsBulk(ctx, campaign.BunchID, emails)
	if err != nil {
		return report, fmt.Errorf("could not check ledger for bunch %s: %w", campaign.BunchID, err)
	}

	transport := e.transport(ctx, prof)
	defer transport.Close()

	policy := retry.NewPolicy(e.cfg.RetryAttempts, e.cfg.RetryBaseDelay)

	// Dispatching
	var mu sync.Mutex
	add := func(res utskick.RecipientResult) {
		mu.Lock()
		report.Add(res)
		mu.Unlock()
		if e.metrics != nil {
			e.metrics.Emails.WithLabelValues(campaign.BunchID, string(res.Outcome)).Inc()
		}
	}

	workers := pond.New(e.cfg.Concurrency, 0)
	for _, recipient := range candidates {
		recipient := recipient
		email := tools.NormalizeEmail(recipient.Email)

		if len(email) == 0 {
			add(utskick.RecipientResult{Outcome: utskick.OutcomeFailed, Reason: "missing email field"})
			continue
		}

		_, isExempt := e.exempt[email]
		if _, sent := alreadySent[email]; sent && !isExempt {
			add(utskick.RecipientResult{Email: email, Outcome: utskick.OutcomeSkipped, Reason: "already sent"})
			continue
		}

		workers.Submit(func() {
			add(e.deliver(ctx, transport, policy, prof, campaign, recipient, isExempt))
		})
	}
	workers.StopAndWait()

	// Aggregating happened incrementally, the report is complete here.
	e.log.WithFields(logrus.Fields{
		"bunch":   campaign.BunchID,
		"sent":    report.Sent,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	}).Info("bulk run done")

	return report, nil
}

// deliver renders, tracks and sends one message, and on terminal success
// records it in the ledger. Exempt recipients are never recorded.
func (e *Engine) deliver(ctx context.Context, transport Transport, policy retry.Policy,
	prof profile.Profile, campaign utskick.Campaign, recipient utskick.Recipient, isExempt bool) utskick.RecipientResult {

	email := tools.NormalizeEmail(recipient.Email)

	vars := tmpl.Merge(campaign.Defaults, recipient.Fields)
	if len(recipient.Name) > 0 {
		vars = tmpl.Merge(map[string]string{"name": recipient.Name}, vars)
	}

	messageId := newMessageId()
	msg, err := e.buildMessage(prof, campaign, email, messageId, vars)
	if err != nil {
		return utskick.RecipientResult{Email: email, Outcome: utskick.OutcomeFailed, Reason: err.Error()}
	}

	logger := &sendLogger{log: e.log, email: email, bunch: campaign.BunchID}

	start := time.Now()
	err = policy.Do(ctx, func() error {
		return transport.SendMail(ctx, logger, campaign.From.Email, []string{email}, msg)
	})
	if e.metrics != nil {
		e.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"bunch": campaign.BunchID,
			"to":    email,
		}).Warn("terminal delivery failure")
		return utskick.RecipientResult{Email: email, Outcome: utskick.OutcomeFailed, Reason: err.Error()}
	}

	if !isExempt {
		err = e.ledger.RecordSent(ctx, dao.SentRecord{
			BunchID:   campaign.BunchID,
			Email:     email,
			Subject:   campaign.Subject,
			SentAt:    time.Now().In(time.UTC),
			MessageID: messageId,
		})
		if err != nil {
			// the mail is out, a missing ledger row only risks a future
			// duplicate, so log and keep the outcome
			e.log.WithError(err).WithField("to", email).Error("could not record sent in ledger")
		}
	}

	return utskick.RecipientResult{Email: email, Outcome: utskick.OutcomeSent}
}

// SendOne delivers a single transactional email, rendered and tracked like a
// bulk message but never deduplicated against the ledger.
func (e *Engine) SendOne(ctx context.Context, email utskick.Email) (string, error) {
	if len(email.To.Email) == 0 {
		return "", fmt.Errorf("a to address must be provided")
	}

	prof, err := e.profiles.Get(email.From.Email)
	if err != nil {
		return "", err
	}

	campaign := utskick.Campaign{
		From:     email.From,
		ReplyTo:  email.ReplyTo,
		Subject:  email.Subject,
		HTML:     email.HTML,
		Text:     email.Text,
		Defaults: email.Variables,
	}

	to := tools.NormalizeEmail(email.To.Email)
	messageId := newMessageId()
	msg, err := e.buildMessage(prof, campaign, to, messageId, email.Variables)
	if err != nil {
		return "", err
	}

	transport := e.transport(ctx, prof)
	defer transport.Close()

	policy := retry.NewPolicy(e.cfg.RetryAttempts, e.cfg.RetryBaseDelay)
	logger := &sendLogger{log: e.log, email: to}
	err = policy.Do(ctx, func() error {
		return transport.SendMail(ctx, logger, email.From.Email, []string{to}, msg)
	})
	if err != nil {
		return "", err
	}
	return messageId, nil
}

func dedupe(recipients []utskick.Recipient) []utskick.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	var unique []utskick.Recipient
	for _, r := range recipients {
		email := tools.NormalizeEmail(r.Email)
		if _, ok := seen[email]; ok && len(email) > 0 {
			continue
		}
		seen[email] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}

func newMessageId() string {
	return fmt.Sprintf("%s=%s", uuid.New().String(), tools.Hostname())
}

// sendLogger adapts the engine logger to the per message smtpx.Logger.
type sendLogger struct {
	log   *logrus.Logger
	email string
	bunch string
}

func (l *sendLogger) Logf(format string, args ...interface{}) {
	l.log.WithFields(logrus.Fields{"to": l.email, "bunch": l.bunch}).Debugf(format, args...)
}
