package utskick

import (
	"errors"
	"fmt"
	"time"
)

// A Campaign is one bulk send request. It is created once, by the caller,
// and never mutated. BunchID selects both the recipient set and the ledger
// scope that deduplication runs against.
type Campaign struct {
	From     Address           `json:"from"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html_template,omitempty"`
	Text     string            `json:"text_template,omitempty"`
	BunchID  string            `json:"bunch_id"`
	Defaults map[string]string `json:"default_variables,omitempty"`
}

func (c Campaign) Validate() error {
	if len(c.From.Email) == 0 {
		return errors.New("a from address must be provided")
	}
	if len(c.Subject) == 0 {
		return errors.New("a subject must be provided")
	}
	if len(c.BunchID) == 0 {
		return ErrNotABunch
	}
	if len(c.HTML) == 0 && len(c.Text) == 0 {
		return errors.New("content of the email must be provided")
	}
	return nil
}

// ErrNotABunch is returned when a bulk send is requested for something that
// does not resolve to a recipient bunch, eg a single target. Those requests
// are routed elsewhere and are a caller contract violation here.
var ErrNotABunch = errors.New("request does not target a recipient bunch")

func AddressOf(email string) Address {
	return Address{Email: email}
}

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

// A Recipient is one row from the recipient store. Fields carries arbitrary
// personalization values that are merged over the campaign defaults when
// rendering.
type Recipient struct {
	Email   string            `json:"email" bson:"email"`
	Name    string            `json:"name,omitempty" bson:"name,omitempty"`
	BunchID string            `json:"bunch_id" bson:"bunch_id"`
	Fields  map[string]string `json:"fields,omitempty" bson:"fields,omitempty"`
}

type Outcome string

// OutcomeSent the message was accepted by the receiving server and recorded
// in the ledger.
const OutcomeSent Outcome = "sent"

// OutcomeFailed delivery failed terminally, after retries or on a permanent
// error. Nothing was written to the ledger.
const OutcomeFailed Outcome = "failed"

// OutcomeSkipped the address was already present in the ledger for the bunch
// and was not dispatched.
const OutcomeSkipped Outcome = "skipped"

type RecipientResult struct {
	Email   string  `json:"email"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// A DeliveryReport aggregates the outcome of one bulk run. Every resolved
// recipient appears in Results exactly once. The report is immutable once
// returned.
type DeliveryReport struct {
	BunchID string            `json:"bunch_id"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Skipped int               `json:"skipped"`
	Results []RecipientResult `json:"results"`
}

func (r *DeliveryReport) Add(res RecipientResult) {
	switch res.Outcome {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Results = append(r.Results, res)
}

// A Report is the payload posted to the configured webhook when a bulk run
// completes. Best effort, the run result never depends on it.
type Report struct {
	RunID     string    `json:"run_id"`
	Sender    string    `json:"sender"`
	BunchID   string    `json:"bunch_id"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	CreatedAt time.Time `json:"created_at"`
}
