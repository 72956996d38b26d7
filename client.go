package utskick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func NewClient(host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host: host,
		http: http.DefaultClient,
	}
}

// Client is a thin json client for a running utskickd.
type Client struct {
	host string
	http *http.Client
}

type Receipt struct {
	RunID string `json:"run_id"`
}

type SendResult struct {
	MessageId string `json:"message_id"`
}

// SendBulk submits a campaign for asynchronous delivery and returns the run
// id. Poll Run with it for the report.
func (c *Client) SendBulk(ctx context.Context, campaign Campaign) (Receipt, error) {
	var r Receipt
	err := c.post(ctx, "/send-bulk-emails", campaign, &r)
	return r, err
}

// Run fetches the delivery report for a run. It returns nil while the run is
// still in flight.
func (c *Client) Run(ctx context.Context, runID string) (*DeliveryReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/runs/"+runID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil, nil
	case http.StatusOK:
		var report DeliveryReport
		err = json.NewDecoder(resp.Body).Decode(&report)
		return &report, err
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("run %s: unexpected status %d, %s", runID, resp.StatusCode, string(body))
	}
}

type Email struct {
	From      Address           `json:"from"`
	To        Address           `json:"to"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html,omitempty"`
	Text      string            `json:"text,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Send delivers a single transactional email. Single sends do not touch the
// ledger.
func (c *Client) Send(ctx context.Context, email Email) (SendResult, error) {
	var r SendResult
	err := c.post(ctx, "/send-email", email, &r)
	return r, err
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewBuffer(buf))
	if err != nil {
		return err
	}
	req.Header.Add("content-type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: status %d, %s", path, resp.StatusCode, string(respBytes))
	}
	return json.Unmarshal(respBytes, out)
}
