package smtpx

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
)

// NewDialer returns the production dialer. Port 465 gets implicit tls, other
// ports try starttls when the server offers it.
func NewDialer() Dialer {
	return func(logger Logger, addr string, localName string, auth Auth) (Connection, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("could not parse relay address %s: %w", addr, err)
		}

		var client *smtp.Client
		if port == "465" {
			tlsConn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
			if err != nil {
				return nil, fmt.Errorf("could not dial %s: %w", addr, err)
			}
			client, err = smtp.NewClient(tlsConn, host)
			if err != nil {
				return nil, fmt.Errorf("could not create smtp client for %s: %w", addr, err)
			}
		} else {
			client, err = smtp.Dial(addr)
			if err != nil {
				return nil, fmt.Errorf("could not dial %s: %w", addr, err)
			}
		}

		if len(localName) > 0 {
			err = client.Hello(localName)
			if err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("helo as %s failed: %w", localName, err)
			}
		}

		if port != "465" {
			if ok, _ := client.Extension("STARTTLS"); ok {
				err = client.StartTLS(&tls.Config{ServerName: host})
				if err != nil {
					_ = client.Close()
					return nil, fmt.Errorf("starttls with %s failed: %w", addr, err)
				}
			}
		}

		if !auth.Empty() {
			err = client.Auth(smtp.PlainAuth("", auth.Username, auth.Password, host))
			if err != nil {
				_ = client.Close()
				// bad credentials will not get better on retry
				return nil, Permanent(fmt.Errorf("auth with %s failed: %w", addr, err))
			}
		}

		return &connection{client: client, addr: addr}, nil
	}
}

type connection struct {
	client *smtp.Client
	addr   string
	logger Logger
}

func (c *connection) SetLogger(logger Logger) {
	c.logger = logger
}

func (c *connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Logf(format, args...)
	}
}

func (c *connection) SendMail(from string, to []string, msg io.WriterTo) error {
	err := c.client.Mail(cleanAddress(from))
	if err != nil {
		return fmt.Errorf("mail from %s was rejected: %w", from, err)
	}
	for _, rcpt := range to {
		err = c.client.Rcpt(cleanAddress(rcpt))
		if err != nil {
			_ = c.client.Reset()
			return fmt.Errorf("rcpt to %s was rejected: %w", rcpt, err)
		}
	}
	w, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	_, err = msg.WriteTo(w)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("could not write message: %w", err)
	}
	err = w.Close()
	if err != nil {
		return fmt.Errorf("message was not accepted: %w", err)
	}
	c.logf("message accepted by %s", c.addr)
	return nil
}

func (c *connection) Close() error {
	err := c.client.Quit()
	if err != nil {
		return c.client.Close()
	}
	return nil
}

func cleanAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '<'); i >= 0 {
		if j := strings.IndexByte(address, '>'); j > i {
			return address[i+1 : j]
		}
	}
	return address
}
