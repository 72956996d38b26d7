// Package smtpx abstracts the smtp transport used for delivery. The engine
// only sees the Dialer and Connection interfaces, the real implementation
// speaks net/smtp against the relay of a sender profile.
package smtpx

import (
	"errors"
	"io"
	"net"
	"net/textproto"
)

type Logger interface {
	Logf(format string, args ...interface{})
}

type Connection interface {
	SendMail(from string, to []string, msg io.WriterTo) error
	SetLogger(logger Logger)
	Close() error
}

// Auth carries the credentials of a sender profile. A zero Auth disables
// authentication on the connection.
type Auth struct {
	Username string
	Password string
}

func (a Auth) Empty() bool {
	return a.Username == "" && a.Password == ""
}

type Dialer func(logger Logger, addr string, localName string, auth Auth) (Connection, error)

// PermanentError marks a failure that no amount of retrying will fix, eg a
// rejected recipient or bad credentials.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent classifies a delivery error. Smtp 5xx replies and explicitly
// wrapped errors are permanent, everything else, network errors and 4xx
// replies included, is considered transient and worth a retry.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	var terr *textproto.Error
	if errors.As(err, &terr) {
		return terr.Code/100 == 5
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return false
	}
	return false
}
