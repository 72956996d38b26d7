package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// NewSqliteLedger opens (and creates, if needed) a sqlite backed send ledger
// for single node deployments. Retention is enforced by purging expired rows
// before lookups, 0 keeps records forever.
func NewSqliteLedger(path string, retention time.Duration) (*SqliteLedger, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open sqlite ledger at %s: %v", ErrStoreUnavailable, path, err)
	}
	lite := &SqliteLedger{db: db, retention: retention}
	err = lite.ensureSchema()
	if err != nil {
		return nil, err
	}
	return lite, nil
}

type SqliteLedger struct {
	db        *sqlx.DB
	retention time.Duration
}

func (s *SqliteLedger) ensureSchema() error {
	q := `
	CREATE TABLE IF NOT EXISTS already_sent (
	    bunch_id   TEXT NOT NULL,
	    email      TEXT NOT NULL,
	    subject    TEXT NOT NULL DEFAULT '',
	    sent_at    TIMESTAMP NOT NULL,
	    message_id TEXT NOT NULL DEFAULT '',
	    PRIMARY KEY (bunch_id, email)
	)`
	_, err := s.db.Exec(q)
	if err != nil {
		return fmt.Errorf("%w: could not ensure ledger schema: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// purge drops records older than the retention window so that they read as
// never sent. No-op without a window.
func (s *SqliteLedger) purge(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().In(time.UTC).Add(-s.retention)
	_, err := s.db.ExecContext(ctx, `DELETE FROM already_sent WHERE sent_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("%w: could not purge expired ledger rows: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SqliteLedger) Exists(ctx context.Context, bunchID, email string) (bool, error) {
	err := s.purge(ctx)
	if err != nil {
		return false, err
	}
	var count int
	err = s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM already_sent WHERE bunch_id = ? AND email = ?`, bunchID, email)
	if err != nil {
		return false, fmt.Errorf("%w: ledger lookup failed: %v", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

func (s *SqliteLedger) ExistsBulk(ctx context.Context, bunchID string, emails []string) (map[string]struct{}, error) {
	sent := make(map[string]struct{}, len(emails))
	if len(emails) == 0 {
		return sent, nil
	}
	err := s.purge(ctx)
	if err != nil {
		return nil, err
	}

	q, args, err := sqlx.In(
		`SELECT email FROM already_sent WHERE bunch_id = ? AND email IN (?)`, bunchID, emails)
	if err != nil {
		return nil, fmt.Errorf("%w: could not build ledger bulk query: %v", ErrStoreUnavailable, err)
	}

	var found []string
	err = s.db.SelectContext(ctx, &found, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger bulk lookup failed: %v", ErrStoreUnavailable, err)
	}
	for _, email := range found {
		sent[email] = struct{}{}
	}
	return sent, nil
}

func (s *SqliteLedger) RecordSent(ctx context.Context, rec SentRecord) error {
	q := `
	INSERT INTO already_sent (bunch_id, email, subject, sent_at, message_id)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (bunch_id, email) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		rec.BunchID, rec.Email, rec.Subject, rec.SentAt.In(time.UTC), rec.MessageID)
	if err != nil {
		return fmt.Errorf("%w: could not record sent for %s: %v", ErrStoreUnavailable, rec.Email, err)
	}
	return nil
}

func (s *SqliteLedger) Close() error {
	return s.db.Close()
}
