package dao

import "time"

// SentRecord is one row in the send ledger, written exactly once per
// successful delivery.
type SentRecord struct {
	BunchID   string    `db:"bunch_id" bson:"bunch_id"`
	Email     string    `db:"email" bson:"email"`
	Subject   string    `db:"subject" bson:"subject"`
	SentAt    time.Time `db:"sent_at" bson:"sent_at"`
	MessageID string    `db:"message_id" bson:"message_id"`
}
