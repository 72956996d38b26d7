package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/modfin/utskick"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const recipientCollection = "recipients"
const ledgerCollection = "already_sent"

// NewMongo connects to the document store and ensures the ledger indexes, a
// unique key on (bunch_id, email) and, when retention is set, a ttl index on
// sent_at letting old records expire and later sends go through again.
func NewMongo(ctx context.Context, uri, database string, retention time.Duration) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(10))
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect to mongo: %v", ErrStoreUnavailable, err)
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not ping mongo: %v", ErrStoreUnavailable, err)
	}

	m := &Mongo{
		client:     client,
		recipients: client.Database(database).Collection(recipientCollection),
		ledger:     client.Database(database).Collection(ledgerCollection),
	}
	err = m.ensureIndexes(ctx, retention)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type Mongo struct {
	client     *mongo.Client
	recipients *mongo.Collection
	ledger     *mongo.Collection
}

func (m *Mongo) ensureIndexes(ctx context.Context, retention time.Duration) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "bunch_id", Value: 1},
				{Key: "email", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("bunch_email_unique"),
		},
	}
	if retention > 0 {
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: "sent_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(retention.Seconds())).
				SetName("sent_at_ttl"),
		})
	}
	_, err := m.ledger.Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("%w: could not ensure ledger indexes: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Mongo) GetByBunch(ctx context.Context, bunchID string) ([]utskick.Recipient, error) {
	cursor, err := m.recipients.Find(ctx, bson.M{"bunch_id": bunchID})
	if err != nil {
		return nil, fmt.Errorf("%w: could not query recipients for bunch %s: %v", ErrStoreUnavailable, bunchID, err)
	}
	defer cursor.Close(ctx)

	var recipients []utskick.Recipient
	err = cursor.All(ctx, &recipients)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read recipients for bunch %s: %v", ErrStoreUnavailable, bunchID, err)
	}
	return recipients, nil
}

func (m *Mongo) Exists(ctx context.Context, bunchID, email string) (bool, error) {
	err := m.ledger.FindOne(ctx, bson.M{"bunch_id": bunchID, "email": email}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: ledger lookup failed: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

func (m *Mongo) ExistsBulk(ctx context.Context, bunchID string, emails []string) (map[string]struct{}, error) {
	sent := make(map[string]struct{}, len(emails))
	if len(emails) == 0 {
		return sent, nil
	}

	cursor, err := m.ledger.Find(ctx,
		bson.M{"bunch_id": bunchID, "email": bson.M{"$in": emails}},
		options.Find().SetProjection(bson.M{"email": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger bulk lookup failed: %v", ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var records []SentRecord
	err = cursor.All(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger bulk lookup failed: %v", ErrStoreUnavailable, err)
	}
	for _, rec := range records {
		sent[rec.Email] = struct{}{}
	}
	return sent, nil
}

func (m *Mongo) RecordSent(ctx context.Context, rec SentRecord) error {
	_, err := m.ledger.UpdateOne(ctx,
		bson.M{"bunch_id": rec.BunchID, "email": rec.Email},
		bson.M{"$set": bson.M{
			"bunch_id":   rec.BunchID,
			"email":      rec.Email,
			"subject":    rec.Subject,
			"sent_at":    rec.SentAt,
			"message_id": rec.MessageID,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// lost a race against a concurrent run, the record is there
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: could not record sent for %s: %v", ErrStoreUnavailable, rec.Email, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
