// Package mongostore persists ledger entries in MongoDB.
//
// Appends run inside a multi-document transaction, so the server must be
// a replica set or a sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

const DefaultCollection = "ledger_entries"

// compile-time interface check
var _ ledger.Backend = (*Store)(nil)

type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

// New connects to uri and uses the given database and collection.
func New(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetAppName("tenere"))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		client: client,
		col:    client.Database(database).Collection(collection),
	}, nil
}

// Migrate creates the collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("mongostore: migrate indexes: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// AppendEntry inserts e in a transaction that first re-reads the owner's
// latest entry. Two racing appends for one owner cannot both commit: the
// unique (owner, timestamp) index or the transaction's write conflict
// stops the loser.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("mongostore: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		prev, ok, err := s.LatestEntry(ctx, e.Owner)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := ledger.ConflictError(prev, e); err != nil {
				return nil, err
			}
		}
		if _, err := s.col.InsertOne(ctx, toModel(e)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return ledger.Entry{}, err
		}
		if mongo.IsDuplicateKeyError(err) {
			return ledger.Entry{}, fmt.Errorf("%w: %w", ledger.ErrConflict,
				&ledger.ValidationError{Field: "timestamp", Reason: "an entry with this timestamp already exists"})
		}
		return ledger.Entry{}, fmt.Errorf("mongostore: append entry: %w", err)
	}
	return e, nil
}

func (s *Store) QueryEntries(ctx context.Context, owner string, q ledger.Query) ([]ledger.Entry, error) {
	filter := bson.M{"owner": owner}
	ts := bson.M{}
	if !q.After.IsZero() {
		ts["$gt"] = q.After
	}
	if !q.Range.From.IsZero() {
		ts["$gte"] = q.Range.From
	}
	if !q.Range.To.IsZero() {
		ts["$lt"] = q.Range.To
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: query entries: %w", err)
	}
	var models []entryModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("mongostore: decode entries: %w", err)
	}

	out := make([]ledger.Entry, 0, len(models))
	for i := range models {
		e, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) LatestEntry(ctx context.Context, owner string) (ledger.Entry, bool, error) {
	var m entryModel
	err := s.col.FindOne(ctx,
		bson.M{"owner": owner},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}}),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("mongostore: latest entry: %w", err)
	}
	e, err := fromModel(&m)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

type entryModel struct {
	ID         string    `bson:"_id"`
	Owner      string    `bson:"owner"`
	Timestamp  time.Time `bson:"timestamp"`
	Odometer   float64   `bson:"odometer"`
	FuelVolume float64   `bson:"fuel_volume"`
	FuelCost   *float64  `bson:"fuel_cost,omitempty"`
	FullTank   bool      `bson:"full_tank"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toModel(e ledger.Entry) *entryModel {
	return &entryModel{
		ID:         e.ID.String(),
		Owner:      e.Owner,
		Timestamp:  e.Timestamp,
		Odometer:   e.Odometer,
		FuelVolume: e.FuelVolume,
		FuelCost:   e.FuelCost,
		FullTank:   e.FullTank,
		CreatedAt:  e.CreatedAt,
	}
}

func fromModel(m *entryModel) (ledger.Entry, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("mongostore: parse entry id %q: %w", m.ID, err)
	}
	return ledger.Entry{
		ID:         id,
		Owner:      m.Owner,
		Timestamp:  m.Timestamp.UTC(),
		Odometer:   m.Odometer,
		FuelVolume: m.FuelVolume,
		FuelCost:   m.FuelCost,
		FullTank:   m.FullTank,
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}
