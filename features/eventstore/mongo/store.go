// Package mongo implements kernel/eventstore.Store backed by MongoDB,
// grounded on the teacher's features/runlog/mongo client: one collection
// per log plus a monotonic counter collection serialized through
// findOneAndUpdate($inc), the same pattern the teacher's Mongo run store
// uses to serialize sequence allocation.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/types"
)

const (
	defaultEventsCollection  = "kernel_events"
	defaultCounterCollection = "kernel_sequence_counters"
	defaultTimeout           = 5 * time.Second
	counterDocID             = "events"
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client               *mongo.Client
	Database             string
	EventsCollection     string // default kernel_events
	CounterCollection    string // default kernel_sequence_counters
	Timeout              time.Duration
}

// Store implements eventstore.Store against MongoDB.
type Store struct {
	events  *mongo.Collection
	counter *mongo.Collection
	timeout time.Duration
}

var _ eventstore.Store = (*Store)(nil)

type eventDocument struct {
	SequenceID    int64           `bson:"sequence_id"`
	RequestID     string          `bson:"request_id"`
	Type          string          `bson:"type"`
	Payload       []byte          `bson:"payload"`
	Timestamp     time.Time       `bson:"timestamp"`
	CorrelationID string          `bson:"correlation_id,omitempty"`
	PrevHash      string          `bson:"prev_hash"`
	EventHash     string          `bson:"event_hash"`
}

type counterDocument struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// New constructs a Mongo-backed Store, ensuring the required indexes exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	eventsColl := opts.EventsCollection
	if eventsColl == "" {
		eventsColl = defaultEventsCollection
	}
	counterColl := opts.CounterCollection
	if counterColl == "" {
		counterColl = defaultCounterCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		events:  db.Collection(eventsColl),
		counter: db.Collection(counterColl),
		timeout: timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo: ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "event_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sequence_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	_, err := s.events.Indexes().CreateMany(ctx, models)
	return err
}

// Append assigns the next sequence ID via an atomic findOneAndUpdate($inc)
// against the counter collection, computes the chained hash, and inserts
// the event document.
func (s *Store) Append(ctx context.Context, requestID string, typ types.EventType, payload json.RawMessage, correlationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	seq, err := s.nextSequence(ctx)
	if err != nil {
		return 0, err
	}

	prevHash, err := s.lastEventHash(ctx)
	if err != nil {
		return 0, err
	}

	ts := time.Now().UTC()
	hash, err := eventstore.ComputeEventHash(prevHash, seq, requestID, typ, payload, ts)
	if err != nil {
		return 0, err
	}

	doc := eventDocument{
		SequenceID:    seq,
		RequestID:     requestID,
		Type:          string(typ),
		Payload:       append([]byte(nil), payload...),
		Timestamp:     ts,
		CorrelationID: correlationID,
		PrevHash:      prevHash,
		EventHash:     hash,
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) nextSequence(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc counterDocument
	err := s.counter.FindOneAndUpdate(ctx,
		bson.M{"_id": counterDocID},
		bson.M{"$inc": bson.M{"value": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *Store) lastEventHash(ctx context.Context) (string, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence_id", Value: -1}})
	var doc eventDocument
	err := s.events.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.EventHash, nil
}

func (s *Store) GetByRequestID(ctx context.Context, requestID string) ([]types.Event, error) {
	return s.find(ctx, bson.M{"request_id": requestID})
}

func (s *Store) GetByCorrelationID(ctx context.Context, correlationID string) ([]types.Event, error) {
	return s.find(ctx, bson.M{"correlation_id": correlationID})
}

func (s *Store) GetRecent(ctx context.Context, n int) ([]types.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "sequence_id", Value: -1}})
	if n > 0 {
		opts = opts.SetLimit(int64(n))
	}
	events, err := s.decodeAll(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.events.CountDocuments(ctx, bson.M{})
	return int(count), err
}

func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.events.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.counter.DeleteMany(ctx, bson.M{"_id": counterDocID})
	return err
}

// Evict removes events beyond maxEvents (oldest first) and/or older than
// retentionMs, whichever apply, in a best-effort two-step delete: Mongo
// gives us no cross-collection-index-rebuild step since there are no
// separate secondary-index collections here — the request_id/
// correlation_id indexes are maintained by the database itself and need no
// explicit pruning.
func (s *Store) Evict(ctx context.Context, maxEvents int, retentionMs int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	evicted := 0
	if retentionMs > 0 {
		cutoff := time.Now().Add(-time.Duration(retentionMs) * time.Millisecond)
		res, err := s.events.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
		if err != nil {
			return evicted, err
		}
		evicted += int(res.DeletedCount)
	}

	if maxEvents > 0 {
		total, err := s.events.CountDocuments(ctx, bson.M{})
		if err != nil {
			return evicted, err
		}
		if int(total) > maxEvents {
			excess := int(total) - maxEvents
			opts := options.Find().SetSort(bson.D{{Key: "sequence_id", Value: 1}}).SetLimit(int64(excess)).SetProjection(bson.M{"sequence_id": 1})
			cur, err := s.events.Find(ctx, bson.M{}, opts)
			if err != nil {
				return evicted, err
			}
			var seqs []int64
			for cur.Next(ctx) {
				var row struct {
					SequenceID int64 `bson:"sequence_id"`
				}
				if err := cur.Decode(&row); err != nil {
					_ = cur.Close(ctx)
					return evicted, err
				}
				seqs = append(seqs, row.SequenceID)
			}
			_ = cur.Close(ctx)
			if len(seqs) > 0 {
				res, err := s.events.DeleteMany(ctx, bson.M{"sequence_id": bson.M{"$in": seqs}})
				if err != nil {
					return evicted, err
				}
				evicted += int(res.DeletedCount)
			}
		}
	}
	return evicted, nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]types.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "sequence_id", Value: 1}})
	return s.decodeAll(ctx, filter, opts)
}

func (s *Store) decodeAll(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]types.Event, error) {
	cur, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []types.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, types.Event{
			SequenceID:    doc.SequenceID,
			RequestID:     doc.RequestID,
			Type:          types.EventType(doc.Type),
			Payload:       append(json.RawMessage(nil), doc.Payload...),
			Timestamp:     doc.Timestamp,
			CorrelationID: doc.CorrelationID,
			PrevHash:      doc.PrevHash,
			EventHash:     doc.EventHash,
		})
	}
	return out, cur.Err()
}

func reverse(events []types.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
