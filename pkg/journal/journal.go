// Copyright 2024-2026 Aiku AI

// Package journal records lifecycle events in MongoDB so operators can look
// back at what happened to a client.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

const (
	DefaultDatabase   = "whatsapp_gateway"
	DefaultCollection = "lifecycle_events"

	queueSize        = 256
	operationTimeout = 5 * time.Second
	maxRecent        = 500
)

// Config selects the Mongo deployment. The journal is disabled when MongoURI
// is empty.
type Config struct {
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

func (c Config) Enabled() bool {
	return c.MongoURI != ""
}

// Entry is one stored lifecycle event.
type Entry struct {
	ClientID  string    `bson:"client_id" json:"clientId"`
	Kind      string    `bson:"kind" json:"kind"`
	Status    string    `bson:"status" json:"status"`
	RawStatus string    `bson:"raw_status,omitempty" json:"rawStatus,omitempty"`
	Cause     int       `bson:"cause,omitempty" json:"cause,omitempty"`
	Policy    string    `bson:"policy,omitempty" json:"policy,omitempty"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
	At        time.Time `bson:"at" json:"at"`
}

// EntryFor converts a lifecycle event to its stored form.
func EntryFor(evt gateway.LifecycleEvent) Entry {
	return Entry{
		ClientID:  evt.ClientID,
		Kind:      string(evt.Kind),
		Status:    string(evt.Status),
		RawStatus: string(evt.RawStatus),
		Cause:     int(evt.Cause),
		Policy:    evt.Policy,
		Error:     evt.Error,
		At:        evt.Time.UTC().Truncate(time.Millisecond),
	}
}

// collection is the part of *mongo.Collection the journal uses.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

var _ collection = (*mongo.Collection)(nil)

// Journal is a lifecycle observer that writes events in the background.
// Events are dropped when the write queue is full.
type Journal struct {
	client *mongo.Client
	coll   collection
	log    zerolog.Logger

	queue    chan Entry
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

var _ gateway.Observer = (*Journal)(nil)

// Open connects to Mongo, ensures the (client_id, at) index and starts the
// writer.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Journal, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	log = log.With().Str("component", "journal").Logger()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetAppName("whatsapp-gateway").
		SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: "at", Value: -1}},
		Options: options.Index().SetName("client_id_at"),
	})
	if err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to create journal index: %w", err)
	}

	j := newJournal(coll, log)
	j.client = client
	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("Lifecycle journal enabled")
	return j, nil
}

func newJournal(coll collection, log zerolog.Logger) *Journal {
	j := &Journal{
		coll:     coll,
		log:      log,
		queue:    make(chan Entry, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go j.writeLoop()
	return j
}

func (j *Journal) ObserveLifecycle(evt gateway.LifecycleEvent) {
	select {
	case <-j.stopChan:
		return
	default:
	}
	entry := EntryFor(evt)
	select {
	case j.queue <- entry:
	default:
		j.log.Warn().Str("client_id", entry.ClientID).Str("kind", entry.Kind).Msg("Journal queue full, dropping event")
	}
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for {
		select {
		case entry := <-j.queue:
			j.insert(entry)
		case <-j.stopChan:
			for {
				select {
				case entry := <-j.queue:
					j.insert(entry)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if _, err := j.coll.InsertOne(ctx, entry); err != nil {
		j.log.Err(err).Str("client_id", entry.ClientID).Str("kind", entry.Kind).Msg("Failed to write journal entry")
	}
}

// Recent returns up to limit entries for a client, newest first.
func (j *Journal) Recent(ctx context.Context, clientID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := j.coll.Find(ctx, bson.D{{Key: "client_id", Value: clientID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	entries := make([]Entry, 0)
	if err = cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode journal entries: %w", err)
	}
	return entries, nil
}

// Close flushes queued entries and disconnects.
func (j *Journal) Close(ctx context.Context) error {
	j.stopOnce.Do(func() {
		close(j.stopChan)
	})
	<-j.done
	if j.client == nil {
		return nil
	}
	if err := j.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongo: %w", err)
	}
	return nil
}
