package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"viewcheck/logger"
)

// Target selects one of the two logical databases a cycle touches.
type Target string

const (
	Source Target = "source"
	Sink   Target = "sink"
)

// Query is a bounded read: filter, optional sort and limit (0 means no limit).
type Query struct {
	Filter bson.M
	Sort   bson.D
	Limit  int64
}

// Mongo scopes every operation to a named collection in the source or sink database.
type Mongo struct {
	client *mongo.Client
	source *mongo.Database
	sink   *mongo.Database
}

// Connect connects to MongoDB, pings, and selects the source and sink databases.
func Connect(ctx context.Context, uri, sourceDB, sinkDB string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	logger.Info("mongo initialized", logger.FieldKV("source_db", sourceDB), logger.FieldKV("sink_db", sinkDB))
	return New(client, sourceDB, sinkDB), nil
}

// New wraps an already connected client.
func New(client *mongo.Client, sourceDB, sinkDB string) *Mongo {
	return &Mongo{
		client: client,
		source: client.Database(sourceDB),
		sink:   client.Database(sinkDB),
	}
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// Ping health check.
func (m *Mongo) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) coll(t Target, name string) (*mongo.Collection, error) {
	if m == nil || m.client == nil {
		return nil, fmt.Errorf("mongo client not initialized")
	}
	switch t {
	case Source:
		return m.source.Collection(name), nil
	case Sink:
		return m.sink.Collection(name), nil
	default:
		return nil, fmt.Errorf("unknown target %q", t)
	}
}

// DeleteMany removes every document matching filter and returns the deleted count.
func (m *Mongo) DeleteMany(ctx context.Context, t Target, coll string, filter bson.M) (int64, error) {
	c, err := m.coll(t, coll)
	if err != nil {
		return 0, err
	}
	res, err := c.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// InsertOne inserts doc as-is; duplicate keys surface as mongo write exceptions.
func (m *Mongo) InsertOne(ctx context.Context, t Target, coll string, doc interface{}) error {
	c, err := m.coll(t, coll)
	if err != nil {
		return err
	}
	_, err = c.InsertOne(ctx, doc)
	return err
}

// Find runs a bounded query and decodes every document into bson.M.
func (m *Mongo) Find(ctx context.Context, t Target, coll string, q Query) ([]bson.M, error) {
	c, err := m.coll(t, coll)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	filter := q.Filter
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []bson.M{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cur.Err()
}

// Count returns the number of documents matching filter.
func (m *Mongo) Count(ctx context.Context, t Target, coll string, filter bson.M) (int64, error) {
	c, err := m.coll(t, coll)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	return c.CountDocuments(ctx, filter)
}

// EnsureIndexes creates the meta.tag index tag-scoped cleanup relies on (idempotent).
func (m *Mongo) EnsureIndexes(ctx context.Context, collections []string) error {
	for _, name := range collections {
		c, err := m.coll(Source, name)
		if err != nil {
			return err
		}
		_, err = c.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "meta.tag", Value: 1}},
			Options: options.Index().SetName("viewcheck_meta_tag").SetSparse(true),
		})
		if err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", name, err)
		}
	}
	return nil
}
