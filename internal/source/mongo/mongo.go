// Package mongo is the source backend for MongoDB collections.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"funnel/internal/config"
	"funnel/internal/source"
	"funnel/internal/transformer"
)

func init() {
	source.Register("mongo", Open)
}

// Source scans cfg.Table in cfg.Database, projecting the user and stage fields.
type Source struct {
	client     *mongo.Client
	coll       *mongo.Collection
	userField  string
	stageField string
}

// Open connects to cfg.DSN (a mongodb:// URI) and pings the primary.
func Open(ctx context.Context, cfg config.Source) (source.Source, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("source: mongo requires database")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("source: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("source: ping mongo: %w", err)
	}

	cols := source.Columns(cfg)
	return &Source{
		client:     client,
		coll:       client.Database(cfg.Database).Collection(cfg.Table),
		userField:  cols[0],
		stageField: cols[1],
	}, nil
}

// Stream implements source.Source.
func (s *Source) Stream(ctx context.Context, out chan<- *transformer.Row) error {
	projection := bson.D{{Key: s.userField, Value: 1}, {Key: s.stageField, Value: 1}, {Key: "_id", Value: 0}}
	if s.userField == "_id" {
		projection = bson.D{{Key: "_id", Value: 1}, {Key: s.stageField, Value: 1}}
	}
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetProjection(projection))
	if err != nil {
		return fmt.Errorf("source: mongo find: %w", err)
	}
	defer cursor.Close(ctx)

	var line int
	for cursor.Next(ctx) {
		line++
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("source: decode document %d: %w", line, err)
		}

		row := transformer.GetRow(2)
		row.Line = line
		row.V[0], row.V[1] = DocValue(doc, s.userField), DocValue(doc, s.stageField)
		if err := source.Send(ctx, out, row); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("source: mongo cursor: %w", err)
	}
	return nil
}

// Close implements source.Source.
func (s *Source) Close() error {
	return s.client.Disconnect(context.Background())
}

// DocValue returns the field of doc in a form funnel.NormalizeKey understands.
// ObjectIDs become their hex string.
func DocValue(doc bson.M, field string) any {
	switch v := doc[field].(type) {
	case primitive.ObjectID:
		return v.Hex()
	case int32:
		return int64(v)
	default:
		return v
	}
}
