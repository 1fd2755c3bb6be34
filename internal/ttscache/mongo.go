package ttscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoIndex stores the cache index in a tts_cache collection keyed by _id.
type MongoIndex struct {
	coll *mongo.Collection
}

func NewMongoIndex(db *mongo.Database) *MongoIndex {
	return &MongoIndex{coll: db.Collection("tts_cache")}
}

func (m *MongoIndex) Lookup(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup tts cache: %w", err)
	}
	return rec, true, nil
}

func (m *MongoIndex) Upsert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"audio_url":    rec.AudioURL,
			"content_hash": rec.ContentHash,
			"size_bytes":   rec.SizeBytes,
		},
		"$setOnInsert": bson.M{"created_at": rec.CreatedAt},
	}
	_, err := m.coll.UpdateOne(ctx, bson.M{"_id": rec.CacheKey}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert tts cache: %w", err)
	}
	return nil
}

func (m *MongoIndex) Known(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cursor, err := m.coll.Find(ctx,
		bson.M{"_id": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("query tts cache keys: %w", err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		out[doc.Key] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return out, nil
}
