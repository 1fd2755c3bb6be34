package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists shows and personas in MongoDB.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	shows    *mongo.Collection
	personas *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, databaseName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(databaseName)
	s := &MongoStore{
		client:   client,
		database: db,
		shows:    db.Collection("shows"),
		personas: db.Collection("personas"),
	}
	if err := s.initIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) initIndexes(ctx context.Context) error {
	if _, err := s.shows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create shows index: %w", err)
	}
	if _, err := s.personas.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create personas index: %w", err)
	}
	return nil
}

// Database exposes the database so the audio cache index can share it.
func (s *MongoStore) Database() *mongo.Database { return s.database }

func (s *MongoStore) SaveShow(ctx context.Context, show Show) (Show, error) {
	show = prepareShow(show)
	_, err := s.shows.ReplaceOne(ctx, bson.M{"_id": show.ID}, show, options.Replace().SetUpsert(true))
	if err != nil {
		return Show{}, fmt.Errorf("save show: %w", err)
	}
	return show, nil
}

func (s *MongoStore) ListShows(ctx context.Context, userID string) ([]ShowSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"_id": 1, "title": 1, "created_at": 1})
	cursor, err := s.shows.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query shows: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]ShowSummary, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode shows: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetShow(ctx context.Context, userID, id string) (Show, error) {
	var show Show
	err := s.shows.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&show)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Show{}, ErrNotFound
	}
	if err != nil {
		return Show{}, fmt.Errorf("get show: %w", err)
	}
	return show, nil
}

func (s *MongoStore) DeleteShow(ctx context.Context, userID, id string) error {
	res, err := s.shows.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete show: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SavePersona(ctx context.Context, p Persona) (Persona, error) {
	p = preparePersona(p)
	update := bson.M{
		"$set": bson.M{
			"name":           p.Name,
			"description":    p.Description,
			"description_pl": p.DescriptionPL,
		},
		"$setOnInsert": bson.M{"created_at": p.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var saved Persona
	err := s.personas.FindOneAndUpdate(ctx, bson.M{"_id": p.ID, "user_id": p.UserID}, update, opts).Decode(&saved)
	if mongo.IsDuplicateKeyError(err) {
		// The id belongs to another user.
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, fmt.Errorf("save persona: %w", err)
	}
	return saved, nil
}

func (s *MongoStore) ListPersonas(ctx context.Context, userID string) ([]Persona, error) {
	cursor, err := s.personas.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]Persona, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeletePersona(ctx context.Context, userID, id string) error {
	res, err := s.personas.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
