package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"journeysync/journey"
)

// mongoRecord wraps a JSON-serialized payload so documents and histories
// round-trip through Mongo without a parallel BSON schema.
type mongoRecord struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

// MongoStorage is a MongoDB-backed storage adapter.
type MongoStorage struct {
	documents *mongo.Collection
	histories *mongo.Collection
}

// NewMongoStorage creates a Mongo adapter over the given database, using the
// "journeys" and "journey_histories" collections.
func NewMongoStorage(db *mongo.Database) *MongoStorage {
	return &MongoStorage{
		documents: db.Collection("journeys"),
		histories: db.Collection("journey_histories"),
	}
}

// Get loads a document by id.
func (s *MongoStorage) Get(ctx context.Context, id string) (*journey.Map, error) {
	var rec mongoRecord
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return nil, errors.Wrap(err, "failed to find document")
	}

	var m journey.Map
	if err := json.Unmarshal(rec.Data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return &m, nil
}

// Put stores a document.
func (s *MongoStorage) Put(ctx context.Context, m *journey.Map) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode document")
	}

	opts := options.Replace().SetUpsert(true)
	_, err = s.documents.ReplaceOne(ctx, bson.M{"_id": m.ID}, mongoRecord{ID: m.ID, Data: data}, opts)
	return errors.Wrap(err, "failed to replace document")
}

// Delete removes a document and its history.
func (s *MongoStorage) Delete(ctx context.Context, id string) error {
	if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	if _, err := s.histories.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrap(err, "failed to delete history")
	}
	return nil
}

// GetHistory loads a document's operation history.
func (s *MongoStorage) GetHistory(ctx context.Context, id string) (*History, error) {
	var rec mongoRecord
	err := s.histories.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.Wrapf(ErrNotFound, "history %s", id)
		}
		return nil, errors.Wrap(err, "failed to find history")
	}

	var h History
	if err := json.Unmarshal(rec.Data, &h); err != nil {
		return nil, errors.Wrap(err, "failed to decode history")
	}
	return &h, nil
}

// PutHistory stores a document's operation history.
func (s *MongoStorage) PutHistory(ctx context.Context, id string, h *History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "failed to encode history")
	}

	opts := options.Replace().SetUpsert(true)
	_, err = s.histories.ReplaceOne(ctx, bson.M{"_id": id}, mongoRecord{ID: id, Data: data}, opts)
	return errors.Wrap(err, "failed to replace history")
}

// Close is a no-op; the Mongo client is managed by the caller.
func (s *MongoStorage) Close() error {
	return nil
}
