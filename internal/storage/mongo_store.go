package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/ride-dispatch/internal/models"
)

const mongoDocumentsCollection = "documents"

// mongoDocument is the physical layout: one Mongo collection holds every
// logical collection, keyed by "<collection>/<id>".
type mongoDocument struct {
	Key        string    `bson:"_id"`
	Collection string    `bson:"collection"`
	DocID      string    `bson:"doc_id"`
	Data       bson.M    `bson:"data"`
	Version    int64     `bson:"version"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore connects to uri and ensures the (collection, doc_id) index.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := &MongoStore{col: client.Database(database).Collection(mongoDocumentsCollection)}
	_, err = s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "collection", Value: 1}, {Key: "doc_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.col.Database().Client().Disconnect(ctx)
}

func mongoKey(collection, id string) string { return collection + "/" + id }

func (s *MongoStore) List(ctx context.Context, collection string) ([]models.Document, error) {
	cur, err := s.col.Find(ctx, bson.M{"collection": collection}, options.Find().SetSort(bson.D{{Key: "doc_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer cur.Close(ctx)
	var out []models.Document
	for cur.Next(ctx) {
		var md mongoDocument
		if err := cur.Decode(&md); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		out = append(out, md.toDocument())
	}
	return out, cur.Err()
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (models.Document, error) {
	var md mongoDocument
	err := s.col.FindOne(ctx, bson.M{"_id": mongoKey(collection, id)}).Decode(&md)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Document{}, ErrNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return md.toDocument(), nil
}

func (s *MongoStore) Create(ctx context.Context, collection, id string, fields models.Fields) error {
	return s.apply(ctx, Write{Op: OpCreate, Collection: collection, ID: id, Fields: fields})
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields models.Fields) error {
	return s.apply(ctx, Write{Op: OpSet, Collection: collection, ID: id, Fields: fields})
}

func (s *MongoStore) SetMerge(ctx context.Context, collection, id string, fields models.Fields) error {
	return s.apply(ctx, Write{Op: OpSetMerge, Collection: collection, ID: id, Fields: fields})
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	return s.apply(ctx, Write{Op: OpDelete, Collection: collection, ID: id})
}

func (s *MongoStore) Batch(ctx context.Context, writes []Write) []error {
	return applySequential(ctx, writes, s.apply)
}

func (s *MongoStore) apply(ctx context.Context, w Write) error {
	key := mongoKey(w.Collection, w.ID)
	filter := bson.M{"_id": key}
	if w.IfVersion != 0 {
		filter["version"] = w.IfVersion
	}
	now := time.Now().UTC()
	var err error
	switch w.Op {
	case OpCreate:
		_, err = s.col.InsertOne(ctx, mongoDocument{
			Key: key, Collection: w.Collection, DocID: w.ID,
			Data: bson.M(w.Fields.Clone()), Version: 1, UpdatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
	case OpSet:
		update := bson.M{
			"$set":         bson.M{"data": bson.M(w.Fields.Clone()), "updated_at": now},
			"$inc":         bson.M{"version": int64(1)},
			"$setOnInsert": bson.M{"collection": w.Collection, "doc_id": w.ID},
		}
		var res *mongo.UpdateResult
		res, err = s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(w.IfVersion == 0))
		if err == nil && w.IfVersion != 0 && res.MatchedCount == 0 {
			return ErrPreconditionFailed
		}
	case OpSetMerge:
		set := bson.M{"updated_at": now}
		for k, v := range w.Fields {
			set["data."+k] = v
		}
		update := bson.M{
			"$set":         set,
			"$inc":         bson.M{"version": int64(1)},
			"$setOnInsert": bson.M{"collection": w.Collection, "doc_id": w.ID},
		}
		_, err = s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	case OpDelete:
		var res *mongo.DeleteResult
		res, err = s.col.DeleteOne(ctx, filter)
		if err == nil && w.IfVersion != 0 && res.DeletedCount == 0 {
			return ErrPreconditionFailed
		}
	default:
		return fmt.Errorf("unsupported op %d", w.Op)
	}
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", w.Op, w.Collection, w.ID, err)
	}
	return nil
}

func (md mongoDocument) toDocument() models.Document {
	f := make(models.Fields, len(md.Data))
	for k, v := range md.Data {
		f[k] = fromBSON(v)
	}
	return models.Document{ID: md.DocID, Fields: f, Version: md.Version}
}

// fromBSON turns driver decode types into the plain maps, slices and times
// the other backends return.
func fromBSON(v any) any {
	switch x := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = fromBSON(e)
		}
		return m
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromBSON(e)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	default:
		return v
	}
}
