package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names used by MongoStore. cmd/migrate creates their indexes.
const (
	TablesCollection   = "tables"
	KVCollection       = "kv"
	CountersCollection = "counters"
	QueuesCollection   = "queues"
)

type tableDoc struct {
	ID    string `bson:"_id"`
	Table string `bson:"table"`
	Field string `bson:"field"`
	Value string `bson:"value"`
}

type kvDoc struct {
	ID        string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

type counterDoc struct {
	ID     string             `bson:"_id"`
	Fields map[string]float64 `bson:"fields"`
}

type queueDoc struct {
	ID      string  `bson:"_id"`
	Queue   string  `bson:"queue"`
	Member  string  `bson:"member"`
	Score   float64 `bson:"score"`
	Payload string  `bson:"payload"`
}

// MongoStore implements Store on MongoDB single-document atomicity. The TTL
// index on kv.expires_at reclaims space; reads filter on expiry themselves
// because the TTL monitor runs only about once a minute.
type MongoStore struct {
	db     *mongo.Database
	prefix string
	now    func() time.Time
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, prefix string) *MongoStore {
	return &MongoStore{db: db, prefix: prefix, now: time.Now}
}

func (s *MongoStore) id(parts ...string) string {
	id := s.prefix
	for i, p := range parts {
		if i > 0 {
			id += ":"
		}
		id += p
	}
	return id
}

func (s *MongoStore) liveFilter(key string) bson.M {
	return bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": s.now()}},
		},
	}
}

func (s *MongoStore) HGet(ctx context.Context, table, field string) (string, error) {
	var doc tableDoc
	err := s.db.Collection(TablesCollection).FindOne(ctx, bson.M{"_id": s.id(table, field)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("mongo hget %s: %w", table, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) HSet(ctx context.Context, table, field, value string) error {
	doc := tableDoc{ID: s.id(table, field), Table: table, Field: field, Value: value}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(TablesCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("mongo hset %s: %w", table, err)
	}
	return nil
}

func (s *MongoStore) HDel(ctx context.Context, table, field string) (bool, error) {
	res, err := s.db.Collection(TablesCollection).DeleteOne(ctx, bson.M{"_id": s.id(table, field)})
	if err != nil {
		return false, fmt.Errorf("mongo hdel %s: %w", table, err)
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoStore) Get(ctx context.Context, key string) (string, error) {
	var doc kvDoc
	err := s.db.Collection(KVCollection).FindOne(ctx, s.liveFilter(s.id(key))).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("mongo get %s: %w", key, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) kvDoc(key, value string, ttl time.Duration) kvDoc {
	doc := kvDoc{ID: s.id(key), Value: value}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		doc.ExpiresAt = &expires
	}
	return doc
}

func (s *MongoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	doc := s.kvDoc(key, value, ttl)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(KVCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("mongo set %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	coll := s.db.Collection(KVCollection)
	doc := s.kvDoc(key, value, ttl)

	// an expired document the TTL monitor has not reaped yet still owns the _id
	expired := bson.M{"_id": doc.ID, "expires_at": bson.M{"$lte": s.now()}}
	if _, err := coll.DeleteOne(ctx, expired); err != nil {
		return false, fmt.Errorf("mongo setnx %s: %w", key, err)
	}

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo setnx %s: %w", key, err)
	}
	return true, nil
}

func (s *MongoStore) SetXX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	doc := s.kvDoc(key, value, ttl)
	res, err := s.db.Collection(KVCollection).ReplaceOne(ctx, s.liveFilter(doc.ID), doc)
	if err != nil {
		return false, fmt.Errorf("mongo setxx %s: %w", key, err)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) Del(ctx context.Context, key string) (bool, error) {
	res, err := s.db.Collection(KVCollection).DeleteOne(ctx, s.liveFilter(s.id(key)))
	if err != nil {
		return false, fmt.Errorf("mongo del %s: %w", key, err)
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.db.Collection(KVCollection).CountDocuments(ctx, s.liveFilter(s.id(key)), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *MongoStore) IncrFields(ctx context.Context, key string, deltas map[string]float64) (map[string]float64, error) {
	inc := bson.M{}
	for field, delta := range deltas {
		inc["fields."+field] = delta
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc counterDoc
	update := func() error {
		return s.db.Collection(CountersCollection).
			FindOneAndUpdate(ctx, bson.M{"_id": s.id(key)}, bson.M{"$inc": inc}, opts).
			Decode(&doc)
	}
	err := update()
	if mongo.IsDuplicateKeyError(err) {
		// two first-time upserts raced on the _id; the loser retries as an update
		err = update()
	}
	if err != nil {
		return nil, fmt.Errorf("mongo incr %s: %w", key, err)
	}

	out := make(map[string]float64, len(deltas))
	for field := range deltas {
		out[field] = doc.Fields[field]
	}
	return out, nil
}

func (s *MongoStore) GetFields(ctx context.Context, key string) (map[string]float64, error) {
	var doc counterDoc
	err := s.db.Collection(CountersCollection).FindOne(ctx, bson.M{"_id": s.id(key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get fields %s: %w", key, err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]float64{}
	}
	return doc.Fields, nil
}

func (s *MongoStore) QueuePut(ctx context.Context, queue string, item QueueItem) error {
	doc := queueDoc{
		ID:      s.id(queue, item.Member),
		Queue:   s.id(queue),
		Member:  item.Member,
		Score:   item.Score,
		Payload: item.Payload,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(QueuesCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("mongo queue put %s: %w", queue, err)
	}
	return nil
}

func (s *MongoStore) QueueRemove(ctx context.Context, queue, member string) (bool, error) {
	res, err := s.db.Collection(QueuesCollection).DeleteOne(ctx, bson.M{"_id": s.id(queue, member)})
	if err != nil {
		return false, fmt.Errorf("mongo queue remove %s: %w", queue, err)
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoStore) QueueScan(ctx context.Context, queue string, after *QueueCursor, limit int) ([]QueueItem, *QueueCursor, error) {
	filter := bson.M{"queue": s.id(queue)}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{"score": bson.M{"$gt": after.Score}},
			bson.M{"score": after.Score, "member": bson.M{"$gt": after.Member}},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "score", Value: 1}, {Key: "member", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(QueuesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo queue scan %s: %w", queue, err)
	}
	defer cursor.Close(ctx)

	var docs []queueDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, nil, fmt.Errorf("mongo queue decode %s: %w", queue, err)
	}

	items := make([]QueueItem, len(docs))
	for i, d := range docs {
		items[i] = QueueItem{Member: d.Member, Score: d.Score, Payload: d.Payload}
	}

	var next *QueueCursor
	if limit > 0 && len(docs) == limit {
		last := docs[len(docs)-1]
		next = &QueueCursor{Score: last.Score, Member: last.Member}
	}
	return items, next, nil
}

func (s *MongoStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := s.db.Collection(QueuesCollection).CountDocuments(ctx, bson.M{"queue": s.id(queue)})
	if err != nil {
		return 0, fmt.Errorf("mongo queue len %s: %w", queue, err)
	}
	return n, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
