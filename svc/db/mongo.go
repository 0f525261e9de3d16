package db

import (
	"context"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo keeps one document per paste, keyed by the "id" field.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongo(ctx context.Context, c *cfg.Cfg) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(c.MongoURI.Value()).
		SetMaxPoolSize(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(c.MongoTimeout).
		SetSocketTimeout(45 * time.Second)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	m := &Mongo{
		client:  client,
		coll:    client.Database(c.MongoDB).Collection(c.MongoCollection),
		timeout: c.MongoTimeout,
	}
	if err := m.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_id"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_expires_at"),
		},
	})
	return errors.Wrap(err, "create mongo indexes")
}
func (m *Mongo) Backend() string { return cfg.BackendMongo }

// Save upserts the full document. Nil limits are written as null so an
// overwrite clears them.
func (m *Mongo) Save(ctx context.Context, p *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"id": p.ID},
		bson.M{"$set": p},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "save paste")
}
func (m *Mongo) Get(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var p domain.Paste
	err := m.coll.FindOne(ctx,
		bson.M{"id": id},
		options.FindOne().SetProjection(bson.M{"_id": 0}),
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	return &p, nil
}

// IncrViews applies $inc server side and reads the post-image in the same
// command. Upsert stays off, so a missing id is reported, not created.
func (m *Mongo) IncrViews(ctx context.Context, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var out struct {
		ViewsUsed int64 `bson:"views_used"`
	}
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$inc": bson.M{"views_used": 1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"_id": 0, "views_used": 1}),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, domain.ErrPasteNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "incr views")
	}
	return out.ViewsUsed, nil
}
func (m *Mongo) CleanupExpired(ctx context.Context, beforeMillis int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": beforeMillis}})
	if err != nil {
		return 0, errors.Wrap(err, "cleanup expired")
	}
	return int(res.DeletedCount), nil
}
func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return errors.Wrap(m.client.Ping(ctx, readpref.Primary()), "ping mongo")
}
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
