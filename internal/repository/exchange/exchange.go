package exchange

import (
	"context"

	"haine/internal/model"
	"haine/internal/repository/counter"
	"haine/internal/utils/log"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type (
	// ExchangeRepo stores one document per (p, g, from_id). Both writes are
	// single-document atomic updates guarded by a unique index on that key.
	ExchangeRepo struct {
		collection *mongo.Collection
		counters   *counter.CounterRepo
	}
)

func NewExchangeRepo(db *mongo.Database, counters *counter.CounterRepo) *ExchangeRepo {
	return &ExchangeRepo{
		collection: db.Collection("exchanges"),
		counters:   counters,
	}
}

func (r *ExchangeRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "p", Value: 1}, {Key: "g", Value: 1}, {Key: "from_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "from_id", Value: 1}, {Key: "last_upd", Value: 1}}},
		{Keys: bson.D{{Key: "to_id", Value: 1}, {Key: "last_upd", Value: 1}}},
	})
	return errors.Wrap(err, "exchanges indexes")
}

// After returns records stamped in (cursor, watermark], so a record whose
// write still holds an earlier stamp is never overtaken by a later one.
func (r *ExchangeRepo) After(ctx context.Context, userID, cursor int64) ([]*model.Exchange, error) {
	upto, err := r.counters.Watermark(ctx, counter.Exchanges)
	if err != nil {
		return nil, err
	}
	if upto <= cursor {
		return make([]*model.Exchange, 0), nil
	}

	filter := afterFilter(userID, cursor, upto)

	opts := options.Find().SetSort(bson.D{{Key: "last_upd", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find exchanges")
	}
	defer cur.Close(ctx)

	res := make([]*model.Exchange, 0)
	if err := cur.All(ctx, &res); err != nil {
		return nil, errors.Wrap(err, "decode exchanges")
	}
	return res, nil
}

func (r *ExchangeRepo) Respond(ctx context.Context, key model.ExchangeKey, responder int64, public string) (*model.Exchange, error) {
	stamp, err := r.counters.ReserveStamp(ctx, counter.Exchanges)
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, stamp)

	update := bson.M{"$set": bson.M{
		"public_to":   public,
		"last_editor": responder,
		"last_upd":    stamp,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var e model.Exchange
	err = r.collection.FindOneAndUpdate(ctx, keyFilter(key), update, opts).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "respond exchange")
	}
	return &e, nil
}

func (r *ExchangeRepo) Propose(ctx context.Context, key model.ExchangeKey, to int64, public string) (*model.Exchange, error) {
	stamp, err := r.counters.ReserveStamp(ctx, counter.Exchanges)
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, stamp)

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var e model.Exchange
	err = r.collection.FindOneAndUpdate(ctx, keyFilter(key), proposePipeline(key, to, public, stamp), opts).Decode(&e)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert on the same key won; the retry updates its document.
		err = r.collection.FindOneAndUpdate(ctx, keyFilter(key), proposePipeline(key, to, public, stamp), opts).Decode(&e)
	}
	if err != nil {
		return nil, errors.Wrap(err, "propose exchange")
	}
	return &e, nil
}

func (r *ExchangeRepo) release(ctx context.Context, stamp int64) {
	if err := r.counters.Release(ctx, counter.Exchanges, stamp); err != nil {
		log.Warn("release exchange stamp failed", zap.Int64("stamp", stamp), zap.Error(err))
	}
}

func afterFilter(userID, cursor, upto int64) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"from_id": userID},
			bson.M{"to_id": userID},
		},
		"last_upd": bson.M{"$gt": cursor, "$lte": upto},
	}
}

func keyFilter(key model.ExchangeKey) bson.M {
	return bson.M{"p": key.P, "g": key.G, "from_id": key.Initiator}
}

// proposePipeline keeps public_to while the target stays the same and
// clears it when the initiator redirects the proposal to another user.
func proposePipeline(key model.ExchangeKey, to int64, public string, stamp int64) mongo.Pipeline {
	publicTo := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$to_id", to}}},
		bson.D{{Key: "$ifNull", Value: bson.A{"$public_to", ""}}},
		"",
	}}}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "p", Value: key.P},
			{Key: "g", Value: key.G},
			{Key: "from_id", Value: key.Initiator},
			{Key: "public_to", Value: publicTo},
			{Key: "to_id", Value: to},
			{Key: "public_from", Value: public},
			{Key: "last_editor", Value: key.Initiator},
			{Key: "last_upd", Value: stamp},
		}}},
	}
}
