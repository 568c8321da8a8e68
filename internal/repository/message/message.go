package message

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
	MessageRepo struct {
		collection *mongo.Collection
		counters   *counter.CounterRepo
	}
)

func NewMessageRepo(db *mongo.Database, counters *counter.CounterRepo) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
		counters:   counters,
	}
}

// EnsureIndexes creates the (from_id, _id) and (to_id, _id) indexes the
// cursor queries rely on.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "from_id", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "to_id", Value: 1}, {Key: "_id", Value: 1}}},
	})
	return errors.Wrap(err, "messages indexes")
}

func (r *MessageRepo) Insert(ctx context.Context, message *model.Message) (int64, error) {
	id, err := r.counters.Reserve(ctx, counter.Messages)
	if err != nil {
		return 0, err
	}
	defer r.release(ctx, id)

	message.ID = id
	if _, err := r.collection.InsertOne(ctx, message); err != nil {
		return 0, errors.Wrap(err, "insert message")
	}
	return id, nil
}

// After stops at the counter watermark, so a message whose insert is still
// in flight holds back every later id instead of being skipped.
func (r *MessageRepo) After(ctx context.Context, userID, cursor int64) ([]*model.Message, error) {
	upto, err := r.counters.Watermark(ctx, counter.Messages)
	if err != nil {
		return nil, err
	}
	if upto <= cursor {
		return make([]*model.Message, 0), nil
	}

	filter := afterFilter(userID, cursor, upto)
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *MessageRepo) History(ctx context.Context, userID, peerID, before int64, limit int) ([]*model.Message, error) {
	filter := historyFilter(userID, peerID, before)
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

func (r *MessageRepo) Dialogs(ctx context.Context, userID int64, limit int) ([]*model.Message, error) {
	cur, err := r.collection.Aggregate(ctx, dialogsPipeline(r.collection.Name(), userID, limit))
	if err != nil {
		return nil, errors.Wrap(err, "aggregate dialogs")
	}
	defer cur.Close(ctx)

	res := make([]*model.Message, 0)
	if err := cur.All(ctx, &res); err != nil {
		return nil, errors.Wrap(err, "decode dialogs")
	}
	return res, nil
}

func (r *MessageRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Message, error) {
	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer cur.Close(ctx)

	res := make([]*model.Message, 0)
	if err := cur.All(ctx, &res); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return res, nil
}

func (r *MessageRepo) release(ctx context.Context, id int64) {
	if err := r.counters.Release(ctx, counter.Messages, id); err != nil {
		log.Warn("release message id failed", zap.Int64("id", id), zap.Error(err))
	}
}

func afterFilter(userID, cursor, upto int64) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"from_id": userID},
			bson.M{"to_id": userID},
		},
		"_id": bson.M{"$gt": cursor, "$lte": upto},
	}
}

func historyFilter(userID, peerID, before int64) bson.M {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"from_id": userID, "to_id": peerID},
			bson.M{"from_id": peerID, "to_id": userID},
		},
	}
	if before > 0 {
		filter["_id"] = bson.M{"$lt": before}
	}
	return filter
}

// dialogsPipeline groups the user's messages by conversation partner, keeps
// the highest id per partner and joins the message back in.
func dialogsPipeline(collection string, userID int64, limit int) mongo.Pipeline {
	partner := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$from_id", userID}}},
		"$to_id",
		"$from_id",
	}}}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "from_id", Value: userID}},
			bson.D{{Key: "to_id", Value: userID}},
		}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: partner},
			{Key: "last", Value: bson.D{{Key: "$max", Value: "$_id"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: collection},
			{Key: "localField", Value: "last"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "message"},
		}}},
		{{Key: "$unwind", Value: "$message"}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$message"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
	}
}
