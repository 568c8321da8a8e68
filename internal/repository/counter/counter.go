// Package counter persists the strictly increasing identifiers used as
// message ids, user ids and exchange update stamps.
//
// Values for cursor-visible documents are handed out with Reserve and stay
// pending until the caller has written its document and calls Release.
// Watermark reports the highest value below every live reservation, so a
// reader bounded by it never skips a value whose write is still in flight.
// A reservation that is not released within the lease (the writer died)
// stops holding the watermark back.
package counter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	Users     = "user"
	Messages  = "message"
	Exchanges = "exchange"

	DefaultLease   = 30 * time.Second
	releaseTimeout = 5 * time.Second
)

type (
	CounterRepo struct {
		collection *mongo.Collection
		now        func() time.Time
		lease      time.Duration
	}

	counter struct {
		Name    string    `bson:"_id"`
		Seq     int64     `bson:"seq"`
		Pending []pending `bson:"pending,omitempty"`
	}

	pending struct {
		Value int64 `bson:"v"`
		At    int64 `bson:"at"`
	}
)

func NewCounterRepo(db *mongo.Database) *CounterRepo {
	return &CounterRepo{
		collection: db.Collection("counters"),
		now:        time.Now,
		lease:      DefaultLease,
	}
}

// Next increments the named sequence and returns the new value. The first
// value of a sequence is 1.
func (r *CounterRepo) Next(ctx context.Context, name string) (int64, error) {
	filter := bson.M{"_id": name}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c counter
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c); err != nil {
		return 0, errors.Wrapf(err, "next %s", name)
	}
	return c.Seq, nil
}

// Reserve increments the named sequence and records the value as pending.
func (r *CounterRepo) Reserve(ctx context.Context, name string) (int64, error) {
	return r.reserve(ctx, name, nextSeq())
}

// ReserveStamp advances the named sequence to max(now_ms, last+1), so
// stamps follow wall-clock milliseconds but never repeat or go back, and
// records the stamp as pending.
func (r *CounterRepo) ReserveStamp(ctx context.Context, name string) (int64, error) {
	return r.reserve(ctx, name, nextStamp(r.now().UnixMilli()))
}

func (r *CounterRepo) reserve(ctx context.Context, name string, next bson.D) (int64, error) {
	now := r.now().UnixMilli()
	filter := bson.M{"_id": name}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c counter
	err := r.collection.FindOneAndUpdate(ctx, filter, reservePipeline(next, now, r.cutoff(now)), opts).Decode(&c)
	if err != nil {
		return 0, errors.Wrapf(err, "reserve %s", name)
	}
	return c.Seq, nil
}

// Release drops the reservation of value. It runs even when ctx is already
// canceled, since an unreleased value holds readers back until its lease ends.
func (r *CounterRepo) Release(ctx context.Context, name string, value int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	update := bson.M{"$pull": bson.M{"pending": bson.M{"v": value}}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": name}, update)
	return errors.Wrapf(err, "release %s %d", name, value)
}

// Watermark returns the highest value of the sequence such that every value
// up to it has either been released or its lease has run out.
func (r *CounterRepo) Watermark(ctx context.Context, name string) (int64, error) {
	var c counter
	err := r.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "watermark %s", name)
	}
	return watermark(c, r.cutoff(r.now().UnixMilli())), nil
}

// cutoff is the reservation time at or before which a pending value is
// considered abandoned.
func (r *CounterRepo) cutoff(now int64) int64 {
	return now - r.lease.Milliseconds()
}

func watermark(c counter, cutoff int64) int64 {
	w := c.Seq
	for _, p := range c.Pending {
		if p.At > cutoff && p.Value-1 < w {
			w = p.Value - 1
		}
	}
	return w
}

func nextSeq() bson.D {
	return bson.D{{Key: "$add", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$seq", int64(0)}}},
		int64(1),
	}}}
}

func nextStamp(now int64) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{now, nextSeq()}}}
}

// reservePipeline sets seq to next, drops abandoned reservations and
// appends the new value. The second stage sees the updated seq.
func reservePipeline(next bson.D, now, cutoff int64) mongo.Pipeline {
	live := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$pending", bson.A{}}}}},
		{Key: "as", Value: "p"},
		{Key: "cond", Value: bson.D{{Key: "$gt", Value: bson.A{"$$p.at", cutoff}}}},
	}}}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "seq", Value: next}}}},
		{{Key: "$set", Value: bson.D{{Key: "pending", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			live,
			bson.A{bson.D{{Key: "v", Value: "$seq"}, {Key: "at", Value: now}}},
		}}}}}}},
	}
}
