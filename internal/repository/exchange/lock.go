package exchange

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"haine/internal/model"
	"haine/internal/utils/log"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	DefaultLockLease  = 10 * time.Second
	lockRetryInterval = 20 * time.Millisecond
	unlockTimeout     = 5 * time.Second
)

type (
	// LockRepo keeps one lease document per locked pair. A holder that dies
	// blocks the pair until its lease expires.
	LockRepo struct {
		collection *mongo.Collection
		now        func() time.Time
		lease      time.Duration
		retry      time.Duration
	}

	pairLock struct {
		Key     string    `bson:"_id"`
		Owner   string    `bson:"owner"`
		Expires time.Time `bson:"expires"`
	}
)

func NewLockRepo(db *mongo.Database) *LockRepo {
	return &LockRepo{
		collection: db.Collection("exchange_locks"),
		now:        time.Now,
		lease:      DefaultLockLease,
		retry:      lockRetryInterval,
	}
}

// EnsureIndexes lets mongo drop leases nobody released.
func (r *LockRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return errors.Wrap(err, "exchange locks indexes")
}

// LockPair takes the lease on key, polling until the current holder releases
// it or its lease runs out.
func (r *LockRepo) LockPair(ctx context.Context, key model.PairKey) (func(), error) {
	owner, err := newOwner()
	if err != nil {
		return nil, err
	}

	id := key.String()
	for {
		ok, err := r.acquire(ctx, id, owner)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { r.unlock(ctx, id, owner) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "lock pair %s", id)
		case <-time.After(r.retry):
		}
	}
}

// acquire upserts the lease when it is missing or expired. A live lease makes
// the upsert collide on _id, which reports the pair as busy.
func (r *LockRepo) acquire(ctx context.Context, id, owner string) (bool, error) {
	now := r.now()
	filter := bson.M{"_id": id, "expires": bson.M{"$lt": now}}
	update := bson.M{"$set": bson.M{"owner": owner, "expires": now.Add(r.lease)}}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lock pair %s", id)
	}
	return true, nil
}

func (r *LockRepo) unlock(ctx context.Context, id, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "owner": owner}); err != nil {
		log.Warn("unlock pair failed", zap.String("pair", id), zap.Error(err))
	}
}

func newOwner() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate lock owner")
	}
	return hex.EncodeToString(raw), nil
}
