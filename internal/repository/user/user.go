package user

import (
	"context"

	"haine/internal/model"
	"haine/internal/repository"
	"haine/internal/repository/counter"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
		counters   *counter.CounterRepo
	}
)

func NewUserRepo(db *mongo.Database, counters *counter.CounterRepo) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
		counters:   counters,
	}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "users indexes")
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}

	return &user, nil
}

func (r *UserRepo) Exists(ctx context.Context, id int64) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrapf(err, "count user %d", id)
	}
	return n > 0, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	id, err := r.counters.Next(ctx, counter.Users)
	if err != nil {
		return 0, err
	}

	user.ID = id
	_, err = r.collection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return 0, repository.ErrDuplicate
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert user")
	}

	return id, nil
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, id int64, ts int64) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_seen": ts}})
	return errors.Wrapf(err, "touch user %d", id)
}
