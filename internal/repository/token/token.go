package token

import (
	"context"

	"haine/internal/model"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	TokenRepo struct {
		collection *mongo.Collection
	}
)

func NewTokenRepo(db *mongo.Database) *TokenRepo {
	return &TokenRepo{
		collection: db.Collection("tokens"),
	}
}

func (r *TokenRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "tokens indexes")
}

func (r *TokenRepo) Create(ctx context.Context, token *model.Token) error {
	_, err := r.collection.InsertOne(ctx, token)
	return errors.Wrap(err, "insert token")
}

func (r *TokenRepo) Get(ctx context.Context, token string) (*model.Token, error) {
	var t model.Token
	err := r.collection.FindOne(ctx, bson.M{"token": token}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "find token")
	}

	return &t, nil
}
