// Package repository declares the storage contracts shared by the services.
// Mongo implementations live in the sub-packages; memory holds an in-process
// implementation of every contract.
package repository

import (
	"context"
	"errors"

	"haine/internal/model"
)

var ErrDuplicate = errors.New("duplicate key")

type (
	UserStore interface {
		Create(ctx context.Context, user *model.User) (int64, error)
		GetByID(ctx context.Context, id int64) (*model.User, error)
		GetByName(ctx context.Context, name string) (*model.User, error)
		Exists(ctx context.Context, id int64) (bool, error)
		TouchLastSeen(ctx context.Context, id int64, ts int64) error
	}

	TokenStore interface {
		Create(ctx context.Context, token *model.Token) error
		Get(ctx context.Context, token string) (*model.Token, error)
	}

	// MessageStore is the append-only message ledger. Insert assigns the id.
	MessageStore interface {
		Insert(ctx context.Context, message *model.Message) (int64, error)
		// After returns messages sent by or to userID with id > cursor, ascending by id.
		After(ctx context.Context, userID, cursor int64) ([]*model.Message, error)
		// Dialogs returns the latest message per conversation partner, id descending.
		Dialogs(ctx context.Context, userID int64, limit int) ([]*model.Message, error)
		// History returns messages between userID and peerID with id < before
		// (no bound when before <= 0), id descending.
		History(ctx context.Context, userID, peerID, before int64, limit int) ([]*model.Message, error)
	}

	// ExchangeStore holds key-exchange negotiations. Every write assigns a
	// fresh, strictly increasing last_upd stamp.
	ExchangeStore interface {
		// After returns records involving userID with last_upd > cursor.
		After(ctx context.Context, userID, cursor int64) ([]*model.Exchange, error)
		// Respond sets the responder side of the record under key. It returns
		// nil, nil when no such record exists.
		Respond(ctx context.Context, key model.ExchangeKey, responder int64, public string) (*model.Exchange, error)
		// Propose creates the record under key, or overwrites the initiator
		// side when it exists. Changing the target resets public_to.
		Propose(ctx context.Context, key model.ExchangeKey, to int64, public string) (*model.Exchange, error)
	}

	// PairLocker serializes exchange commits of one user pair under one
	// (p, g) across server instances. LockPair blocks until the pair is free
	// or ctx is done.
	PairLocker interface {
		LockPair(ctx context.Context, key model.PairKey) (unlock func(), err error)
	}
)
