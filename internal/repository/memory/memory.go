// Package memory implements the repository contracts in process memory. It
// backs the memory store mode and the service tests.
package memory

import (
	"time"
)

type DB struct {
	users     *UserRepo
	tokens    *TokenRepo
	messages  *MessageRepo
	exchanges *ExchangeRepo
	pairs     *PairLocks
}

func New() *DB {
	return NewWithClock(time.Now)
}

// NewWithClock uses now for exchange stamps.
func NewWithClock(now func() time.Time) *DB {
	return &DB{
		users:     newUserRepo(),
		tokens:    newTokenRepo(),
		messages:  newMessageRepo(),
		exchanges: newExchangeRepo(now),
		pairs:     newPairLocks(),
	}
}

func (db *DB) Users() *UserRepo         { return db.users }
func (db *DB) Tokens() *TokenRepo       { return db.tokens }
func (db *DB) Messages() *MessageRepo   { return db.messages }
func (db *DB) Exchanges() *ExchangeRepo { return db.exchanges }
func (db *DB) PairLocks() *PairLocks    { return db.pairs }
