package model

import "fmt"

type (
	// ExchangeKey identifies one negotiation. P and G are canonical decimal strings.
	ExchangeKey struct {
		P         string
		G         string
		Initiator int64
	}

	// PairKey covers every record two users can touch with one (P, G): the
	// one initiated by either of them. Lo < Hi.
	PairKey struct {
		P  string
		G  string
		Lo int64
		Hi int64
	}

	// Exchange is a Diffie-Hellman negotiation between an initiator (FromID)
	// and a responder (ToID) under one (P, G) pair.
	Exchange struct {
		P          string `bson:"p" json:"p"`
		G          string `bson:"g" json:"g"`
		FromID     int64  `bson:"from_id" json:"from_id"`
		ToID       int64  `bson:"to_id" json:"to_id"`
		PublicFrom string `bson:"public_from" json:"public_from"`
		PublicTo   string `bson:"public_to" json:"public_to"`
		LastUpd    int64  `bson:"last_upd" json:"last_upd"`
		LastEditor int64  `bson:"last_editor" json:"last_editor"`
	}

	// Updates is the result of one poll.
	Updates struct {
		Messages  []MessageView `json:"messages"`
		Exchanges []*Exchange   `json:"exchanges"`
	}
)

func NewPairKey(p, g string, a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{P: p, G: g, Lo: a, Hi: b}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.P, k.G, k.Lo, k.Hi)
}

func (e *Exchange) Involves(userID int64) bool {
	return e.FromID == userID || e.ToID == userID
}

func (u *Updates) Empty() bool {
	return len(u.Messages) == 0 && len(u.Exchanges) == 0
}

// MaxMessageID returns the highest id in the batch, or cursor when empty.
func (u *Updates) MaxMessageID(cursor int64) int64 {
	for _, m := range u.Messages {
		if m.ID > cursor {
			cursor = m.ID
		}
	}
	return cursor
}

// MaxExchangeUpd returns the highest last_upd in the batch, or cursor when empty.
func (u *Updates) MaxExchangeUpd(cursor int64) int64 {
	for _, e := range u.Exchanges {
		if e.LastUpd > cursor {
			cursor = e.LastUpd
		}
	}
	return cursor
}
