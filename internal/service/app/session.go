package app

import (
	"fmt"
	"sync"

	"haine/internal/cryptographic/dh"
	"haine/internal/cryptographic/encryption"
	"haine/internal/cryptographic/kdf"
	"haine/internal/model"

	"github.com/pkg/errors"
)

var ErrNoKey = errors.New("key exchange not complete")

// Session holds our side of the key exchange with one peer and the message
// key derived from it. One private key is used for the whole session, so
// whichever exchange record completes first yields the same secret.
type Session struct {
	mu         sync.Mutex
	me, peer   int64
	p, g       string
	priv       *dh.PrivateKey
	peerPublic string
	key        []byte
}

func NewSession(me, peer int64, p, g string) (*Session, error) {
	gr, err := dh.ParseGroup(p, g)
	if err != nil {
		return nil, err
	}
	priv, err := gr.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Session{me: me, peer: peer, p: p, g: g, priv: priv}, nil
}

func (s *Session) Public() string {
	return s.priv.PublicString()
}

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

// Observe applies an exchange update. It reports whether the peer started
// this exchange and still waits for our public value, in which case the
// caller should commit it with the peer as target.
func (s *Session) Observe(ex *model.Exchange) (respond bool, err error) {
	if ex.P != s.p || ex.G != s.g {
		return false, nil
	}

	var theirs string
	switch {
	case ex.FromID == s.peer && ex.ToID == s.me:
		theirs = ex.PublicFrom
		respond = ex.PublicTo != s.Public()
	case ex.FromID == s.me && ex.ToID == s.peer:
		theirs = ex.PublicTo
	default:
		return false, nil
	}

	if theirs == "" {
		return respond, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if theirs == s.peerPublic {
		return respond, nil
	}

	secret, err := s.priv.SharedSecret(theirs)
	if err != nil {
		return false, err
	}
	key, err := kdf.SessionKey(secret, s.me, s.peer)
	if err != nil {
		return false, err
	}
	s.peerPublic, s.key = theirs, key
	return respond, nil
}

func (s *Session) Encrypt(text string) (string, error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key == nil {
		return "", ErrNoKey
	}
	return encryption.SealString(key, text, aad(s.me, s.peer))
}

// Decrypt opens a message of this conversation.
func (s *Session) Decrypt(m model.MessageView) (string, error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key == nil {
		return "", ErrNoKey
	}

	from, to := s.peer, s.me
	if m.Out {
		from, to = s.me, s.peer
	}
	return encryption.OpenString(key, m.Text, aad(from, to))
}

func aad(from, to int64) []byte {
	return []byte(fmt.Sprintf("%d:%d", from, to))
}
