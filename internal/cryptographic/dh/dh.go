// Package dh implements finite-field Diffie-Hellman over the (p, g) pairs
// the server hands out.
package dh

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/pkg/errors"
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)

	ErrInvalidGroup  = errors.New("dh: invalid group parameters")
	ErrInvalidPublic = errors.New("dh: public value out of range")
)

type (
	Group struct {
		P *big.Int
		G *big.Int
	}

	PrivateKey struct {
		group  Group
		x      *big.Int
		Public *big.Int
	}
)

// ParseGroup reads p and g as decimal strings. p must be an odd number
// greater than 3 and 1 < g < p-1.
func ParseGroup(p, g string) (Group, error) {
	pv, ok := new(big.Int).SetString(p, 10)
	if !ok || pv.Cmp(big.NewInt(3)) <= 0 || pv.Bit(0) == 0 {
		return Group{}, errors.Wrapf(ErrInvalidGroup, "p=%q", p)
	}
	gv, ok := new(big.Int).SetString(g, 10)
	if !ok || gv.Cmp(one) <= 0 || gv.Cmp(new(big.Int).Sub(pv, one)) >= 0 {
		return Group{}, errors.Wrapf(ErrInvalidGroup, "g=%q", g)
	}
	return Group{P: pv, G: gv}, nil
}

// GenerateKey picks a private exponent uniformly from [2, p-2].
func (gr Group) GenerateKey(r io.Reader) (*PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	x, err := rand.Int(r, new(big.Int).Sub(gr.P, big.NewInt(3)))
	if err != nil {
		return nil, errors.Wrap(err, "dh: generate private exponent")
	}
	return gr.NewPrivateKey(x.Add(x, two))
}

func (gr Group) NewPrivateKey(x *big.Int) (*PrivateKey, error) {
	if x.Cmp(one) <= 0 || x.Cmp(new(big.Int).Sub(gr.P, one)) >= 0 {
		return nil, errors.New("dh: private exponent out of range")
	}
	return &PrivateKey{
		group:  gr,
		x:      new(big.Int).Set(x),
		Public: new(big.Int).Exp(gr.G, x, gr.P),
	}, nil
}

func (k *PrivateKey) PublicString() string {
	return k.Public.String()
}

// SharedSecret computes peer^x mod p, left-padded to the byte length of p.
func (k *PrivateKey) SharedSecret(peer string) ([]byte, error) {
	y, ok := new(big.Int).SetString(peer, 10)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidPublic, "not a number: %q", peer)
	}
	// y must lie in (1, p-1) or the secret is trivially guessable.
	if y.Cmp(one) <= 0 || y.Cmp(new(big.Int).Sub(k.group.P, one)) >= 0 {
		return nil, ErrInvalidPublic
	}

	s := new(big.Int).Exp(y, k.x, k.group.P)
	return s.FillBytes(make([]byte, (k.group.P.BitLen()+7)/8)), nil
}
