// Package prime supplies the (p, g) pair clients use for key exchange and
// optionally regenerates the safe prime in the background.
package prime

import (
	"bufio"
	"context"
	"crypto/rand"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"haine/internal/utils/log"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MinBits      = 2048
	Generator    = 2
	checkEvery   = time.Hour
	primeRounds  = 20
	defaultPrime = "429960845873088536599738146849398890197656281978746052260302647466290912" +
		"363305996665498753182126120318295110244403964643426486915779918338905631" +
		"403871028184935255084712703423613529366297760543627384218281702559557613" +
		"931230981025214701436292843374882547050410898749274017561380961864641986" +
		"822934974094546625703373934105581804151000069136171694933799628596746360" +
		"744089987859632744266134003621159571422862980144043377717793249604329463" +
		"406248840895370685965329721512935512704815510998868368597285047022910731" +
		"679048010756286396108128504010975404344672924191827643103234869173733652" +
		"74421751734483875743936086632531541480503"
)

type (
	Options struct {
		// Path is where a generated prime is persisted; empty disables persistence.
		Path     string
		Refresh  time.Duration
		Generate bool
		Bits     int
	}

	Provider struct {
		mu      sync.RWMutex
		p       *big.Int
		updated time.Time
		opts    Options
		now     func() time.Time
	}
)

func DefaultPrime() *big.Int {
	p, _ := new(big.Int).SetString(defaultPrime, 10)
	return p
}

func NewProvider(opts Options) *Provider {
	if opts.Bits <= 0 {
		opts.Bits = MinBits
	}
	pr := &Provider{
		p:    DefaultPrime(),
		opts: opts,
		now:  time.Now,
	}

	if opts.Path != "" {
		p, mod, err := load(opts.Path, opts.Bits)
		switch {
		case err == nil:
			pr.p, pr.updated = p, mod
		case os.IsNotExist(errors.Cause(err)):
		default:
			log.Warn("ignoring stored prime", zap.String("path", opts.Path), zap.Error(err))
		}
	}
	return pr
}

// Params returns p and g as decimal strings.
func (pr *Provider) Params() (string, string) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return pr.p.String(), big.NewInt(Generator).String()
}

func (pr *Provider) stale() bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return pr.now().Sub(pr.updated) > pr.opts.Refresh
}

// Run regenerates the prime whenever it is older than the refresh period.
// It returns when ctx is done or immediately when generation is disabled.
func (pr *Provider) Run(ctx context.Context) {
	if !pr.opts.Generate {
		return
	}

	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		if pr.stale() {
			if err := pr.refresh(ctx); err != nil && ctx.Err() == nil {
				log.Error("prime refresh failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (pr *Provider) refresh(ctx context.Context) error {
	started := time.Now()
	p, err := GenerateSafePrime(ctx, pr.opts.Bits)
	if err != nil {
		return err
	}

	if pr.opts.Path != "" {
		if err := os.WriteFile(pr.opts.Path, []byte(p.String()+"\n"), 0o644); err != nil {
			return errors.Wrap(err, "save prime")
		}
	}

	pr.mu.Lock()
	pr.p, pr.updated = p, pr.now()
	pr.mu.Unlock()

	log.Info("safe prime refreshed", zap.Int("bits", p.BitLen()), zap.Duration("took", time.Since(started)))
	return nil
}

// GenerateSafePrime returns a prime p = 2q + 1 with q prime and p at least
// bits long.
func GenerateSafePrime(ctx context.Context, bits int) (*big.Int, error) {
	one := big.NewInt(1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q, err := rand.Prime(rand.Reader, bits)
		if err != nil {
			return nil, errors.Wrap(err, "generate prime")
		}

		p := new(big.Int).Lsh(q, 1)
		p.Add(p, one)
		if p.ProbablyPrime(primeRounds) {
			return p, nil
		}
	}
}

func load(path string, bits int) (*big.Int, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "open prime")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "stat prime")
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<16)
	if !sc.Scan() {
		return nil, time.Time{}, errors.New("empty prime file")
	}

	p, ok := new(big.Int).SetString(strings.TrimSpace(sc.Text()), 10)
	if !ok {
		return nil, time.Time{}, errors.New("malformed prime")
	}
	if p.BitLen() < bits {
		return nil, time.Time{}, errors.Errorf("prime has %d bits, want at least %d", p.BitLen(), bits)
	}
	if !p.ProbablyPrime(primeRounds) {
		return nil, time.Time{}, errors.New("stored value is not prime")
	}
	return p, info.ModTime(), nil
}
