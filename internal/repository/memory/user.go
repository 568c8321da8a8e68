package memory

import (
	"context"
	"sync"

	"haine/internal/model"
	"haine/internal/repository"
)

type (
	UserRepo struct {
		mu     sync.RWMutex
		seq    int64
		byID   map[int64]*model.User
		byName map[string]int64
	}

	TokenRepo struct {
		mu     sync.RWMutex
		tokens map[string]model.Token
	}
)

func newUserRepo() *UserRepo {
	return &UserRepo{
		byID:   make(map[int64]*model.User),
		byName: make(map[string]int64),
	}
}

func (r *UserRepo) Create(_ context.Context, user *model.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[user.Name]; ok {
		return 0, repository.ErrDuplicate
	}

	r.seq++
	user.ID = r.seq
	u := *user
	r.byID[u.ID] = &u
	r.byName[u.Name] = u.ID
	return u.ID, nil
}

func (r *UserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) Exists(_ context.Context, id int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok, nil
}

func (r *UserRepo) TouchLastSeen(_ context.Context, id int64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastSeen = ts
	}
	return nil
}

func newTokenRepo() *TokenRepo {
	return &TokenRepo{tokens: make(map[string]model.Token)}
}

func (r *TokenRepo) Create(_ context.Context, token *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token.Token]; ok {
		return repository.ErrDuplicate
	}
	r.tokens[token.Token] = *token
	return nil
}

func (r *TokenRepo) Get(_ context.Context, token string) (*model.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
