// Package identity is the account layer: it yields a stable user id for the current session
// and notifies subscribers whenever that changes.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cloutdash/internal/docstore"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/shards"
)

type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Listener receives the current identity, nil when signed out.
type Listener func(*Identity)

type Provider interface {
	SignUp(ctx context.Context, email, password, username string) (*Identity, error)
	LogIn(ctx context.Context, email, password string) (*Identity, error)
	LogOut(ctx context.Context) error
	Current() *Identity
	// Subscribe calls fn once with the current identity and again on every change.
	Subscribe(fn Listener) (unsubscribe func())
}

type account struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

// StoreProvider keeps accounts and profiles in the document store.
type StoreProvider struct {
	store    docstore.Store
	logger   providers.Logger
	hashCost int

	mu        sync.Mutex
	current   *Identity
	listeners map[int]Listener
	nextID    int
}

func NewStoreProvider(store docstore.Store, logger providers.Logger) *StoreProvider {
	return &StoreProvider{
		store:     store,
		logger:    logger,
		hashCost:  bcrypt.DefaultCost,
		listeners: make(map[int]Listener),
	}
}

func accountKey(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p *StoreProvider) SignUp(ctx context.Context, email, password, username string) (*Identity, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return nil, &models.ValidationError{Field: "email", Reason: "is invalid"}
	case len(password) < 6:
		return nil, &models.ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	case username == "":
		return nil, &models.ValidationError{Field: "username", Reason: "is required"}
	}

	path := shards.AccountPath(accountKey(email))
	_, err := p.store.Get(ctx, path)
	if err == nil {
		return nil, models.ErrAccountExists
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, models.NewStorageError("get", path, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return nil, err
	}
	uid := uuid.NewString()
	profile := models.UserProfile{ID: uid, Username: username}

	b := p.store.Batch()
	if err := b.Set(path, account{UID: uid, Email: email, PasswordHash: string(hash)}, false); err != nil {
		return nil, err
	}
	if err := b.Set(shards.ProfilePath(uid), profile, false); err != nil {
		return nil, err
	}
	if err := b.Commit(ctx); err != nil {
		return nil, models.NewStorageError("signup", path, err)
	}

	id := &Identity{ID: uid, Email: email, Username: username}
	p.logger.Infof(providers.TypeApp, "Signed up user %s", uid)
	p.setCurrent(id)
	return id, nil
}

func (p *StoreProvider) LogIn(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	path := shards.AccountPath(accountKey(email))
	data, err := p.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, models.NewStorageError("get", path, err)
	}
	var acc account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, models.NewStorageError("decode", path, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	profile, err := p.loadProfile(ctx, acc.UID)
	if err != nil {
		return nil, err
	}
	id := &Identity{ID: acc.UID, Email: acc.Email, Username: profile.Username}
	p.logger.Infof(providers.TypeApp, "User %s logged in", acc.UID)
	p.setCurrent(id)
	return id, nil
}

func (p *StoreProvider) loadProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	path := shards.ProfilePath(uid)
	data, err := p.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return &models.UserProfile{ID: uid}, nil
	}
	if err != nil {
		return nil, models.NewStorageError("get", path, err)
	}
	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, models.NewStorageError("decode", path, err)
	}
	return &profile, nil
}

func (p *StoreProvider) LogOut(_ context.Context) error {
	p.setCurrent(nil)
	return nil
}

func (p *StoreProvider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *StoreProvider) Subscribe(fn Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *StoreProvider) setCurrent(id *Identity) {
	p.mu.Lock()
	p.current = id
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(id)
	}
}
