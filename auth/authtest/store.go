// Package authtest provides in-memory stores for tests of code built on the
// auth package.
package authtest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"therapyhub.io/shared/pg/model"
)

var (
	_ model.AccountStore = (*Store)(nil)
	_ model.RoleStore    = (*Store)(nil)
	_ model.SessionStore = (*Store)(nil)
)

// Store keeps accounts, roles and refresh tokens in memory. Setting Err makes
// every call fail with it.
type Store struct {
	mu          sync.Mutex
	accounts    map[string]*model.Account
	roles       map[string]*model.Role
	permissions map[string]string // name -> id
	assigned    map[string]map[string]bool
	tokens      map[string]*model.IssuedToken

	Err error
	// Delay is slept by PermissionsForRole, before reading.
	Delay time.Duration

	RoleLookups atomic.Int64
}

func NewStore() *Store {
	return &Store{
		accounts:    map[string]*model.Account{},
		roles:       map[string]*model.Role{},
		permissions: map[string]string{},
		assigned:    map[string]map[string]bool{},
		tokens:      map[string]*model.IssuedToken{},
	}
}

func accountKey(t model.AccountType, id string) string { return string(t) + "/" + id }

func (s *Store) AddAccount(acc model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := acc
	s.accounts[accountKey(a.Type, a.ID)] = &a
}

// AddRole creates the role and every named permission it is assigned.
func (s *Store) AddRole(name string, active bool, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "role-" + name
	s.roles[name] = &model.Role{ID: id, Name: name, IsActive: active}
	set := map[string]bool{}
	for _, p := range perms {
		if _, ok := s.permissions[p]; !ok {
			s.permissions[p] = "perm-" + p
		}
		set[p] = true
	}
	s.assigned[id] = set
}

// AddPermission registers a permission that no role holds yet.
func (s *Store) AddPermission(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[name]; !ok {
		s.permissions[name] = "perm-" + name
	}
}

func (s *Store) FindAccount(_ context.Context, t model.AccountType, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	acc, ok := s.accounts[accountKey(t, id)]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) FindAccountByEmail(_ context.Context, t model.AccountType, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, acc := range s.accounts {
		if acc.Type == t && acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *Store) UpdatePasswordHash(_ context.Context, t model.AccountType, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	acc, ok := s.accounts[accountKey(t, id)]
	if !ok {
		return model.ErrNotFound
	}
	acc.PasswordHash = hash
	return nil
}

func (s *Store) FindRoleByName(_ context.Context, name string) (*model.Role, error) {
	s.RoleLookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	r, ok := s.roles[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]model.Permission, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.Permission
	for name := range s.assigned[roleID] {
		out = append(out, model.Permission{ID: s.permissions[name], Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	set := map[string]bool{}
	for _, n := range names {
		if _, ok := s.permissions[n]; !ok {
			return model.ErrNotFound
		}
		set[n] = true
	}
	s.assigned[roleID] = set
	return nil
}

func (s *Store) StoreToken(_ context.Context, tok *model.IssuedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.tokens[tok.Token]; ok {
		return model.ErrConflict
	}
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

func (s *Store) FindToken(_ context.Context, token string) (*model.IssuedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	tok, ok := s.tokens[token]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *Store) RevokeToken(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if tok, ok := s.tokens[token]; ok && tok.RevokedAt == nil {
		t := at
		tok.RevokedAt = &t
	}
	return nil
}

func (s *Store) RevokeAllTokens(_ context.Context, pt model.AccountType, id string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, tok := range s.tokens {
		if tok.PrincipalType == pt && tok.PrincipalID == id && tok.RevokedAt == nil {
			t := at
			tok.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *Store) RotateToken(_ context.Context, oldToken string, next *model.IssuedToken, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	old, ok := s.tokens[oldToken]
	if !ok || !old.Usable(at) {
		return model.ErrTokenUnusable
	}
	if _, exists := s.tokens[next.Token]; exists {
		return model.ErrConflict
	}
	t := at
	old.RevokedAt = &t
	cp := *next
	s.tokens[next.Token] = &cp
	return nil
}

// Tokens returns a copy of every stored token record.
func (s *Store) Tokens() []model.IssuedToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.IssuedToken, 0, len(s.tokens))
	for _, tok := range s.tokens {
		out = append(out, *tok)
	}
	return out
}

// SetErr switches failure injection on (non-nil) or off.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}
