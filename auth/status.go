package auth

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"therapyhub.io/shared/pg/model"
)

const statusCacheSize = 10000

// CheckAccountStatus applies the per-type activity rules to acc. A deleted
// account is Unauthorized; an account in the wrong state is Forbidden.
func CheckAccountStatus(acc *model.Account) error {
	switch acc.Type {
	case model.AccountAdmin:
		if !acc.IsActive {
			return Forbidden("administrator account is inactive")
		}
	case model.AccountTherapist:
		if acc.DeletedAt != nil {
			return Unauthorized("account not found")
		}
		if acc.Status != model.StatusApproved {
			return Forbidden("therapist account is " + statusLabel(acc.Status))
		}
	case model.AccountPatient:
		if acc.DeletedAt != nil {
			return Unauthorized("account not found")
		}
		if acc.Status != model.StatusActive {
			return Forbidden("patient account is " + statusLabel(acc.Status))
		}
	default:
		return Forbidden("unknown account type")
	}
	return nil
}

func statusLabel(status string) string {
	if status == "" {
		return "not active"
	}
	return status
}

// StatusChecker re-reads an account and applies CheckAccountStatus. Outcomes,
// but not storage failures, may be cached for a short TTL.
type StatusChecker struct {
	accounts model.AccountStore
	cache    *expirable.LRU[string, error]
}

// NewStatusChecker creates a checker. A ttl of zero disables caching.
func NewStatusChecker(accounts model.AccountStore, ttl time.Duration) *StatusChecker {
	sc := &StatusChecker{accounts: accounts}
	if ttl > 0 {
		sc.cache = expirable.NewLRU[string, error](statusCacheSize, nil, ttl)
	}
	return sc
}

func statusKey(t PrincipalType, id string) string {
	return string(t) + ":" + id
}

// Check loads the account behind p and verifies it may still act.
func (sc *StatusChecker) Check(ctx context.Context, p *Principal) error {
	if err := checkPrincipal(p); err != nil {
		return err
	}
	key := statusKey(p.Type, p.ID)
	if sc.cache != nil {
		if result, ok := sc.cache.Get(key); ok {
			return result
		}
	}
	_, err := sc.load(ctx, p, key)
	return err
}

// Account re-reads the account behind p, bypassing cached outcomes, and
// returns it when it may still act.
func (sc *StatusChecker) Account(ctx context.Context, p *Principal) (*model.Account, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	return sc.load(ctx, p, statusKey(p.Type, p.ID))
}

func checkPrincipal(p *Principal) error {
	if p == nil {
		return Unauthorized("authentication required")
	}
	if !p.Type.Valid() {
		return Forbidden("unknown account type")
	}
	return nil
}

func (sc *StatusChecker) load(ctx context.Context, p *Principal, key string) (*model.Account, error) {
	acc, err := sc.accounts.FindAccount(ctx, p.Type, p.ID)
	var result error
	switch {
	case errors.Is(err, model.ErrNotFound):
		result = Unauthorized("account not found")
	case err != nil:
		return nil, ServiceUnavailable("account lookup failed", err)
	default:
		result = CheckAccountStatus(acc)
	}

	if sc.cache != nil {
		sc.cache.Add(key, result)
	}
	if result != nil {
		return nil, result
	}
	return acc, nil
}

// Invalidate forgets the cached outcome for one account.
func (sc *StatusChecker) Invalidate(t PrincipalType, id string) {
	if sc.cache != nil {
		sc.cache.Remove(statusKey(t, id))
	}
}
