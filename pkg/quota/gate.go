package quota

import (
	"context"
	"errors"

	"ideaforge/pkg/domain"
)

// Reason tokens reported by CheckLimit.
const (
	ReasonLimit       = "limit"
	ReasonUnknownUser = "error:unknown_user"
	ReasonStoreError  = "error:store"
)

// ErrProjectLimit is returned by callers that enforce a denied Result.
var ErrProjectLimit = errors.New("project limit reached")

// Store is the read-only persistence the gate needs.
type Store interface {
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	CountProjectsByOwner(ctx context.Context, ownerID string) (int, error)
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed bool   `json:"allowed"`
	Count   int    `json:"count"`
	Limit   int    `json:"limit"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

// Gate blocks project creation once a user owns projects_limit projects.
// It never caches: the count changes through actions outside its control.
type Gate struct {
	store      Store
	tierLimits map[domain.Tier]int
}

type Option func(*Gate)

// WithTierLimits sets the limit used for users whose row carries no
// projects_limit of its own.
func WithTierLimits(limits map[domain.Tier]int) Option {
	return func(g *Gate) {
		g.tierLimits = limits
	}
}

func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{store: store}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) limitFor(user domain.User) int {
	if user.ProjectsLimit > 0 {
		return user.ProjectsLimit
	}
	return g.tierLimits[user.Tier]
}

// CheckLimit performs a count-only read and compares it with the user's limit.
func (g *Gate) CheckLimit(ctx context.Context, userID string) Result {
	user, ok, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return Result{Reason: ReasonStoreError, Err: err}
	}
	if !ok {
		return Result{Reason: ReasonUnknownUser}
	}
	limit := g.limitFor(user)
	count, err := g.store.CountProjectsByOwner(ctx, userID)
	if err != nil {
		return Result{Limit: limit, Reason: ReasonStoreError, Err: err}
	}
	res := Result{Count: count, Limit: limit}
	if count >= limit {
		res.Reason = ReasonLimit
		return res
	}
	res.Allowed = true
	return res
}
