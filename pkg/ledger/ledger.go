package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ideaforge/internal/util"
	"ideaforge/pkg/domain"
)

var (
	// ErrInsufficientCredits means the balance does not cover the charge. It is a
	// normal declined outcome and is never retried.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
	ErrUnknownAction       = errors.New("unknown credit action")
	ErrUnknownUser         = errors.New("unknown user")
)

// Store is the persistence the ledger needs.
type Store interface {
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	SpendCredits(ctx context.Context, usage domain.CreditUsage) (int, bool, error)
}

// Costs maps each metered action to its credit price.
type Costs map[domain.CreditAction]int

// DefaultCosts returns the stock price list.
func DefaultCosts() Costs {
	return Costs{
		domain.ActionIdeaRefinement:       1,
		domain.ActionAIAnswer:             1,
		domain.ActionPlanGeneration:       2,
		domain.ActionDocumentGeneration:   2,
		domain.ActionDocumentRegeneration: 2,
	}
}

// Merge returns c with overrides applied; non-positive overrides are ignored.
func (c Costs) Merge(overrides map[string]int) Costs {
	out := make(Costs, len(c))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[domain.CreditAction(k)] = v
		}
	}
	return out
}

// Cost returns the price of action.
func (c Costs) Cost(action domain.CreditAction) (int, error) {
	cost, ok := c[action]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return cost, nil
}

// Charge identifies a metered action and what it was spent on.
type Charge struct {
	UserID     string
	Action     domain.CreditAction
	ProjectID  string
	DocumentID string
}

// SpendObserver is notified after every successful debit.
type SpendObserver func(action domain.CreditAction, credits int)

// Ledger debits user balances for metered actions.
type Ledger struct {
	store    Store
	costs    Costs
	observer SpendObserver
	now      func() time.Time
}

type Option func(*Ledger)

// WithObserver registers a callback for successful debits.
func WithObserver(fn SpendObserver) Option {
	return func(l *Ledger) {
		l.observer = fn
	}
}

// WithClock overrides the timestamp source for usage rows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New builds a ledger. A nil costs table uses DefaultCosts.
func New(store Store, costs Costs, options ...Option) *Ledger {
	if costs == nil {
		costs = DefaultCosts()
	}
	l := &Ledger{store: store, costs: costs, now: time.Now}
	for _, option := range options {
		if option != nil {
			option(l)
		}
	}
	return l
}

// Costs returns the active price list.
func (l *Ledger) Costs() Costs {
	return l.costs
}

// Spend debits the price of c.Action and returns the new balance.
func (l *Ledger) Spend(ctx context.Context, c Charge) (int, error) {
	amount, err := l.costs.Cost(c.Action)
	if err != nil {
		return 0, err
	}
	return l.SpendAmount(ctx, c, amount)
}

// SpendAmount debits an explicit amount. The check and the debit happen in one
// store operation, so two concurrent spends cannot both pass the balance check.
func (l *Ledger) SpendAmount(ctx context.Context, c Charge, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	usage := domain.CreditUsage{
		ID:         util.NewID(),
		UserID:     c.UserID,
		ProjectID:  c.ProjectID,
		DocumentID: c.DocumentID,
		Action:     c.Action,
		Credits:    amount,
		CreatedAt:  l.now().UTC(),
	}
	balance, ok, err := l.store.SpendCredits(ctx, usage)
	if err != nil {
		return 0, fmt.Errorf("spend credits: %w", err)
	}
	if !ok {
		return balance, ErrInsufficientCredits
	}
	if l.observer != nil {
		l.observer(c.Action, amount)
	}
	return balance, nil
}

// Balance returns the user's remaining credits.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	u, ok, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return 0, ErrUnknownUser
	}
	return u.CreditsRemaining, nil
}
