package store

import (
	"context"
	"errors"

	"ideaforge/pkg/domain"
)

var (
	// ErrNotFound is returned by writes that address a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrStatusConflict is returned when a document is not in any of the expected states.
	ErrStatusConflict = errors.New("store: document status changed concurrently")
)

// DocumentUpdate describes a document state transition. Nil fields are left unchanged.
type DocumentUpdate struct {
	Status       domain.DocumentStatus
	Content      *string
	ErrorMessage *string
}

// Store defines persistence operations for users, projects, documents and credit usage.
type Store interface {
	// users
	EnsureUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, bool, error)

	// credits
	// SpendCredits atomically debits usage.Credits when the balance covers it and
	// appends the usage row. ok is false, with no side effects, when it does not.
	SpendCredits(ctx context.Context, usage domain.CreditUsage) (balance int, ok bool, err error)
	ListCreditUsage(ctx context.Context, userID string, limit int) ([]domain.CreditUsage, error)

	// projects
	CreateProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, bool, error)
	UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) (domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	CountProjectsByOwner(ctx context.Context, ownerID string) (int, error)

	// documents
	CreateDocument(ctx context.Context, d domain.ProjectDocument) error
	GetDocument(ctx context.Context, id string) (domain.ProjectDocument, bool, error)
	ListDocumentsByProject(ctx context.Context, projectID string) ([]domain.ProjectDocument, error)
	// TransitionDocument applies update only if the current status is one of from.
	TransitionDocument(ctx context.Context, id string, from []domain.DocumentStatus, update DocumentUpdate) (domain.ProjectDocument, error)
}

func statusIn(status domain.DocumentStatus, from []domain.DocumentStatus) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}
