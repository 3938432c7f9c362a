package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ideaforge/pkg/domain"
)

// MemoryStore keeps all rows in-process. It is used by tests and local runs.
// A single mutex serializes every write, which also makes SpendCredits atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	projects  map[string]domain.Project
	documents map[string]domain.ProjectDocument
	usage     []domain.CreditUsage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		projects:  make(map[string]domain.Project),
		documents: make(map[string]domain.ProjectDocument),
	}
}

// EnsureUser inserts u unless a user with the same ID exists.
func (m *MemoryStore) EnsureUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		return existing, nil
	}
	m.users[u.ID] = u
	return u, nil
}

// GetUser returns a user by ID.
func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SpendCredits debits and logs under the store lock.
func (m *MemoryStore) SpendCredits(_ context.Context, usage domain.CreditUsage) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[usage.UserID]
	if !ok {
		return 0, false, ErrNotFound
	}
	if u.CreditsRemaining < usage.Credits {
		return u.CreditsRemaining, false, nil
	}
	u.CreditsRemaining -= usage.Credits
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	m.usage = append(m.usage, usage)
	return u.CreditsRemaining, true, nil
}

// ListCreditUsage returns the newest usage rows for a user.
func (m *MemoryStore) ListCreditUsage(_ context.Context, userID string, limit int) ([]domain.CreditUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.CreditUsage, 0)
	for i := len(m.usage) - 1; i >= 0; i-- {
		if m.usage[i].UserID != userID {
			continue
		}
		res = append(res, m.usage[i])
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

// CreateProject stores a new project.
func (m *MemoryStore) CreateProject(_ context.Context, p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = cloneProject(p)
	return nil
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(_ context.Context, id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, false, nil
	}
	return cloneProject(p), true, nil
}

// UpdateProject applies a partial update.
func (m *MemoryStore) UpdateProject(_ context.Context, id string, patch domain.ProjectPatch) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Idea != nil {
		p.Idea = *patch.Idea
	}
	if patch.RefinedIdea != nil {
		p.RefinedIdea = *patch.RefinedIdea
	}
	if patch.SelectedTools != nil {
		p.SelectedTools = append([]string(nil), patch.SelectedTools...)
	}
	if patch.Details != nil {
		p.Details = patch.Details.Clone()
	}
	if patch.Plan != nil {
		p.Plan = *patch.Plan
	}
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return cloneProject(p), nil
}

// ListProjectsByOwner returns an owner's projects, newest first.
func (m *MemoryStore) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0)
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			res = append(res, cloneProject(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// CountProjectsByOwner counts an owner's projects.
func (m *MemoryStore) CountProjectsByOwner(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// CreateDocument stores a new document row.
func (m *MemoryStore) CreateDocument(_ context.Context, d domain.ProjectDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

// GetDocument retrieves a document by ID.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.ProjectDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

// ListDocumentsByProject returns a project's documents, newest first.
func (m *MemoryStore) ListDocumentsByProject(_ context.Context, projectID string) ([]domain.ProjectDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ProjectDocument, 0)
	for _, d := range m.documents {
		if d.ProjectID == projectID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		switch {
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		case !a.UpdatedAt.Equal(b.UpdatedAt):
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return res, nil
}

// TransitionDocument applies update when the current status is one of from.
func (m *MemoryStore) TransitionDocument(_ context.Context, id string, from []domain.DocumentStatus, update DocumentUpdate) (domain.ProjectDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return domain.ProjectDocument{}, ErrNotFound
	}
	if !statusIn(d.Status, from) {
		return d, ErrStatusConflict
	}
	d.Status = update.Status
	if update.Content != nil {
		d.Content = *update.Content
	}
	if update.ErrorMessage != nil {
		d.ErrorMessage = *update.ErrorMessage
	}
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return d, nil
}

func cloneProject(p domain.Project) domain.Project {
	if p.SelectedTools != nil {
		p.SelectedTools = append([]string(nil), p.SelectedTools...)
	}
	p.Details = p.Details.Clone()
	return p
}
