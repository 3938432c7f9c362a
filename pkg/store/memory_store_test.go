package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ideaforge/pkg/domain"
)

func TestMemoryStoreSpendCreditsNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.EnsureUser(ctx, domain.User{ID: "u-1", CreditsRemaining: 10}); err != nil {
		t.Fatalf("save user: %v", err)
	}

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.SpendCredits(ctx, domain.CreditUsage{UserID: "u-1", Action: domain.ActionAIAnswer, Credits: 3})
			if err != nil {
				t.Errorf("spend: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("successes = %d, want 3", successes)
	}
	u, _, _ := s.GetUser(ctx, "u-1")
	if u.CreditsRemaining != 1 {
		t.Fatalf("balance = %d, want 1", u.CreditsRemaining)
	}
	logs, _ := s.ListCreditUsage(ctx, "u-1", 0)
	if len(logs) != successes {
		t.Fatalf("usage rows = %d, want %d", len(logs), successes)
	}
}

func TestMemoryStoreSpendCreditsUnknownUser(t *testing.T) {
	s := NewMemoryStore()
	if _, _, err := s.SpendCredits(context.Background(), domain.CreditUsage{UserID: "ghost", Credits: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTransitionDocumentCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDocument(ctx, domain.ProjectDocument{ID: "d-1", ProjectID: "p-1", Status: domain.DocumentPending})

	doc, err := s.TransitionDocument(ctx, "d-1", []domain.DocumentStatus{domain.DocumentPending}, DocumentUpdate{Status: domain.DocumentGenerating})
	if err != nil {
		t.Fatalf("pending -> generating: %v", err)
	}
	if doc.Status != domain.DocumentGenerating {
		t.Fatalf("status = %s", doc.Status)
	}
	if _, err := s.TransitionDocument(ctx, "d-1", []domain.DocumentStatus{domain.DocumentPending}, DocumentUpdate{Status: domain.DocumentGenerating}); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if _, err := s.TransitionDocument(ctx, "missing", nil, DocumentUpdate{Status: domain.DocumentError}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateProjectIsPartial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateProject(ctx, domain.Project{
		ID:            "p-1",
		OwnerID:       "u-1",
		Name:          "Books",
		Idea:          "A marketplace for rare books",
		SelectedTools: []string{"go"},
		CreatedAt:     time.Now().UTC(),
	})
	plan := "1. Build it"
	p, err := s.UpdateProject(ctx, "p-1", domain.ProjectPatch{Plan: &plan})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Plan != plan || p.Idea != "A marketplace for rare books" || len(p.SelectedTools) != 1 {
		t.Fatalf("unexpected project after partial update: %+v", p)
	}
	if _, err := s.UpdateProject(ctx, "missing", domain.ProjectPatch{Plan: &plan}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreProjectCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateProject(ctx, domain.Project{ID: "p-1", OwnerID: "u-1", Details: domain.Details{"budget": "low"}})
	p, _, _ := s.GetProject(ctx, "p-1")
	p.Details["budget"] = "high"
	again, _, _ := s.GetProject(ctx, "p-1")
	if again.Details["budget"] != "low" {
		t.Fatalf("stored details mutated through returned copy")
	}
}

func TestMemoryStoreListDocumentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().UTC()
	_ = s.CreateDocument(ctx, domain.ProjectDocument{ID: "old", ProjectID: "p-1", CreatedAt: base})
	_ = s.CreateDocument(ctx, domain.ProjectDocument{ID: "new", ProjectID: "p-1", CreatedAt: base.Add(time.Second)})
	_ = s.CreateDocument(ctx, domain.ProjectDocument{ID: "other", ProjectID: "p-2", CreatedAt: base})
	docs, err := s.ListDocumentsByProject(ctx, "p-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "new" {
		t.Fatalf("unexpected order: %+v", docs)
	}
}
