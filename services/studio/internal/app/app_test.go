package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ideaforge/internal/util"
	"ideaforge/pkg/ai"
	"ideaforge/pkg/docgen"
	"ideaforge/pkg/domain"
	"ideaforge/pkg/quota"
	"ideaforge/pkg/storage"
	"ideaforge/pkg/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []ai.Request
	reply    func(req ai.Request) (string, error)
}

func (f *fakeGenerator) GenerateText(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "# Generated\n\ncontent", nil
	}
	return reply(req)
}

func (f *fakeGenerator) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Prompt)
	}
	return out
}

// recordingStore remembers every successful status transition.
type recordingStore struct {
	*store.MemoryStore
	mu          sync.Mutex
	transitions []string
}

func (r *recordingStore) TransitionDocument(ctx context.Context, id string, from []domain.DocumentStatus, update store.DocumentUpdate) (domain.ProjectDocument, error) {
	before, _, _ := r.MemoryStore.GetDocument(ctx, id)
	doc, err := r.MemoryStore.TransitionDocument(ctx, id, from, update)
	if err == nil {
		r.mu.Lock()
		r.transitions = append(r.transitions, string(before.Status)+"->"+string(doc.Status))
		r.mu.Unlock()
	}
	return doc, err
}

type testEnv struct {
	app   *App
	store *recordingStore
	gen   *fakeGenerator
}

func newTestEnv(t *testing.T, credits int) *testEnv {
	t.Helper()
	s := &recordingStore{MemoryStore: store.NewMemoryStore()}
	gen := &fakeGenerator{}
	a, err := New(Config{Store: s, Generator: gen})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := s.EnsureUser(context.Background(), domain.User{ID: "u-1", Tier: domain.TierFree, CreditsRemaining: credits, ProjectsLimit: 3}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return &testEnv{app: a, store: s, gen: gen}
}

func (e *testEnv) project(t *testing.T, idea string) domain.Project {
	t.Helper()
	p, err := e.app.CreateProject(context.Background(), "u-1", "Books", idea)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (e *testEnv) balance(t *testing.T) int {
	t.Helper()
	credits, err := e.app.Balance(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return credits
}

func (e *testEnv) usage(t *testing.T) []domain.CreditUsage {
	t.Helper()
	logs, err := e.store.ListCreditUsage(context.Background(), "u-1", 0)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	return logs
}

func (e *testEnv) seedDocument(t *testing.T, projectID string, status domain.DocumentStatus, content string) domain.ProjectDocument {
	t.Helper()
	return e.seedDocumentAt(t, projectID, status, content, time.Now().UTC())
}

func (e *testEnv) seedDocumentAt(t *testing.T, projectID string, status domain.DocumentStatus, content string, at time.Time) domain.ProjectDocument {
	t.Helper()
	doc := domain.ProjectDocument{
		ID:        util.NewID(),
		ProjectID: projectID,
		Title:     domain.DocPRD.Title(),
		Type:      domain.DocPRD,
		Content:   content,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := e.store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestRequestDocumentsDeclinesWhenCreditsRunOut(t *testing.T) {
	env := newTestEnv(t, 5)
	p := env.project(t, "A marketplace for rare books")

	results, err := env.app.RequestDocuments(context.Background(), "u-1", p.ID,
		[]domain.DocumentType{domain.DocPRD, domain.DocUserFlow, domain.DocArchitecture})
	if err != nil {
		t.Fatalf("request documents: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results[:2] {
		if r.Err != nil || r.Document.Status != domain.DocumentCompleted {
			t.Fatalf("%s: expected completed, got %+v", r.Type, r)
		}
	}
	if !errors.Is(results[2].Err, ErrInsufficientCredits) || results[2].Document.ID != "" {
		t.Fatalf("third type should be declined without a row: %+v", results[2])
	}
	if got := env.balance(t); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
	docs, _ := env.store.ListDocumentsByProject(context.Background(), p.ID)
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2", len(docs))
	}
	for _, d := range docs {
		if d.Type == domain.DocArchitecture {
			t.Fatalf("declined type must not have a row")
		}
	}
	logs := env.usage(t)
	if len(logs) != 2 {
		t.Fatalf("usage rows = %d, want 2", len(logs))
	}
	for _, l := range logs {
		if l.Action != domain.ActionDocumentGeneration || l.Credits != 2 || l.DocumentID == "" {
			t.Fatalf("unexpected usage row: %+v", l)
		}
	}
}

func TestRequestDocumentsPromptUsesFallbacks(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")

	results, err := env.app.RequestDocuments(context.Background(), "u-1", p.ID, []domain.DocumentType{domain.DocPRD})
	if err != nil || results[0].Err != nil {
		t.Fatalf("request documents: %v %v", err, results[0].Err)
	}
	prompts := env.gen.prompts()
	if len(prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(prompts))
	}
	for _, want := range []string{"A marketplace for rare books", docgen.FallbackDetails, docgen.FallbackTools} {
		if !strings.Contains(prompts[0], want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompts[0])
		}
	}
	got, _ := env.app.GetProject(context.Background(), "u-1", p.ID)
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", got.Status)
	}
}

func TestRequestDocumentsIsolatesProviderFailures(t *testing.T) {
	env := newTestEnv(t, 10)
	env.gen.reply = func(req ai.Request) (string, error) {
		if strings.Contains(req.Prompt, domain.DocArchitecture.Title()) {
			return "", &ai.ProviderError{Provider: "openai", Message: "rate limited"}
		}
		return "ok", nil
	}
	p := env.project(t, "A marketplace for rare books")

	results, err := env.app.RequestDocuments(context.Background(), "u-1", p.ID,
		[]domain.DocumentType{domain.DocPRD, domain.DocArchitecture, domain.DocSchema})
	if err != nil {
		t.Fatalf("request documents: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s: unexpected error %v", r.Type, r.Err)
		}
		want := domain.DocumentCompleted
		if r.Type == domain.DocArchitecture {
			want = domain.DocumentError
		}
		if r.Document.Status != want {
			t.Fatalf("%s: status = %s, want %s", r.Type, r.Document.Status, want)
		}
	}
	if msg := results[1].Document.ErrorMessage; !strings.Contains(msg, "rate limited") {
		t.Fatalf("error message = %q", msg)
	}
}

func TestRequestDocumentsValidatesBeforeCharging(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "")
	ctx := context.Background()

	var verr *ValidationError
	if _, err := env.app.RequestDocuments(ctx, "u-1", p.ID, []domain.DocumentType{domain.DocPRD}); !errors.As(err, &verr) || verr.Field != "idea" {
		t.Fatalf("expected idea validation error, got %v", err)
	}
	if _, err := env.app.RequestDocuments(ctx, "u-1", p.ID, []domain.DocumentType{"pitch_deck"}); !errors.As(err, &verr) {
		t.Fatalf("expected type validation error, got %v", err)
	}
	if _, err := env.app.RequestDocuments(ctx, "u-1", p.ID, nil); !errors.As(err, &verr) {
		t.Fatalf("expected empty types validation error, got %v", err)
	}
	if got := env.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestRequestDocumentsProviderTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	slow := &fakeGenerator{reply: func(ai.Request) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}}
	blocking := ai.WithTimeout(ctxAwareGenerator{slow}, "openai", 20*time.Millisecond)
	a, err := New(Config{Store: s, Generator: blocking})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx := context.Background()
	_, _ = s.EnsureUser(ctx, domain.User{ID: "u-1", CreditsRemaining: 10, ProjectsLimit: 3})
	p, _ := a.CreateProject(ctx, "u-1", "Books", "A marketplace for rare books")

	results, err := a.RequestDocuments(ctx, "u-1", p.ID, []domain.DocumentType{domain.DocPRD})
	if err != nil {
		t.Fatalf("request documents: %v", err)
	}
	doc := results[0].Document
	if doc.Status != domain.DocumentError || !strings.Contains(doc.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout error state, got %+v", doc)
	}
}

// ctxAwareGenerator gives up when the context ends, like a real HTTP client.
type ctxAwareGenerator struct{ next ai.TextGenerator }

func (g ctxAwareGenerator) GenerateText(ctx context.Context, req ai.Request) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := g.next.GenerateText(ctx, req)
		ch <- result{text, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

func TestCheckLimitAtLimit(t *testing.T) {
	env := newTestEnv(t, 10)
	for i := 0; i < 3; i++ {
		env.project(t, "idea")
	}
	got := env.app.CheckLimit(context.Background(), "u-1")
	want := quota.Result{Allowed: false, Count: 3, Limit: 3, Reason: quota.ReasonLimit}
	if got != want {
		t.Fatalf("CheckLimit = %+v, want %+v", got, want)
	}
	if _, err := env.app.CreateProject(context.Background(), "u-1", "fourth", "idea"); !errors.Is(err, quota.ErrProjectLimit) {
		t.Fatalf("expected ErrProjectLimit, got %v", err)
	}
}

func TestRegenerateMissingProjectDoesNotCharge(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentCompleted, "v1")
	ctx := context.Background()

	if _, err := env.app.Regenerate(ctx, "u-1", doc.ID, "missing-project"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := env.app.Regenerate(ctx, "u-1", "missing-doc", p.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if got := env.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if logs := env.usage(t); len(logs) != 0 {
		t.Fatalf("unexpected usage rows: %+v", logs)
	}
}

func TestRegenerateFailureKeepsPriorContent(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentCompleted, "v1")
	env.gen.reply = func(ai.Request) (string, error) {
		return "", &ai.ProviderError{Provider: "gemini", Message: "quota exceeded"}
	}

	got, err := env.app.Regenerate(context.Background(), "u-1", doc.ID, p.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got.Status != domain.DocumentError || got.Content != "v1" || !strings.Contains(got.ErrorMessage, "quota exceeded") {
		t.Fatalf("unexpected document after failed regeneration: %+v", got)
	}
	if got := env.balance(t); got != 8 {
		t.Fatalf("balance = %d, want 8", got)
	}
	logs := env.usage(t)
	if len(logs) != 1 || logs[0].Action != domain.ActionDocumentRegeneration {
		t.Fatalf("unexpected usage rows: %+v", logs)
	}
}

func TestRegenerateUsesCurrentProjectData(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentError, "")
	ctx := context.Background()
	if _, err := env.app.SaveIdea(ctx, "u-1", p.ID, "A subscription box for rare books"); err != nil {
		t.Fatalf("save idea: %v", err)
	}
	if _, err := env.app.SetTools(ctx, "u-1", p.ID, []string{"postgres", "go", "go"}); err != nil {
		t.Fatalf("set tools: %v", err)
	}

	got, err := env.app.Regenerate(ctx, "u-1", doc.ID, p.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got.Status != domain.DocumentCompleted || got.ErrorMessage != "" {
		t.Fatalf("unexpected document: %+v", got)
	}
	prompt := env.gen.prompts()[0]
	if !strings.Contains(prompt, "A subscription box for rare books") || !strings.Contains(prompt, "go, postgres") {
		t.Fatalf("prompt does not reflect current project:\n%s", prompt)
	}
}

func TestRegenerateDeclinedLeavesDocumentUntouched(t *testing.T) {
	env := newTestEnv(t, 1)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentCompleted, "v1")

	if _, err := env.app.Regenerate(context.Background(), "u-1", doc.ID, p.ID); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	got, _, _ := env.store.GetDocument(context.Background(), doc.ID)
	if got.Status != domain.DocumentCompleted || got.Content != "v1" {
		t.Fatalf("document changed after declined charge: %+v", got)
	}
	if len(env.gen.prompts()) != 0 {
		t.Fatalf("provider must not be called after a declined charge")
	}
	if len(env.store.transitions) != 0 {
		t.Fatalf("unexpected transitions: %v", env.store.transitions)
	}
}

func TestRegenerateRejectsInFlightDocument(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentGenerating, "")

	if _, err := env.app.Regenerate(context.Background(), "u-1", doc.ID, p.ID); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("expected ErrDocumentBusy, got %v", err)
	}
	if got := env.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

// finishFailStore fails the next n saves of a completed result.
type finishFailStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *finishFailStore) TransitionDocument(ctx context.Context, id string, from []domain.DocumentStatus, update store.DocumentUpdate) (domain.ProjectDocument, error) {
	f.mu.Lock()
	fail := update.Status == domain.DocumentCompleted && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return domain.ProjectDocument{}, errors.New("db down")
	}
	return f.MemoryStore.TransitionDocument(ctx, id, from, update)
}

func TestRegenerateRecoversInterruptedGeneration(t *testing.T) {
	ctx := context.Background()
	s := &finishFailStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	var clockMu sync.Mutex
	now := time.Now().UTC()
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	a, err := New(Config{Store: s, Generator: &fakeGenerator{}, Now: clock, StaleGenerationAfter: time.Minute})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := s.EnsureUser(ctx, domain.User{ID: "u-1", Tier: domain.TierFree, CreditsRemaining: 10, ProjectsLimit: 3}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	p, err := a.CreateProject(ctx, "u-1", "Books", "A marketplace for rare books")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	doc := domain.ProjectDocument{ID: util.NewID(), ProjectID: p.ID, Title: domain.DocPRD.Title(), Type: domain.DocPRD,
		Content: "v1", Status: domain.DocumentCompleted, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	if _, err := a.Regenerate(ctx, "u-1", doc.ID, p.ID); err == nil {
		t.Fatalf("expected the failed save to be reported")
	}
	stuck, _, _ := s.GetDocument(ctx, doc.ID)
	if stuck.Status != domain.DocumentGenerating {
		t.Fatalf("status after failed save = %s, want generating", stuck.Status)
	}

	// Too recent to be abandoned: another replica could still own it.
	if _, err := a.Regenerate(ctx, "u-1", doc.ID, p.ID); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("fresh in-flight row: expected ErrDocumentBusy, got %v", err)
	}

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()
	got, err := a.Regenerate(ctx, "u-1", doc.ID, p.ID)
	if err != nil {
		t.Fatalf("regenerate after recovery: %v", err)
	}
	if got.Status != domain.DocumentCompleted || got.Content != "# Generated\n\ncontent" || got.ErrorMessage != "" {
		t.Fatalf("unexpected document: %+v", got)
	}
	u, _, _ := s.GetUser(ctx, "u-1")
	if u.CreditsRemaining != 6 {
		t.Fatalf("balance = %d, want 6 (two paid attempts)", u.CreditsRemaining)
	}
}

func TestRegenerateRecoversStalePendingDocument(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocumentAt(t, p.ID, domain.DocumentPending, "", time.Now().UTC().Add(-time.Hour))

	got, err := env.app.Regenerate(context.Background(), "u-1", doc.ID, p.ID)
	if err != nil || got.Status != domain.DocumentCompleted {
		t.Fatalf("regenerate: %+v %v", got, err)
	}
	want := []string{"pending->generating", "generating->error", "error->generating", "generating->completed"}
	if fmt.Sprint(env.store.transitions) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", env.store.transitions, want)
	}
}

func TestConcurrentRegenerateHasSingleWinner(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "A marketplace for rare books")
	doc := env.seedDocument(t, p.ID, domain.DocumentCompleted, "v1")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.gen.reply = func(ai.Request) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "v2", nil
	}

	ctx := context.Background()
	type outcome struct {
		doc domain.ProjectDocument
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		d, err := env.app.Regenerate(ctx, "u-1", doc.ID, p.ID)
		first <- outcome{d, err}
	}()
	<-started

	if _, err := env.app.Regenerate(ctx, "u-1", doc.ID, p.ID); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("second regenerate: expected ErrDocumentBusy, got %v", err)
	}
	close(release)
	res := <-first
	if res.err != nil || res.doc.Status != domain.DocumentCompleted || res.doc.Content != "v2" {
		t.Fatalf("first regenerate: %+v %v", res.doc, res.err)
	}
	if got := env.balance(t); got != 8 {
		t.Fatalf("balance = %d, want 8 (one charge)", got)
	}
	want := []string{"completed->generating", "generating->completed"}
	if fmt.Sprint(env.store.transitions) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", env.store.transitions, want)
	}
}

func TestLifecycleFollowsStateMachine(t *testing.T) {
	env := newTestEnv(t, 20)
	calls := 0
	var mu sync.Mutex
	env.gen.reply = func(ai.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%2 == 0 {
			return "", &ai.ProviderError{Provider: "openai", Message: "boom"}
		}
		return "content", nil
	}
	p := env.project(t, "A marketplace for rare books")
	ctx := context.Background()
	results, err := env.app.RequestDocuments(ctx, "u-1", p.ID, domain.DocumentTypes)
	if err != nil {
		t.Fatalf("request documents: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s: %v", r.Type, r.Err)
		}
		if _, err := env.app.Regenerate(ctx, "u-1", r.Document.ID, p.ID); err != nil {
			t.Fatalf("regenerate %s: %v", r.Type, err)
		}
	}

	allowed := map[string]bool{
		"pending->generating":   true,
		"generating->completed": true,
		"generating->error":     true,
		"completed->generating": true,
		"error->generating":     true,
	}
	// two attempts per document, each entering and leaving generating
	if len(env.store.transitions) != 4*len(domain.DocumentTypes) {
		t.Fatalf("transitions = %d: %v", len(env.store.transitions), env.store.transitions)
	}
	for _, tr := range env.store.transitions {
		if !allowed[tr] {
			t.Fatalf("illegal transition %s", tr)
		}
	}
}

func TestCompleteAndFailGenerationGuards(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "idea")
	ctx := context.Background()
	pending := env.seedDocument(t, p.ID, domain.DocumentPending, "")

	if _, err := env.app.CompleteGeneration(ctx, pending.ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete from pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.app.FailGeneration(ctx, pending.ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail from pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.app.CompleteGeneration(ctx, "missing", "x"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	generating := env.seedDocument(t, p.ID, domain.DocumentGenerating, "")
	first, err := env.app.CompleteGeneration(ctx, generating.ID, "final")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	again, err := env.app.CompleteGeneration(ctx, generating.ID, "final")
	if err != nil {
		t.Fatalf("repeat complete should be a no-op: %v", err)
	}
	if again.UpdatedAt != first.UpdatedAt || again.Content != "final" {
		t.Fatalf("repeat complete changed the document: %+v", again)
	}
	if _, err := env.app.CompleteGeneration(ctx, generating.ID, "different"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete with new content after completion: expected ErrInvalidTransition, got %v", err)
	}
}

func TestProjectOwnership(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "idea")
	ctx := context.Background()
	if _, err := env.app.EnsureUser(ctx, "u-2", "b@example.com"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := env.app.GetProject(ctx, "u-2", p.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.app.RequestDocuments(ctx, "u-2", p.ID, []domain.DocumentType{domain.DocPRD}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEnsureUserAppliesFreeTierDefaults(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	u, err := env.app.EnsureUser(ctx, "new-user", "n@example.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if u.Tier != domain.TierFree || u.CreditsRemaining != 10 || u.ProjectsLimit != 3 {
		t.Fatalf("unexpected defaults: %+v", u)
	}
	_, _, _ = env.store.SpendCredits(ctx, domain.CreditUsage{UserID: "new-user", Action: domain.ActionAIAnswer, Credits: 4})
	again, _ := env.app.EnsureUser(ctx, "new-user", "n@example.com")
	if again.CreditsRemaining != 6 {
		t.Fatalf("existing user was reset: %+v", again)
	}
}

func TestWizardActionsChargeBeforeProvider(t *testing.T) {
	env := newTestEnv(t, 4)
	p := env.project(t, "tool rental")
	ctx := context.Background()
	env.gen.reply = func(req ai.Request) (string, error) {
		return "Peer-to-peer tool rental for neighbours", nil
	}

	refined, balance, err := env.app.RefineIdea(ctx, "u-1", p.ID)
	if err != nil || balance != 3 || refined.RefinedIdea == "" {
		t.Fatalf("refine: %+v %d %v", refined, balance, err)
	}
	answer, balance, err := env.app.SuggestAnswer(ctx, "u-1", p.ID, "targetAudience", "Who is it for?")
	if err != nil || balance != 2 || answer == "" {
		t.Fatalf("suggest: %q %d %v", answer, balance, err)
	}
	got, _ := env.app.GetProject(ctx, "u-1", p.ID)
	if got.Details["targetAudience"] != answer {
		t.Fatalf("answer not saved: %+v", got.Details)
	}

	planned, balance, err := env.app.GeneratePlan(ctx, "u-1", p.ID, PlanInput{
		Idea:    "tool rental",
		Details: got.Details,
		Tools:   []string{"react"},
	})
	if err != nil || balance != 0 || planned.Plan == "" {
		t.Fatalf("plan: %+v %d %v", planned, balance, err)
	}
	if planned.RefinedIdea == "" {
		t.Fatalf("unchanged idea should keep its refinement")
	}

	if _, _, err := env.app.RefineIdea(ctx, "u-1", p.ID); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(env.gen.prompts()) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(env.gen.prompts()))
	}
}

func TestWizardProviderErrorPropagates(t *testing.T) {
	env := newTestEnv(t, 5)
	p := env.project(t, "tool rental")
	env.gen.reply = func(ai.Request) (string, error) {
		return "", &ai.ProviderError{Provider: "openai", Message: "invalid api key"}
	}
	_, balance, err := env.app.RefineIdea(context.Background(), "u-1", p.ID)
	var perr *ai.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}
	got, _ := env.app.GetProject(context.Background(), "u-1", p.ID)
	if got.RefinedIdea != "" {
		t.Fatalf("nothing should be persisted on provider failure")
	}
}

func TestSaveDetailsValidates(t *testing.T) {
	env := newTestEnv(t, 5)
	p := env.project(t, "idea")
	var verr *ValidationError
	if _, err := env.app.SaveDetails(context.Background(), "u-1", p.ID, domain.Details{"1bad": "x"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := env.app.SaveDetails(context.Background(), "u-1", p.ID, domain.Details{"targetAudience": "collectors"})
	if err != nil || got.Details["targetAudience"] != "collectors" {
		t.Fatalf("save details: %+v %v", got, err)
	}
}

func TestLatestDocumentsKeepsNewestPerType(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "idea")
	ctx := context.Background()
	old := env.seedDocument(t, p.ID, domain.DocumentCompleted, "old")
	time.Sleep(2 * time.Millisecond)
	newer := env.seedDocument(t, p.ID, domain.DocumentCompleted, "new")

	all, err := env.app.ListDocuments(ctx, "u-1", p.ID)
	if err != nil || len(all) != 2 || all[0].ID != newer.ID {
		t.Fatalf("list documents: %+v %v", all, err)
	}
	latest, err := env.app.LatestDocuments(ctx, "u-1", p.ID)
	if err != nil || len(latest) != 1 || latest[0].ID != newer.ID || latest[0].ID == old.ID {
		t.Fatalf("latest documents: %+v %v", latest, err)
	}
}

func TestLatestDocumentsBreaksTimestampTies(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "idea")
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, env.seedDocumentAt(t, p.ID, domain.DocumentCompleted, "same", at).ID)
	}
	want := ids[0]
	for _, id := range ids[1:] {
		if id > want {
			want = id
		}
	}
	for i := 0; i < 5; i++ {
		latest, err := env.app.LatestDocuments(ctx, "u-1", p.ID)
		if err != nil || len(latest) != 1 || latest[0].ID != want {
			t.Fatalf("run %d: latest = %+v %v, want id %s", i, latest, err, want)
		}
	}
}

func TestExportDocument(t *testing.T) {
	env := newTestEnv(t, 10)
	p := env.project(t, "idea")
	ctx := context.Background()
	doc := env.seedDocument(t, p.ID, domain.DocumentCompleted, "body")

	if _, err := env.app.ExportDocument(ctx, "u-1", doc.ID); !errors.Is(err, ErrExportDisabled) {
		t.Fatalf("expected ErrExportDisabled, got %v", err)
	}

	objects := storage.NewMemoryStore("exports")
	env.app.objects = objects
	url, err := env.app.ExportDocument(ctx, "u-1", doc.ID)
	if err != nil || url == "" {
		t.Fatalf("export: %q %v", url, err)
	}
	data, ct, ok := objects.Object(storage.DocumentKey(doc))
	if !ok || ct != storage.MarkdownContentType || !strings.Contains(string(data), "body") {
		t.Fatalf("exported object = %q %q %v", data, ct, ok)
	}

	pending := env.seedDocument(t, p.ID, domain.DocumentPending, "")
	if _, err := env.app.ExportDocument(ctx, "u-1", pending.ID); !errors.Is(err, ErrDocumentNotReady) {
		t.Fatalf("expected ErrDocumentNotReady, got %v", err)
	}
}

func TestNewRequiresConfiguredProvider(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), Provider: ai.Config{Provider: "openai", Model: "gpt"}})
	if !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRequestDocumentsHonorsParallelLimit(t *testing.T) {
	s := &recordingStore{MemoryStore: store.NewMemoryStore()}
	var mu sync.Mutex
	inFlight, peak := 0, 0
	gen := &fakeGenerator{reply: func(ai.Request) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "# Doc", nil
	}}
	a, err := New(Config{Store: s, Generator: gen, MaxParallelGenerations: 1})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env := &testEnv{app: a, store: s, gen: gen}
	if _, err := s.EnsureUser(context.Background(), domain.User{ID: "u-1", Tier: domain.TierFree, CreditsRemaining: 10, ProjectsLimit: 3}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	p := env.project(t, "A marketplace for rare books")

	results, err := a.RequestDocuments(context.Background(), "u-1", p.ID,
		[]domain.DocumentType{domain.DocPRD, domain.DocUserFlow, domain.DocArchitecture})
	if err != nil {
		t.Fatalf("request documents: %v", err)
	}
	for _, r := range results {
		if r.Err != nil || r.Document.Status != domain.DocumentCompleted {
			t.Fatalf("%s: expected completed, got %+v", r.Type, r)
		}
	}
	if peak != 1 {
		t.Fatalf("peak concurrent provider calls = %d, want 1", peak)
	}
}
