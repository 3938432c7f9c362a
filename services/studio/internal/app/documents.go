package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ideaforge/internal/keylock"
	"ideaforge/internal/metrics"
	"ideaforge/internal/util"
	"ideaforge/pkg/ai"
	"ideaforge/pkg/domain"
	"ideaforge/pkg/ledger"
	"ideaforge/pkg/store"
)

const (
	defaultFailureMessage = "generation failed"
	interruptedMessage    = "generation interrupted"
)

var (
	startFromNew   = []domain.DocumentStatus{domain.DocumentPending}
	startFromFinal = []domain.DocumentStatus{domain.DocumentCompleted, domain.DocumentError}
	inFlight       = []domain.DocumentStatus{domain.DocumentGenerating}
)

// DocumentResult is the outcome for one requested document type. Document is
// zero when the type was declined before a row was created.
type DocumentResult struct {
	Type     domain.DocumentType
	Document domain.ProjectDocument
	Err      error
}

// RequestDocuments charges document_generation and creates a pending row for
// each type in request order, then generates the created rows concurrently.
// Each type succeeds or fails on its own; a provider failure is recorded on
// that document and does not touch the others.
func (a *App) RequestDocuments(ctx context.Context, userID, projectID string, types []domain.DocumentType) ([]DocumentResult, error) {
	types, err := normalizeTypes(types)
	if err != nil {
		return nil, err
	}
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.EffectiveIdea()) == "" {
		return nil, invalid("idea", "is required before generating documents")
	}

	type job struct {
		idx    int
		doc    domain.ProjectDocument
		unlock keylock.Unlock
	}
	results := make([]DocumentResult, len(types))
	jobs := make([]job, 0, len(types))
	for i, t := range types {
		results[i].Type = t
		doc, unlock, err := a.openDocument(ctx, userID, p, t)
		if err != nil {
			results[i].Err = err
			if errors.Is(err, ErrInsufficientCredits) {
				a.metrics.Generation(string(t), metrics.OutcomeDeclined, 0)
			}
			continue
		}
		results[i].Document = doc
		jobs = append(jobs, job{idx: i, doc: doc, unlock: unlock})
	}

	// Generation outlives a disconnected client; the provider timeout bounds it.
	genCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	if a.maxParallel > 0 {
		g.SetLimit(a.maxParallel)
	}
	for _, j := range jobs {
		g.Go(func() error {
			defer j.unlock()
			doc, err := a.generate(genCtx, j.doc, p, startFromNew)
			results[j.idx].Document = doc
			results[j.idx].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// openDocument takes the lock for a fresh document id, charges for it and
// creates its pending row. The returned unlock must be called once generation
// has reached a terminal state.
func (a *App) openDocument(ctx context.Context, userID string, p domain.Project, t domain.DocumentType) (domain.ProjectDocument, keylock.Unlock, error) {
	id := util.NewID()
	unlock, ok, err := a.locker.TryLock(ctx, documentLockKey(id))
	if err != nil {
		return domain.ProjectDocument{}, nil, persistErr("lock document", err)
	}
	if !ok {
		return domain.ProjectDocument{}, nil, ErrDocumentBusy
	}
	if _, err := a.charge(ctx, ledger.Charge{UserID: userID, Action: domain.ActionDocumentGeneration, ProjectID: p.ID, DocumentID: id}); err != nil {
		unlock()
		return domain.ProjectDocument{}, nil, err
	}
	now := a.timestamp()
	doc := domain.ProjectDocument{
		ID:        id,
		ProjectID: p.ID,
		Title:     t.Title(),
		Type:      t,
		Status:    domain.DocumentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		unlock()
		util.LoggerFromContext(ctx).Error("document row not created after charge", "document_id", id, "project_id", p.ID, "type", t, "err", err)
		return domain.ProjectDocument{}, nil, persistErr("create document", err)
	}
	return doc, unlock, nil
}

// Regenerate re-runs generation for an existing document against the
// project's current data. The charge happens before anything else changes; a
// declined charge leaves the document as it was.
func (a *App) Regenerate(ctx context.Context, userID, documentID, projectID string) (domain.ProjectDocument, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.ProjectDocument{}, invalid("documentId", "is required")
	}
	doc, err := a.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if doc.ProjectID != p.ID {
		return domain.ProjectDocument{}, ErrDocumentNotFound
	}
	if strings.TrimSpace(p.EffectiveIdea()) == "" {
		return domain.ProjectDocument{}, invalid("idea", "is required before generating documents")
	}

	unlock, ok, err := a.locker.TryLock(ctx, documentLockKey(doc.ID))
	if err != nil {
		return domain.ProjectDocument{}, persistErr("lock document", err)
	}
	if !ok {
		return doc, ErrDocumentBusy
	}
	defer unlock()

	// Re-read under the lock: another request may have just finished.
	doc, err = a.loadDocument(ctx, doc.ID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if !doc.Status.Terminal() {
		// Holding the lock means no call is working on this row. A stale
		// in-flight status is left over from an attempt whose final save failed.
		if !a.stale(doc) {
			return doc, ErrDocumentBusy
		}
		if doc, err = a.abandon(ctx, doc); err != nil {
			return doc, err
		}
	}
	if _, err := a.charge(ctx, ledger.Charge{UserID: userID, Action: domain.ActionDocumentRegeneration, ProjectID: p.ID, DocumentID: doc.ID}); err != nil {
		return doc, err
	}
	return a.generate(context.WithoutCancel(ctx), doc, p, startFromFinal)
}

// generate moves doc into generating, calls the provider and records the
// terminal state. The returned error is non-nil only when the lifecycle itself
// could not proceed; a provider failure yields the errored document.
func (a *App) generate(ctx context.Context, doc domain.ProjectDocument, p domain.Project, from []domain.DocumentStatus) (domain.ProjectDocument, error) {
	logger := util.LoggerFromContext(ctx).With("document_id", doc.ID, "project_id", doc.ProjectID, "type", doc.Type)
	cleared := ""
	started, err := a.store.TransitionDocument(ctx, doc.ID, from, store.DocumentUpdate{
		Status:       domain.DocumentGenerating,
		ErrorMessage: &cleared,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			logger.Warn("document changed state before generation", "status", started.Status)
			return started, ErrDocumentBusy
		}
		return doc, storeErr("start generation", err)
	}

	begin := time.Now()
	content, genErr := a.docs.Generate(ctx, doc.Type, p)
	took := time.Since(begin)
	if genErr != nil {
		failed, err := a.FailGeneration(ctx, doc.ID, failureMessage(genErr))
		a.metrics.Generation(string(doc.Type), metrics.OutcomeFailed, took)
		logger.Warn("document generation failed", "err", genErr, "duration_ms", took.Milliseconds())
		if err != nil {
			return started, err
		}
		return failed, nil
	}
	done, err := a.CompleteGeneration(ctx, doc.ID, content)
	if err != nil {
		logger.Error("document result not saved", "err", err)
		return started, err
	}
	a.metrics.Generation(string(doc.Type), metrics.OutcomeCompleted, took)
	logger.Info("document generated", "chars", len(content), "duration_ms", took.Milliseconds())
	return done, nil
}

func (a *App) stale(doc domain.ProjectDocument) bool {
	last := doc.UpdatedAt
	if last.IsZero() {
		last = doc.CreatedAt
	}
	return a.timestamp().Sub(last) > a.staleAfter
}

// abandon records an interrupted attempt as failed, walking pending rows
// through generating so every step stays a legal transition.
func (a *App) abandon(ctx context.Context, doc domain.ProjectDocument) (domain.ProjectDocument, error) {
	util.LoggerFromContext(ctx).Warn("recovering interrupted generation",
		"document_id", doc.ID, "status", doc.Status, "updated_at", doc.UpdatedAt)
	if doc.Status == domain.DocumentPending {
		started, err := a.store.TransitionDocument(ctx, doc.ID, startFromNew, store.DocumentUpdate{Status: domain.DocumentGenerating})
		if err != nil {
			return started, transitionErr("recover generation", started.Status, domain.DocumentGenerating, err)
		}
	}
	return a.FailGeneration(ctx, doc.ID, interruptedMessage)
}

// CompleteGeneration stores content and marks the document completed. Calling
// it again with the same content is a no-op.
func (a *App) CompleteGeneration(ctx context.Context, documentID, content string) (domain.ProjectDocument, error) {
	doc, err := a.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if doc.Status == domain.DocumentCompleted && doc.Content == content {
		return doc, nil
	}
	cleared := ""
	updated, err := a.store.TransitionDocument(ctx, doc.ID, inFlight, store.DocumentUpdate{
		Status:       domain.DocumentCompleted,
		Content:      &content,
		ErrorMessage: &cleared,
	})
	if err != nil {
		return updated, transitionErr("complete generation", updated.Status, domain.DocumentCompleted, err)
	}
	if err := a.markProjectCompleted(ctx, updated.ProjectID); err != nil {
		return updated, err
	}
	return updated, nil
}

// FailGeneration marks the document errored. Existing content is kept so a
// failed regeneration never loses the previous version.
func (a *App) FailGeneration(ctx context.Context, documentID, message string) (domain.ProjectDocument, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultFailureMessage
	}
	doc, err := a.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if doc.Status == domain.DocumentError && doc.ErrorMessage == message {
		return doc, nil
	}
	updated, err := a.store.TransitionDocument(ctx, doc.ID, inFlight, store.DocumentUpdate{
		Status:       domain.DocumentError,
		ErrorMessage: &message,
	})
	if err != nil {
		return updated, transitionErr("fail generation", updated.Status, domain.DocumentError, err)
	}
	return updated, nil
}

// GetDocument returns one document of a project the caller owns.
func (a *App) GetDocument(ctx context.Context, userID, documentID string) (domain.ProjectDocument, error) {
	doc, err := a.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if _, err := a.ownedProject(ctx, userID, doc.ProjectID); err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return domain.ProjectDocument{}, ErrDocumentNotFound
		}
		return domain.ProjectDocument{}, err
	}
	return doc, nil
}

// ListDocuments returns every row of a project, newest first.
func (a *App) ListDocuments(ctx context.Context, userID, projectID string) ([]domain.ProjectDocument, error) {
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	docs, err := a.store.ListDocumentsByProject(ctx, p.ID)
	if err != nil {
		return nil, persistErr("list documents", err)
	}
	return docs, nil
}

// LatestDocuments keeps the newest row per type, in display order.
func (a *App) LatestDocuments(ctx context.Context, userID, projectID string) ([]domain.ProjectDocument, error) {
	docs, err := a.ListDocuments(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	latest := make(map[domain.DocumentType]domain.ProjectDocument, len(domain.DocumentTypes))
	for _, d := range docs {
		if cur, ok := latest[d.Type]; !ok || newerDocument(d, cur) {
			latest[d.Type] = d
		}
	}
	out := make([]domain.ProjectDocument, 0, len(latest))
	for _, t := range domain.DocumentTypes {
		if d, ok := latest[t]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// newerDocument orders rows by creation, then last update, then id, so equal
// timestamps still pick the same row every time.
func newerDocument(d, than domain.ProjectDocument) bool {
	if !d.CreatedAt.Equal(than.CreatedAt) {
		return d.CreatedAt.After(than.CreatedAt)
	}
	if !d.UpdatedAt.Equal(than.UpdatedAt) {
		return d.UpdatedAt.After(than.UpdatedAt)
	}
	return d.ID > than.ID
}

func (a *App) loadDocument(ctx context.Context, id string) (domain.ProjectDocument, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.ProjectDocument{}, persistErr("load document", err)
	}
	if !ok {
		return domain.ProjectDocument{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (a *App) markProjectCompleted(ctx context.Context, projectID string) error {
	p, ok, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return persistErr("load project", err)
	}
	if !ok || p.Status == domain.ProjectCompleted {
		return nil
	}
	status := domain.ProjectCompleted
	if _, err := a.store.UpdateProject(ctx, projectID, domain.ProjectPatch{Status: &status}); err != nil {
		return persistErr("complete project", err)
	}
	return nil
}

func transitionErr(op string, current, target domain.DocumentStatus, err error) error {
	if errors.Is(err, store.ErrStatusConflict) {
		return &transitionError{from: current, to: target}
	}
	return storeErr(op, err)
}

func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrDocumentNotFound
	}
	return persistErr(op, err)
}

type transitionError struct {
	from, to domain.DocumentStatus
}

func (e *transitionError) Error() string {
	return ErrInvalidTransition.Error() + ": " + string(e.from) + " -> " + string(e.to)
}

func (e *transitionError) Unwrap() error {
	return ErrInvalidTransition
}

func failureMessage(err error) string {
	var perr *ai.ProviderError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return err.Error()
}

func documentLockKey(id string) string {
	return "document:" + id
}

func normalizeTypes(types []domain.DocumentType) ([]domain.DocumentType, error) {
	if len(types) == 0 {
		return nil, invalid("types", "at least one document type is required")
	}
	seen := make(map[domain.DocumentType]struct{}, len(types))
	out := make([]domain.DocumentType, 0, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, invalid("types", "unknown document type %q", t)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
