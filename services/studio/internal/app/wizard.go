package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"ideaforge/internal/util"
	"ideaforge/pkg/domain"
	"ideaforge/pkg/ledger"
	"ideaforge/pkg/quota"
	"ideaforge/pkg/store"
)

const (
	defaultProjectName = "Untitled project"
	maxProjectNameLen  = 120
	maxIdeaLen         = 5000
	maxQuestionLen     = 500
	maxPlanLen         = 100000
	maxTools           = 50
	maxToolLen         = 64
)

// EnsureUser materializes the caller on first sight with free-tier defaults.
// Existing rows are returned unchanged.
func (a *App) EnsureUser(ctx context.Context, userID, email string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, invalid("userId", "is required")
	}
	now := a.timestamp()
	u, err := a.store.EnsureUser(ctx, domain.User{
		ID:               userID,
		Email:            strings.TrimSpace(email),
		Tier:             domain.TierFree,
		CreditsRemaining: a.freeCredits,
		ProjectsLimit:    a.freeProjectsLimit,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return domain.User{}, persistErr("ensure user", err)
	}
	return u, nil
}

// Balance returns the caller's remaining credits as the ledger sees them.
func (a *App) Balance(ctx context.Context, userID string) (int, error) {
	credits, err := a.ledger.Balance(ctx, userID)
	switch {
	case errors.Is(err, ledger.ErrUnknownUser):
		return 0, ErrUserNotFound
	case err != nil:
		return 0, persistErr("load balance", err)
	}
	return credits, nil
}

// CreditHistory lists the newest debits for the caller.
func (a *App) CreditHistory(ctx context.Context, userID string, limit int) ([]domain.CreditUsage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := a.store.ListCreditUsage(ctx, userID, limit)
	if err != nil {
		return nil, persistErr("list credit usage", err)
	}
	return items, nil
}

// CheckLimit reports whether the caller may create another project.
func (a *App) CheckLimit(ctx context.Context, userID string) quota.Result {
	return a.gate.CheckLimit(ctx, userID)
}

// CreateProject starts a wizard session once the limit gate allows it.
func (a *App) CreateProject(ctx context.Context, userID, name, idea string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultProjectName
	}
	if utf8.RuneCountInString(name) > maxProjectNameLen {
		return domain.Project{}, invalid("name", "must be at most %d characters", maxProjectNameLen)
	}
	idea = strings.TrimSpace(idea)
	if utf8.RuneCountInString(idea) > maxIdeaLen {
		return domain.Project{}, invalid("idea", "must be at most %d characters", maxIdeaLen)
	}

	res := a.gate.CheckLimit(ctx, userID)
	if !res.Allowed {
		switch res.Reason {
		case quota.ReasonLimit:
			return domain.Project{}, quota.ErrProjectLimit
		case quota.ReasonUnknownUser:
			return domain.Project{}, ErrUserNotFound
		default:
			return domain.Project{}, persistErr("check project limit", res.Err)
		}
	}

	now := a.timestamp()
	p := domain.Project{
		ID:            util.NewID(),
		OwnerID:       userID,
		Name:          name,
		Status:        domain.ProjectDraft,
		Idea:          idea,
		SelectedTools: []string{},
		Details:       domain.Details{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateProject(ctx, p); err != nil {
		return domain.Project{}, persistErr("create project", err)
	}
	util.LoggerFromContext(ctx).Info("project created", "project_id", p.ID, "user_id", userID, "count", res.Count+1, "limit", res.Limit)
	return p, nil
}

// GetProject returns a project owned by the caller.
func (a *App) GetProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	return a.ownedProject(ctx, userID, projectID)
}

// ListProjects lists the caller's projects, newest first.
func (a *App) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	items, err := a.store.ListProjectsByOwner(ctx, userID)
	if err != nil {
		return nil, persistErr("list projects", err)
	}
	return items, nil
}

// SaveIdea replaces the idea. A previously refined idea no longer matches it
// and is cleared.
func (a *App) SaveIdea(ctx context.Context, userID, projectID, idea string) (domain.Project, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return domain.Project{}, invalid("idea", "is required")
	}
	if utf8.RuneCountInString(idea) > maxIdeaLen {
		return domain.Project{}, invalid("idea", "must be at most %d characters", maxIdeaLen)
	}
	empty := ""
	return a.patchProject(ctx, userID, projectID, domain.ProjectPatch{Idea: &idea, RefinedIdea: &empty})
}

// SaveDetails replaces the structured answers.
func (a *App) SaveDetails(ctx context.Context, userID, projectID string, details domain.Details) (domain.Project, error) {
	if details == nil {
		details = domain.Details{}
	}
	if err := details.Validate(); err != nil {
		return domain.Project{}, invalid("details", "%v", err)
	}
	return a.patchProject(ctx, userID, projectID, domain.ProjectPatch{Details: details})
}

// SetTools replaces the selected tools. Order and duplicates are dropped.
func (a *App) SetTools(ctx context.Context, userID, projectID string, tools []string) (domain.Project, error) {
	normalized, err := normalizeTools(tools)
	if err != nil {
		return domain.Project{}, err
	}
	return a.patchProject(ctx, userID, projectID, domain.ProjectPatch{SelectedTools: normalized})
}

// SavePlan stores a plan the user edited by hand.
func (a *App) SavePlan(ctx context.Context, userID, projectID, plan string) (domain.Project, error) {
	if len(plan) > maxPlanLen {
		return domain.Project{}, invalid("plan", "is too long")
	}
	return a.patchProject(ctx, userID, projectID, domain.ProjectPatch{Plan: &plan})
}

// RefineIdea charges idea_refinement and stores the provider's rewrite.
func (a *App) RefineIdea(ctx context.Context, userID, projectID string) (domain.Project, int, error) {
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return domain.Project{}, 0, err
	}
	if strings.TrimSpace(p.Idea) == "" {
		return domain.Project{}, 0, invalid("idea", "is required before refinement")
	}
	balance, err := a.charge(ctx, ledger.Charge{UserID: userID, Action: domain.ActionIdeaRefinement, ProjectID: p.ID})
	if err != nil {
		return domain.Project{}, balance, err
	}
	refined, err := a.docs.RefineIdea(ctx, p)
	if err != nil {
		return domain.Project{}, balance, err
	}
	updated, err := a.store.UpdateProject(ctx, p.ID, domain.ProjectPatch{RefinedIdea: &refined})
	if err != nil {
		return domain.Project{}, balance, persistErr("save refined idea", err)
	}
	return updated, balance, nil
}

// SuggestAnswer charges ai_answer and drafts an answer for one detail question.
// With a non-empty key the answer is also saved under that detail.
func (a *App) SuggestAnswer(ctx context.Context, userID, projectID, key, question string) (string, int, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", 0, invalid("question", "is required")
	}
	if utf8.RuneCountInString(question) > maxQuestionLen {
		return "", 0, invalid("question", "must be at most %d characters", maxQuestionLen)
	}
	key = strings.TrimSpace(key)
	if key != "" {
		if err := (domain.Details{key: ""}).Validate(); err != nil {
			return "", 0, invalid("key", "%v", err)
		}
	}
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return "", 0, err
	}
	balance, err := a.charge(ctx, ledger.Charge{UserID: userID, Action: domain.ActionAIAnswer, ProjectID: p.ID})
	if err != nil {
		return "", balance, err
	}
	answer, err := a.docs.SuggestAnswer(ctx, p, question)
	if err != nil {
		return "", balance, err
	}
	if key != "" {
		details := p.Details.Clone()
		if details == nil {
			details = domain.Details{}
		}
		details[key] = answer
		if err := details.Validate(); err != nil {
			return answer, balance, invalid("details", "%v", err)
		}
		if _, err := a.store.UpdateProject(ctx, p.ID, domain.ProjectPatch{Details: details}); err != nil {
			return "", balance, persistErr("save suggested answer", err)
		}
	}
	return answer, balance, nil
}

// PlanInput carries the wizard state submitted with a plan request.
type PlanInput struct {
	Idea    string
	Details domain.Details
	Tools   []string
}

// GeneratePlan saves the submitted wizard state, charges plan_generation and
// stores the generated plan.
func (a *App) GeneratePlan(ctx context.Context, userID, projectID string, in PlanInput) (domain.Project, int, error) {
	idea := strings.TrimSpace(in.Idea)
	if idea == "" {
		return domain.Project{}, 0, invalid("idea", "is required")
	}
	if utf8.RuneCountInString(idea) > maxIdeaLen {
		return domain.Project{}, 0, invalid("idea", "must be at most %d characters", maxIdeaLen)
	}
	details := in.Details
	if details == nil {
		details = domain.Details{}
	}
	if err := details.Validate(); err != nil {
		return domain.Project{}, 0, invalid("details", "%v", err)
	}
	tools, err := normalizeTools(in.Tools)
	if err != nil {
		return domain.Project{}, 0, err
	}
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return domain.Project{}, 0, err
	}

	patch := domain.ProjectPatch{Details: details, SelectedTools: tools}
	if idea != p.Idea {
		empty := ""
		patch.Idea = &idea
		patch.RefinedIdea = &empty
	}
	p, err = a.store.UpdateProject(ctx, p.ID, patch)
	if err != nil {
		return domain.Project{}, 0, persistErr("save wizard state", err)
	}

	balance, err := a.charge(ctx, ledger.Charge{UserID: userID, Action: domain.ActionPlanGeneration, ProjectID: p.ID})
	if err != nil {
		return p, balance, err
	}
	plan, err := a.docs.Plan(ctx, p)
	if err != nil {
		return p, balance, err
	}
	p, err = a.store.UpdateProject(ctx, p.ID, domain.ProjectPatch{Plan: &plan})
	if err != nil {
		return domain.Project{}, balance, persistErr("save plan", err)
	}
	return p, balance, nil
}

func (a *App) ownedProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Project{}, invalid("projectId", "is required")
	}
	p, ok, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, persistErr("load project", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	if p.OwnerID != userID {
		return domain.Project{}, ErrForbidden
	}
	return p, nil
}

func (a *App) patchProject(ctx context.Context, userID, projectID string, patch domain.ProjectPatch) (domain.Project, error) {
	p, err := a.ownedProject(ctx, userID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	updated, err := a.store.UpdateProject(ctx, p.ID, patch)
	if err != nil {
		return domain.Project{}, persistErr("update project", err)
	}
	return updated, nil
}

// charge debits the ledger, mapping store failures to PersistenceError.
func (a *App) charge(ctx context.Context, c ledger.Charge) (int, error) {
	balance, err := a.ledger.Spend(ctx, c)
	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, ledger.ErrInsufficientCredits):
		util.LoggerFromContext(ctx).Info("credit charge declined", "user_id", c.UserID, "action", c.Action, "balance", balance)
		return balance, ErrInsufficientCredits
	case errors.Is(err, store.ErrNotFound):
		return 0, ErrUserNotFound
	default:
		return balance, persistErr("spend credits", err)
	}
}

func normalizeTools(tools []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxToolLen {
			return nil, invalid("tools", "tool %q is too long", t)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTools {
		return nil, invalid("tools", "at most %d tools allowed", maxTools)
	}
	sort.Strings(out)
	return out, nil
}
