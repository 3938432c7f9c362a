package server

import (
	"net/http"
	"strconv"

	"ideaforge/pkg/domain"
	"ideaforge/services/studio/internal/app"
)

type createProjectRequest struct {
	Name string `json:"name" validate:"max=120"`
	Idea string `json:"idea" validate:"max=5000"`
}

type ideaRequest struct {
	Idea string `json:"idea" validate:"required,max=5000"`
}

type detailsRequest struct {
	Details map[string]string `json:"details" validate:"max=40,dive,max=4000"`
}

type toolsRequest struct {
	Tools []string `json:"tools" validate:"max=50,dive,max=64"`
}

type planRequest struct {
	Plan string `json:"plan" validate:"max=100000"`
}

type suggestAnswerRequest struct {
	Key      string `json:"key" validate:"omitempty,max=64"`
	Question string `json:"question" validate:"required,max=500"`
}

type generatePlanRequest struct {
	ProjectID string            `json:"projectId" validate:"required"`
	Idea      string            `json:"idea" validate:"required,min=10,max=5000"`
	Details   map[string]string `json:"details" validate:"max=40"`
	Tools     []string          `json:"tools" validate:"max=50,dive,max=64"`
}

type generateDocumentsRequest struct {
	ProjectID string   `json:"projectId" validate:"required"`
	Types     []string `json:"types" validate:"required,min=1,max=5,dive,oneof=prd user_flow architecture schema api_spec"`
}

type regenerateDocumentRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	ProjectID  string `json:"projectId" validate:"required"`
}

func (s *Server) handleCredits(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeOK(w, http.StatusOK, map[string]any{
		"credits":       user.CreditsRemaining,
		"tier":          user.Tier,
		"projectsLimit": user.ProjectsLimit,
		"costs":         s.app.Costs(),
	})
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.app.CreditHistory(r.Context(), user.ID, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleProjectLimit(w http.ResponseWriter, r *http.Request, user domain.User) {
	res := s.app.CheckLimit(r.Context(), user.ID)
	if res.Err != nil {
		writeAppError(w, r, res.Err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"allowed": res.Allowed,
		"count":   res.Count,
		"limit":   res.Limit,
		"reason":  res.Reason,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.ListProjects(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"projects": items, "count": len(items)})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.CreateProject(r.Context(), user.ID, req.Name, req.Idea)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"project": p})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, user domain.User) {
	p, err := s.app.GetProject(r.Context(), user.ID, r.PathValue("id"))
	writeProject(w, r, p, err)
}

func (s *Server) handleSaveIdea(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req ideaRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.SaveIdea(r.Context(), user.ID, r.PathValue("id"), req.Idea)
	writeProject(w, r, p, err)
}

func (s *Server) handleSaveDetails(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req detailsRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.SaveDetails(r.Context(), user.ID, r.PathValue("id"), domain.Details(req.Details))
	writeProject(w, r, p, err)
}

func (s *Server) handleSetTools(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req toolsRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.SetTools(r.Context(), user.ID, r.PathValue("id"), req.Tools)
	writeProject(w, r, p, err)
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.SavePlan(r.Context(), user.ID, r.PathValue("id"), req.Plan)
	writeProject(w, r, p, err)
}

func writeProject(w http.ResponseWriter, r *http.Request, p domain.Project, err error) {
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"project": p})
}

func (s *Server) handleRefineIdea(w http.ResponseWriter, r *http.Request, user domain.User) {
	p, credits, err := s.app.RefineIdea(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeChargedError(w, r, err, credits)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"refinedIdea": p.RefinedIdea,
		"project":     p,
		"credits":     credits,
	})
}

func (s *Server) handleSuggestAnswer(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req suggestAnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer, credits, err := s.app.SuggestAnswer(r.Context(), user.ID, r.PathValue("id"), req.Key, req.Question)
	if err != nil {
		writeChargedError(w, r, err, credits)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"answer": answer, "credits": credits})
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req generatePlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, credits, err := s.app.GeneratePlan(r.Context(), user.ID, req.ProjectID, app.PlanInput{
		Idea:    req.Idea,
		Details: domain.Details(req.Details),
		Tools:   req.Tools,
	})
	if err != nil {
		writeChargedError(w, r, err, credits)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"plan": p.Plan, "project": p, "credits": credits})
}

type documentResult struct {
	Type     domain.DocumentType     `json:"type"`
	Document *domain.ProjectDocument `json:"document,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Code     string                  `json:"code,omitempty"`
}

// handleGenerateDocuments reports each type separately. The request fails as
// a whole only when no document could be created.
func (s *Server) handleGenerateDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req generateDocumentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	types := make([]domain.DocumentType, 0, len(req.Types))
	for _, t := range req.Types {
		types = append(types, domain.DocumentType(t))
	}
	results, err := s.app.RequestDocuments(r.Context(), user.ID, req.ProjectID, types)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	out := make([]documentResult, 0, len(results))
	var firstErr error
	created := 0
	for _, res := range results {
		item := documentResult{Type: res.Type}
		if res.Document.ID != "" {
			doc := res.Document
			item.Document = &doc
			created++
		}
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			_, item.Code = statusForError(res.Err)
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	if created == 0 && firstErr != nil {
		writeAppError(w, r, firstErr)
		return
	}
	payload := map[string]any{"documents": out}
	if credits, err := s.app.Balance(r.Context(), user.ID); err == nil {
		payload["credits"] = credits
	}
	writeOK(w, http.StatusOK, payload)
}

func (s *Server) handleRegenerateDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req regenerateDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := s.app.Regenerate(r.Context(), user.ID, req.DocumentID, req.ProjectID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	payload := map[string]any{"success": true, "document": doc}
	// A provider failure is recorded on the document, not on the request.
	if doc.Status == domain.DocumentError {
		payload["success"] = false
		payload["error"] = doc.ErrorMessage
		payload["code"] = "PROVIDER_ERROR"
	}
	if credits, err := s.app.Balance(r.Context(), user.ID); err == nil {
		payload["credits"] = credits
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	projectID := r.PathValue("id")
	var (
		docs []domain.ProjectDocument
		err  error
	)
	if r.URL.Query().Get("all") == "true" {
		docs, err = s.app.ListDocuments(r.Context(), user.ID, projectID)
	} else {
		docs, err = s.app.LatestDocuments(r.Context(), user.ID, projectID)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	doc, err := s.app.GetDocument(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	url, err := s.app.ExportDocument(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"url": url})
}
