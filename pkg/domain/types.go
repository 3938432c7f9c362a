package domain

import "time"

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectCompleted ProjectStatus = "completed"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentGenerating DocumentStatus = "generating"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentError      DocumentStatus = "error"
)

// Terminal reports whether a generation attempt has finished.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentCompleted || s == DocumentError
}

type DocumentType string

const (
	DocPRD          DocumentType = "prd"
	DocUserFlow     DocumentType = "user_flow"
	DocArchitecture DocumentType = "architecture"
	DocSchema       DocumentType = "schema"
	DocAPISpec      DocumentType = "api_spec"
)

// DocumentTypes lists every supported document type in display order.
var DocumentTypes = []DocumentType{DocPRD, DocUserFlow, DocArchitecture, DocSchema, DocAPISpec}

var documentTitles = map[DocumentType]string{
	DocPRD:          "Product Requirements Document",
	DocUserFlow:     "User Flow",
	DocArchitecture: "System Architecture",
	DocSchema:       "Database Schema",
	DocAPISpec:      "API Specification",
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	_, ok := documentTitles[t]
	return ok
}

// Title returns the human readable document title.
func (t DocumentType) Title() string {
	if title, ok := documentTitles[t]; ok {
		return title
	}
	return string(t)
}

type CreditAction string

const (
	ActionIdeaRefinement       CreditAction = "idea_refinement"
	ActionAIAnswer             CreditAction = "ai_answer"
	ActionPlanGeneration       CreditAction = "plan_generation"
	ActionDocumentGeneration   CreditAction = "document_generation"
	ActionDocumentRegeneration CreditAction = "document_regeneration"
)

// CreditActions lists every metered action.
var CreditActions = []CreditAction{
	ActionIdeaRefinement,
	ActionAIAnswer,
	ActionPlanGeneration,
	ActionDocumentGeneration,
	ActionDocumentRegeneration,
}

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	Tier             Tier      `json:"tier"`
	CreditsRemaining int       `json:"creditsRemaining"`
	ProjectsLimit    int       `json:"projectsLimit"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Project struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	Name          string        `json:"name"`
	Status        ProjectStatus `json:"status"`
	Idea          string        `json:"idea"`
	RefinedIdea   string        `json:"refinedIdea,omitempty"`
	SelectedTools []string      `json:"selectedTools"`
	Details       Details       `json:"details"`
	Plan          string        `json:"plan,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// EffectiveIdea prefers the refined idea when one was accepted.
func (p Project) EffectiveIdea() string {
	if p.RefinedIdea != "" {
		return p.RefinedIdea
	}
	return p.Idea
}

// ProjectPatch is a partial project update; nil fields are left unchanged.
type ProjectPatch struct {
	Name          *string
	Status        *ProjectStatus
	Idea          *string
	RefinedIdea   *string
	SelectedTools []string
	Details       Details
	Plan          *string
}

type ProjectDocument struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectId"`
	Title        string         `json:"title"`
	Type         DocumentType   `json:"type"`
	Content      string         `json:"content"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type CreditUsage struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	ProjectID  string       `json:"projectId,omitempty"`
	DocumentID string       `json:"documentId,omitempty"`
	Action     CreditAction `json:"action"`
	Credits    int          `json:"credits"`
	CreatedAt  time.Time    `json:"createdAt"`
}
