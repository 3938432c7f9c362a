package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID               string    `gorm:"primaryKey"`
	Email            string    `gorm:"index"`
	Tier             string    `gorm:"not null;default:free"`
	CreditsRemaining int       `gorm:"not null;default:0;check:credits_remaining >= 0"`
	ProjectsLimit    int       `gorm:"not null;default:3"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ProjectModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Name          string `gorm:"not null"`
	Status        string `gorm:"not null"`
	Idea          string `gorm:"type:text;not null"`
	RefinedIdea   string `gorm:"type:text"`
	SelectedTools datatypes.JSON
	Details       datatypes.JSON
	Plan          string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string { return "projects" }

type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	ProjectID    string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Type         string `gorm:"not null"`
	Content      string `gorm:"type:text"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "project_documents" }

type CreditUsageModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	ProjectID  string `gorm:"index"`
	DocumentID string
	Action     string    `gorm:"not null"`
	Credits    int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (CreditUsageModel) TableName() string { return "credit_usage_log" }
