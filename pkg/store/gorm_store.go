package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ideaforge/pkg/domain"
)

const migrateLockID int64 = 41170219

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := migrate(tx); err != nil {
			return err
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'project_documents'
					AND constraint_name = 'project_documents_project_id_fkey'
				) THEN
					ALTER TABLE project_documents
					ADD CONSTRAINT project_documents_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure document foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// migrate creates the tables. It sticks to what every GORM dialect supports;
// Postgres-only constraints are added by NewGormStore.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserModel{}, &ProjectModel{}, &DocumentModel{}, &CreditUsageModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// EnsureUser inserts u when no row exists for its ID and returns the stored user.
func (s *GormStore) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	stored, ok, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return stored, nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SpendCredits decrements the balance with a floor check in the UPDATE itself,
// so concurrent spends serialize on the row lock and cannot overdraw.
func (s *GormStore) SpendCredits(ctx context.Context, usage domain.CreditUsage) (int, bool, error) {
	balance := 0
	debited := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).
			Where("id = ? AND credits_remaining >= ?", usage.UserID, usage.Credits).
			Updates(map[string]any{
				"credits_remaining": gorm.Expr("credits_remaining - ?", usage.Credits),
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		var model UserModel
		if err := tx.Select("credits_remaining").First(&model, "id = ?", usage.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		balance = model.CreditsRemaining
		if res.RowsAffected == 0 {
			return nil
		}
		logRow := usageToModel(usage)
		if err := tx.Create(&logRow).Error; err != nil {
			return fmt.Errorf("append usage log: %w", err)
		}
		debited = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return balance, debited, nil
}

// ListCreditUsage returns the newest usage rows for a user.
func (s *GormStore) ListCreditUsage(ctx context.Context, userID string, limit int) ([]domain.CreditUsage, error) {
	var models []CreditUsageModel
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CreditUsage, 0, len(models))
	for _, m := range models {
		res = append(res, usageFromModel(m))
	}
	return res, nil
}

// CreateProject inserts a new project.
func (s *GormStore) CreateProject(ctx context.Context, p domain.Project) error {
	model := projectToModel(p)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(ctx context.Context, id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// UpdateProject writes only the fields set on patch.
func (s *GormStore) UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) (domain.Project, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Idea != nil {
		updates["idea"] = *patch.Idea
	}
	if patch.RefinedIdea != nil {
		updates["refined_idea"] = *patch.RefinedIdea
	}
	if patch.SelectedTools != nil {
		raw, _ := json.Marshal(patch.SelectedTools)
		updates["selected_tools"] = datatypes.JSON(raw)
	}
	if patch.Details != nil {
		raw, _ := json.Marshal(patch.Details)
		updates["details"] = datatypes.JSON(raw)
	}
	if patch.Plan != nil {
		updates["plan"] = *patch.Plan
	}
	res := s.db.WithContext(ctx).Model(&ProjectModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.Project{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Project{}, ErrNotFound
	}
	p, ok, err := s.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

// ListProjectsByOwner returns an owner's projects, newest first.
func (s *GormStore) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// CountProjectsByOwner is a count-only read.
func (s *GormStore) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ProjectModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateDocument inserts a document row.
func (s *GormStore) CreateDocument(ctx context.Context, d domain.ProjectDocument) error {
	model := documentToModel(d)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.ProjectDocument, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProjectDocument{}, false, nil
		}
		return domain.ProjectDocument{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByProject returns a project's documents, newest first.
func (s *GormStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]domain.ProjectDocument, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC, updated_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProjectDocument, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// TransitionDocument is a compare-and-set on the status column.
func (s *GormStore) TransitionDocument(ctx context.Context, id string, from []domain.DocumentStatus, update DocumentUpdate) (domain.ProjectDocument, error) {
	expected := make([]string, 0, len(from))
	for _, st := range from {
		expected = append(expected, string(st))
	}
	updates := map[string]any{
		"status":     string(update.Status),
		"updated_at": time.Now().UTC(),
	}
	if update.Content != nil {
		updates["content"] = *update.Content
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return domain.ProjectDocument{}, res.Error
	}
	doc, ok, err := s.GetDocument(ctx, id)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if !ok {
		return domain.ProjectDocument{}, ErrNotFound
	}
	if res.RowsAffected == 0 {
		return doc, ErrStatusConflict
	}
	return doc, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:               u.ID,
		Email:            u.Email,
		Tier:             string(u.Tier),
		CreditsRemaining: u.CreditsRemaining,
		ProjectsLimit:    u.ProjectsLimit,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:               m.ID,
		Email:            m.Email,
		Tier:             domain.Tier(m.Tier),
		CreditsRemaining: m.CreditsRemaining,
		ProjectsLimit:    m.ProjectsLimit,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	tools, _ := json.Marshal(p.SelectedTools)
	details, _ := json.Marshal(p.Details)
	return ProjectModel{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		Name:          p.Name,
		Status:        string(p.Status),
		Idea:          p.Idea,
		RefinedIdea:   p.RefinedIdea,
		SelectedTools: tools,
		Details:       details,
		Plan:          p.Plan,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	var tools []string
	if len(m.SelectedTools) > 0 {
		_ = json.Unmarshal(m.SelectedTools, &tools)
	}
	var details domain.Details
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &details)
	}
	return domain.Project{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Name:          m.Name,
		Status:        domain.ProjectStatus(m.Status),
		Idea:          m.Idea,
		RefinedIdea:   m.RefinedIdea,
		SelectedTools: tools,
		Details:       details,
		Plan:          m.Plan,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func documentToModel(d domain.ProjectDocument) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		Title:        d.Title,
		Type:         string(d.Type),
		Content:      d.Content,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.ProjectDocument {
	return domain.ProjectDocument{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Title:        m.Title,
		Type:         domain.DocumentType(m.Type),
		Content:      m.Content,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func usageToModel(u domain.CreditUsage) CreditUsageModel {
	return CreditUsageModel{
		ID:         u.ID,
		UserID:     u.UserID,
		ProjectID:  u.ProjectID,
		DocumentID: u.DocumentID,
		Action:     string(u.Action),
		Credits:    u.Credits,
		CreatedAt:  u.CreatedAt,
	}
}

func usageFromModel(m CreditUsageModel) domain.CreditUsage {
	return domain.CreditUsage{
		ID:         m.ID,
		UserID:     m.UserID,
		ProjectID:  m.ProjectID,
		DocumentID: m.DocumentID,
		Action:     domain.CreditAction(m.Action),
		Credits:    m.Credits,
		CreatedAt:  m.CreatedAt,
	}
}
