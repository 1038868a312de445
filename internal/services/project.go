package services

import (
	"errors"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/models"
	"gorm.io/gorm"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectForbidden = errors.New("no access to this project")
	ErrInvalidStep      = errors.New("unknown workflow step")
	ErrInvalidRole      = errors.New("invalid member role")
	ErrLastOwner        = errors.New("a project must keep at least one owner")
)

type ProjectService struct {
	db *gorm.DB
}

func NewProjectService(db *gorm.DB) *ProjectService {
	return &ProjectService{db: db}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Step     string `form:"step"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	AspectRatio string `json:"aspect_ratio" binding:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4"`
	Resolution  string `json:"resolution" binding:"omitempty,oneof=1k hd 2k 4k"`
	LLMConfigID *uint  `json:"llm_config_id"`
}

type UpdateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Prompt      *string `json:"prompt"`
	Style       *string `json:"style"`
	AspectRatio string  `json:"aspect_ratio" binding:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4"`
	Resolution  string  `json:"resolution" binding:"omitempty,oneof=1k hd 2k 4k"`
	CurrentStep string  `json:"current_step"`
	LLMConfigID *uint   `json:"llm_config_id"`
}

// List returns the projects userID owns or is a member of. Admins see all.
func (s *ProjectService) List(req *ProjectListRequest, userID uint, isAdmin bool) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var projects []models.Project
	var total int64

	query := s.db.Model(&models.Project{})
	if !isAdmin {
		query = query.Where("owner_id = ? OR id IN (?)", userID,
			s.db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", userID))
	}
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Step != "" {
		query = query.Where("current_step = ?", req.Step)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("updated_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

func (s *ProjectService) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

// Access loads the project and the caller's membership. The owner and
// admins get an owner/admin membership even without a member row.
func (s *ProjectService) Access(projectID, userID uint, isAdmin bool) (*models.Project, *models.ProjectMember, error) {
	project, err := s.GetByID(projectID)
	if err != nil {
		return nil, nil, err
	}

	var member models.ProjectMember
	err = s.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		switch {
		case project.OwnerID == userID:
			member = models.ProjectMember{ProjectID: projectID, UserID: userID, Role: models.MemberRoleOwner}
		case isAdmin:
			member = models.ProjectMember{ProjectID: projectID, UserID: userID, Role: models.MemberRoleAdmin}
		default:
			return nil, nil, ErrProjectForbidden
		}
	default:
		return nil, nil, err
	}

	if isAdmin && !member.CanManage() {
		member.Role = models.MemberRoleAdmin
	}
	return project, &member, nil
}

// Create stores the project and its owner membership together.
func (s *ProjectService) Create(req *CreateProjectRequest, userID uint) (*models.Project, error) {
	project := models.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Prompt:      req.Prompt,
		Style:       req.Style,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
		CurrentStep: models.StepPrompt,
		LLMConfigID: req.LLMConfigID,
		OwnerID:     userID,
	}
	if project.AspectRatio == "" {
		project.AspectRatio = "16:9"
	}
	if project.Resolution == "" {
		project.Resolution = "2k"
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		return tx.Create(&models.ProjectMember{
			ProjectID: project.ID,
			UserID:    userID,
			Role:      models.MemberRoleOwner,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *ProjectService) Update(id uint, req *UpdateProjectRequest) (*models.Project, error) {
	project, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = strings.TrimSpace(req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Prompt != nil {
		updates["prompt"] = *req.Prompt
	}
	if req.Style != nil {
		updates["style"] = *req.Style
	}
	if req.AspectRatio != "" {
		updates["aspect_ratio"] = req.AspectRatio
	}
	if req.Resolution != "" {
		updates["resolution"] = req.Resolution
	}
	if req.CurrentStep != "" {
		if !models.IsWorkflowStep(req.CurrentStep) {
			return nil, ErrInvalidStep
		}
		updates["current_step"] = req.CurrentStep
	}
	if req.LLMConfigID != nil {
		updates["llm_config_id"] = req.LLMConfigID
	}

	if len(updates) > 0 {
		if err := s.db.Model(project).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// Delete soft-deletes the project. Its ledger rows stay attributed to it.
func (s *ProjectService) Delete(id uint) error {
	result := s.db.Delete(&models.Project{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (s *ProjectService) ListMembers(projectID uint) ([]models.ProjectMember, error) {
	var members []models.ProjectMember
	if err := s.db.Where("project_id = ?", projectID).
		Preload("User").
		Order("id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember adds userID or changes their role when already a member.
func (s *ProjectService) AddMember(projectID, userID uint, role string) (*models.ProjectMember, error) {
	if !models.IsMemberRole(role) {
		return nil, ErrInvalidRole
	}
	if err := s.db.First(&models.User{}, userID).Error; err != nil {
		return nil, err
	}

	var member models.ProjectMember
	err := s.db.Unscoped().Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
	switch {
	case err == nil:
		if err := s.db.Unscoped().Model(&member).Updates(map[string]interface{}{"role": role, "deleted_at": nil}).Error; err != nil {
			return nil, err
		}
		member.Role = role
		member.DeletedAt = gorm.DeletedAt{}
	case errors.Is(err, gorm.ErrRecordNotFound):
		member = models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}
		if err := s.db.Create(&member).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return &member, nil
}

func (s *ProjectService) UpdateMemberRole(projectID, memberID uint, role string) (*models.ProjectMember, error) {
	if !models.IsMemberRole(role) {
		return nil, ErrInvalidRole
	}
	var member models.ProjectMember
	if err := s.db.Where("id = ? AND project_id = ?", memberID, projectID).First(&member).Error; err != nil {
		return nil, err
	}
	if member.Role == models.MemberRoleOwner && role != models.MemberRoleOwner {
		if err := s.ensureAnotherOwner(projectID, member.ID); err != nil {
			return nil, err
		}
	}
	if err := s.db.Model(&member).Update("role", role).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *ProjectService) RemoveMember(projectID, memberID uint) error {
	var member models.ProjectMember
	if err := s.db.Where("id = ? AND project_id = ?", memberID, projectID).First(&member).Error; err != nil {
		return err
	}
	if member.Role == models.MemberRoleOwner {
		if err := s.ensureAnotherOwner(projectID, member.ID); err != nil {
			return err
		}
	}
	return s.db.Delete(&member).Error
}

func (s *ProjectService) ensureAnotherOwner(projectID, exceptID uint) error {
	var owners int64
	if err := s.db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND role = ? AND id <> ?", projectID, models.MemberRoleOwner, exceptID).
		Count(&owners).Error; err != nil {
		return err
	}
	if owners == 0 {
		return ErrLastOwner
	}
	return nil
}
