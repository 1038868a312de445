package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	projectService *services.ProjectService
}

func NewProjectHandler(projectService *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// access loads the project for the caller, writing the error response when
// the caller may not see it.
func (h *ProjectHandler) access(c *gin.Context) (*models.Project, *models.ProjectMember, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, nil, false
	}
	project, member, err := h.projectService.Access(id, middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	return project, member, true
}

// List returns paginated projects
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(&req, middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}

// GetByID returns a project by ID
// GET /api/projects/:id
func (h *ProjectHandler) GetByID(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"project": project, "role": member.Role})
}

// Create creates a new project owned by the caller
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(&req, middleware.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, project)
}

// Update updates a project. Collaborators may edit content; only
// owners and project admins may rename.
// PUT /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	if !member.CanGenerate() {
		response.Forbidden(c, "readers cannot edit the project")
		return
	}

	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Name != "" && !member.CanManage() {
		response.Forbidden(c, "only owners can rename the project")
		return
	}

	updated, err := h.projectService.Update(project.ID, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, updated)
}

// Delete soft-deletes a project. Its ledger rows keep the project id.
// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	if !member.CanManage() {
		response.Forbidden(c, "only owners can delete the project")
		return
	}

	if err := h.projectService.Delete(project.ID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "project deleted successfully"})
}
