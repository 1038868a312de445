package handlers

import (
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type AddMemberRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=owner admin collaborator reader"`
}

type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required,oneof=owner admin collaborator reader"`
}

// ListMembers returns all members of a project.
// GET /api/projects/:id/members
func (h *ProjectHandler) ListMembers(c *gin.Context) {
	project, _, ok := h.access(c)
	if !ok {
		return
	}

	members, err := h.projectService.ListMembers(project.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, members)
}

// AddMember
// POST /api/projects/:id/members
func (h *ProjectHandler) AddMember(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	if !member.CanManage() {
		response.Forbidden(c, "only owners can manage members")
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	added, err := h.projectService.AddMember(project.ID, req.UserID, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, added)
}

// UpdateMember changes a member's role.
// PUT /api/projects/:id/members/:memberID
func (h *ProjectHandler) UpdateMember(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	if !member.CanManage() {
		response.Forbidden(c, "only owners can manage members")
		return
	}
	memberID, ok := paramID(c, "memberID")
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.projectService.UpdateMemberRole(project.ID, memberID, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, updated)
}

// RemoveMember
// DELETE /api/projects/:id/members/:memberID
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	project, member, ok := h.access(c)
	if !ok {
		return
	}
	if !member.CanManage() {
		response.Forbidden(c, "only owners can manage members")
		return
	}
	memberID, ok := paramID(c, "memberID")
	if !ok {
		return
	}

	if err := h.projectService.RemoveMember(project.ID, memberID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "member removed"})
}
