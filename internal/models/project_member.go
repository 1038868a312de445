package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	MemberRoleOwner        = "owner"
	MemberRoleAdmin        = "admin"
	MemberRoleCollaborator = "collaborator"
	MemberRoleReader       = "reader"
)

// ProjectMember represents a user's membership and role within a project.
type ProjectMember struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ProjectID uint           `gorm:"uniqueIndex:idx_project_user;not null" json:"project_id"`
	UserID    uint           `gorm:"uniqueIndex:idx_project_user;not null" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      string         `gorm:"size:20;default:reader" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ProjectMember) TableName() string { return "project_members" }

func IsMemberRole(role string) bool {
	switch role {
	case MemberRoleOwner, MemberRoleAdmin, MemberRoleCollaborator, MemberRoleReader:
		return true
	}
	return false
}

// CanGenerate reports whether the role may spend credits on the project.
func (m *ProjectMember) CanGenerate() bool {
	return m.Role != MemberRoleReader
}

// CanManage reports whether the role may edit the project and its members.
func (m *ProjectMember) CanManage() bool {
	return m.Role == MemberRoleOwner || m.Role == MemberRoleAdmin
}
