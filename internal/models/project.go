package models

import (
	"time"

	"gorm.io/gorm"
)

// Workflow steps of a film project, in order.
const (
	StepPrompt     = "prompt"
	StepCharacters = "characters"
	StepScenes     = "scenes"
	StepVideo      = "video"
	StepVoiceover  = "voiceover"
	StepExport     = "export"
)

var WorkflowSteps = []string{StepPrompt, StepCharacters, StepScenes, StepVideo, StepVoiceover, StepExport}

// Project is a short film produced through the guided workflow.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Prompt      string         `gorm:"type:text" json:"prompt"`
	Style       string         `gorm:"size:100" json:"style"`
	AspectRatio string         `gorm:"size:10;default:16:9" json:"aspect_ratio"`
	Resolution  string         `gorm:"size:10;default:2k" json:"resolution"`
	CurrentStep string         `gorm:"size:20;default:prompt" json:"current_step"`
	LLMConfigID *uint          `json:"llm_config_id"`
	OwnerID     uint           `gorm:"index;not null" json:"owner_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }

// IsWorkflowStep reports whether step names one of the six workflow steps.
func IsWorkflowStep(step string) bool {
	for _, s := range WorkflowSteps {
		if s == step {
			return true
		}
	}
	return false
}
