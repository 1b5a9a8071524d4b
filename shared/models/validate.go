package models

import (
	"regexp"
	"strings"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/google/uuid"
)

const (
	MaxTaskTitleLen       = 200
	MaxTaskDescriptionLen = 5000
	MaxCommentLen         = 2000
	MaxProjectNameLen     = 100
	MaxProjectDescLen     = 500
	MaxLabelNameLen       = 50
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func ValidColor(c string) bool {
	return colorRe.MatchString(c)
}

func validateTitle(field, title string, max int) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", shared.NewValidationError(field, "is required")
	}
	if len(title) > max {
		return "", shared.NewValidationError(field, "is too long")
	}
	return title, nil
}

func validateHours(field string, h *float64) error {
	if h != nil && *h < 0 {
		return shared.NewValidationError(field, "must not be negative")
	}
	return nil
}

// Normalize trims the input, fills defaults and checks every field
// constraint. It does not check that referenced entities exist.
func (n *NewTask) Normalize() error {
	title, err := validateTitle("title", n.Title, MaxTaskTitleLen)
	if err != nil {
		return err
	}
	n.Title = title
	n.Description = strings.TrimSpace(n.Description)
	if len(n.Description) > MaxTaskDescriptionLen {
		return shared.NewValidationError("description", "is too long")
	}
	if n.ProjectID == uuid.Nil {
		return shared.NewValidationError("projectId", "is required")
	}
	if n.ReporterID == uuid.Nil {
		return shared.NewValidationError("reporterId", "is required")
	}
	if n.Status == "" {
		n.Status = TaskStatusToDo
	}
	if !n.Status.Valid() {
		return shared.NewValidationError("status", "invalid value "+string(n.Status))
	}
	if n.Priority == "" {
		n.Priority = TaskPriorityMedium
	}
	if !n.Priority.Valid() {
		return shared.NewValidationError("priority", "invalid value "+string(n.Priority))
	}
	return validateHours("estimatedHours", n.EstimatedHours)
}

// Validate checks the fields a patch sets.
func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		title, err := validateTitle("title", *p.Title, MaxTaskTitleLen)
		if err != nil {
			return err
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if len(desc) > MaxTaskDescriptionLen {
			return shared.NewValidationError("description", "is too long")
		}
		p.Description = &desc
	}
	if p.Status != nil && !p.Status.Valid() {
		return shared.NewValidationError("status", "invalid value "+string(*p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return shared.NewValidationError("priority", "invalid value "+string(*p.Priority))
	}
	if p.Position != nil && *p.Position < 0 {
		return shared.NewValidationError("position", "must not be negative")
	}
	if err := validateHours("estimatedHours", p.EstimatedHours); err != nil {
		return err
	}
	return validateHours("actualHours", p.ActualHours)
}

// Normalize fills project defaults and validates the fields.
func (p *Project) Normalize() error {
	name, err := validateTitle("name", p.Name, MaxProjectNameLen)
	if err != nil {
		return err
	}
	p.Name = name
	if len(p.Description) > MaxProjectDescLen {
		return shared.NewValidationError("description", "is too long")
	}
	if p.Status == "" {
		p.Status = ProjectStatusPlanning
	}
	if !p.Status.Valid() {
		return shared.NewValidationError("status", "invalid value "+string(p.Status))
	}
	if p.Color == "" {
		p.Color = DefaultProjectColor
	}
	if !ValidColor(p.Color) {
		return shared.NewValidationError("color", "must look like #rrggbb")
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return shared.NewValidationError("endDate", "must not be before startDate")
	}
	return nil
}

// Apply merges the patch into p and re-validates the result.
func (patch ProjectPatch) Apply(p *Project) error {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Status != nil {
		p.Status = *patch.Status
		if p.Status == "" {
			return shared.NewValidationError("status", "must not be empty")
		}
	}
	if patch.Color != nil {
		p.Color = *patch.Color
		if p.Color == "" {
			return shared.NewValidationError("color", "must not be empty")
		}
	}
	if patch.StartDate != nil {
		p.StartDate = patch.StartDate
	}
	if patch.EndDate != nil {
		p.EndDate = patch.EndDate
	}
	return p.Normalize()
}

func (l *Label) Normalize() error {
	name, err := validateTitle("name", l.Name, MaxLabelNameLen)
	if err != nil {
		return err
	}
	l.Name = name
	if l.Color == "" {
		l.Color = DefaultLabelColor
	}
	if !ValidColor(l.Color) {
		return shared.NewValidationError("color", "must look like #rrggbb")
	}
	return nil
}

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleMember, RoleViewer:
		return true
	}
	return false
}

// NormalizeComment trims content and checks its length.
func NormalizeComment(content string) (string, error) {
	return validateTitle("content", content, MaxCommentLen)
}
