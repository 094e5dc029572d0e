package raci

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Letter is a RACI assignment for a role on a task.
type Letter string

const (
	Responsible Letter = "R"
	Accountable Letter = "A"
	Consulted   Letter = "C"
	Informed    Letter = "I"
)

// Valid reports whether the letter is one of R, A, C, I.
func (l Letter) Valid() bool {
	switch l {
	case Responsible, Accountable, Consulted, Informed:
		return true
	}
	return false
}

// Matrix is the per-project RACI tree. Stages hold tasks; each task maps
// role codes to letters. RoleAssignments pins a role to a concrete user.
type Matrix struct {
	Stages          []Stage           `json:"stages"`
	RoleAssignments map[string]string `json:"role_assignments,omitempty"`
}

type Stage struct {
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

type Task struct {
	Name        string            `json:"name"`
	Roles       map[string]Letter `json:"roles"`
	Status      string            `json:"status,omitempty"`
	Escalations int               `json:"escalations,omitempty"`
}

// Parse decodes and validates a matrix from its stored JSON form.
func Parse(data []byte) (Matrix, error) {
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return Matrix{}, fmt.Errorf("invalid raci matrix json: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

// Validate checks structural rules: non-empty names, unique (stage, task)
// pairs, and letters restricted to R/A/C/I.
func (m Matrix) Validate() error {
	seenStage := map[string]bool{}
	for _, s := range m.Stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("raci matrix contains stage with empty name")
		}
		if seenStage[s.Name] {
			return fmt.Errorf("raci matrix has duplicate stage %q", s.Name)
		}
		seenStage[s.Name] = true
		seenTask := map[string]bool{}
		for _, t := range s.Tasks {
			if strings.TrimSpace(t.Name) == "" {
				return fmt.Errorf("stage %q contains task with empty name", s.Name)
			}
			if seenTask[t.Name] {
				return fmt.Errorf("stage %q has duplicate task %q", s.Name, t.Name)
			}
			seenTask[t.Name] = true
			for role, letter := range t.Roles {
				if strings.TrimSpace(role) == "" {
					return fmt.Errorf("task %q in stage %q has empty role code", t.Name, s.Name)
				}
				if !letter.Valid() {
					return fmt.Errorf("task %q in stage %q assigns invalid letter %q to role %s", t.Name, s.Name, letter, role)
				}
			}
		}
	}
	for role, user := range m.RoleAssignments {
		if strings.TrimSpace(role) == "" || strings.TrimSpace(user) == "" {
			return fmt.Errorf("role_assignments contains empty role or user")
		}
	}
	return nil
}

// Encode returns the canonical stored JSON form.
func (m Matrix) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FindTask returns the task for a (stage, task) pair.
func (m Matrix) FindTask(stage, task string) (Task, bool) {
	for _, s := range m.Stages {
		if s.Name != stage {
			continue
		}
		for _, t := range s.Tasks {
			if t.Name == task {
				return t, true
			}
		}
	}
	return Task{}, false
}

// SetTaskStatus updates the status of a (stage, task) row in place and
// reports whether the row exists.
func (m *Matrix) SetTaskStatus(stage, task, status string) bool {
	for si := range m.Stages {
		if m.Stages[si].Name != stage {
			continue
		}
		for ti := range m.Stages[si].Tasks {
			if m.Stages[si].Tasks[ti].Name == task {
				m.Stages[si].Tasks[ti].Status = status
				return true
			}
		}
	}
	return false
}

// RolesWithLetter returns role codes carrying one of the given letters.
// Map iteration order is not stable; callers needing determinism sort.
func (t Task) RolesWithLetter(letters ...Letter) []string {
	var roles []string
	for role, l := range t.Roles {
		for _, want := range letters {
			if l == want {
				roles = append(roles, role)
				break
			}
		}
	}
	return roles
}

var tgPattern = regexp.MustCompile(`(?i)^TG\s*\(TG\s*(\d+)\)$`)

// CreationTitle derives the generated task title for an R assignment.
// Tollgate rows named "TG (TG n)" become "TG n Trial" instead of the
// generic "<task> Creation". Casing and spacing around the parentheses
// vary in imported matrices, so the match is tolerant of both.
func CreationTitle(taskName string) string {
	if m := tgPattern.FindStringSubmatch(taskName); m != nil {
		return "TG " + m[1] + " Trial"
	}
	return taskName + " Creation"
}

// ReviewTitle derives the generated task title for a C assignment.
func ReviewTitle(taskName string) string {
	return taskName + " Review"
}

// ApprovalTitle derives the generated task title for an A assignment.
func ApprovalTitle(taskName string) string {
	return taskName + " Approval"
}
