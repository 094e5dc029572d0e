package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models docline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Roles struct {
		Catalog map[string]Role `yaml:"catalog" json:"catalog"`
	} `yaml:"roles" json:"roles"`
	Approvals struct {
		Policies map[string]Policy `yaml:"policies" json:"policies"`
	} `yaml:"approvals" json:"approvals"`
	Tasks struct {
		DefaultDueDays int `yaml:"default_due_days" json:"default_due_days"`
		RemindDays     int `yaml:"remind_days" json:"remind_days"`
	} `yaml:"tasks" json:"tasks"`
}

// Role describes a project role referenced by policies and RACI matrices.
type Role struct {
	Description string `yaml:"description" json:"description"`
}

// Policy is an ordered approval chain for one document type.
type Policy struct {
	Steps []PolicyStep `yaml:"steps" json:"steps"`
}

// PolicyStep is one link of an approval chain.
type PolicyStep struct {
	Step     int    `yaml:"step" json:"step"`
	Role     string `yaml:"role" json:"role"`
	Optional bool   `yaml:"optional" json:"optional,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with dl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Approvals.Policies) == 0 {
		return fmt.Errorf("config.approvals.policies is required")
	}
	for docType, policy := range c.Approvals.Policies {
		if docType == "" {
			return fmt.Errorf("config.approvals.policies contains empty document type")
		}
		if len(policy.Steps) == 0 {
			return fmt.Errorf("policy for %s has no steps", docType)
		}
		for i, step := range policy.Steps {
			if step.Step != i+1 {
				return fmt.Errorf("policy for %s: step numbers must be contiguous from 1, got %d at position %d", docType, step.Step, i+1)
			}
			if step.Role == "" {
				return fmt.Errorf("policy for %s: step %d has empty role", docType, step.Step)
			}
			if len(c.Roles.Catalog) > 0 {
				if _, ok := c.Roles.Catalog[step.Role]; !ok {
					return fmt.Errorf("policy for %s: step %d references unknown role %s", docType, step.Step, step.Role)
				}
			}
		}
	}
	if c.Tasks.DefaultDueDays < 0 {
		return fmt.Errorf("config.tasks.default_due_days must not be negative")
	}
	if c.Tasks.RemindDays < 0 {
		return fmt.Errorf("config.tasks.remind_days must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "docline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""

roles:
  catalog:
    business_owner:
      description: "Business Owner; owns scope and reassignments"
    quality_manager:
      description: "Quality Manager; first approver on governed documents"
    process_engineer:
      description: "Process Engineer; authors design documents"
    validation_lead:
      description: "Validation Lead; owns test and validation evidence"
    operator:
      description: "Operator; executes procedures, informed by default"

approvals:
  policies:
    PDD:
      steps:
        - { step: 1, role: quality_manager }
        - { step: 2, role: business_owner }
    SDD:
      steps:
        - { step: 1, role: quality_manager }
        - { step: 2, role: business_owner }
    TSS:
      steps:
        - { step: 1, role: process_engineer }
        - { step: 2, role: quality_manager }
    TEST_PLAN:
      steps:
        - { step: 1, role: validation_lead }
        - { step: 2, role: quality_manager }
    TEST_REPORT:
      steps:
        - { step: 1, role: validation_lead }
        - { step: 2, role: quality_manager }
    VALIDATION_REPORT:
      steps:
        - { step: 1, role: validation_lead }
        - { step: 2, role: quality_manager }
        - { step: 3, role: business_owner }
    RELEASE_NOTES:
      steps:
        - { step: 1, role: quality_manager }
    CHANGE_REQUEST:
      steps:
        - { step: 1, role: quality_manager }
        - { step: 2, role: business_owner }
    RISK_ASSESSMENT:
      steps:
        - { step: 1, role: quality_manager }
        - { step: 2, role: business_owner }
    SOP:
      steps:
        - { step: 1, role: quality_manager }
    OTHER:
      steps:
        - { step: 1, role: quality_manager, optional: true }

tasks:
  default_due_days: 7
  remind_days: 2
`
