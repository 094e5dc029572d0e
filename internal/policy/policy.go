package policy

import (
	"fmt"

	"docline/internal/config"
)

// NotFoundError indicates no approval policy exists for a document type.
type NotFoundError struct {
	DocType string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no approval policy for document type %s", e.DocType)
}

// Step is one link of a resolved approval chain.
type Step struct {
	StepNo   int
	Role     string
	Optional bool
}

// Policy is the ordered approval chain resolved for a document type.
type Policy struct {
	DocType string
	Steps   []Step
}

// FinalStep returns the highest step number a required approval can carry.
// Optional steps above it never gate completion.
func (p Policy) FinalStep() int {
	final := 0
	for _, s := range p.Steps {
		if !s.Optional && s.StepNo > final {
			final = s.StepNo
		}
	}
	return final
}

// Resolver resolves document types to approval policies from the
// project's validated config catalog.
type Resolver struct {
	Catalog map[string]config.Policy
}

// FromConfig builds a resolver over a loaded config.
func FromConfig(cfg *config.Config) Resolver {
	if cfg == nil {
		return Resolver{}
	}
	return Resolver{Catalog: cfg.Approvals.Policies}
}

// Resolve returns the policy for a document type. Resolution happens
// fresh on every submission so catalog edits apply to future cycles only.
func (r Resolver) Resolve(docType string) (Policy, error) {
	src, ok := r.Catalog[docType]
	if !ok {
		return Policy{}, NotFoundError{DocType: docType}
	}
	p := Policy{DocType: docType}
	for i, s := range src.Steps {
		if s.Step != i+1 {
			return Policy{}, fmt.Errorf("policy for %s: step numbers must be contiguous from 1", docType)
		}
		p.Steps = append(p.Steps, Step{StepNo: s.Step, Role: s.Role, Optional: s.Optional})
	}
	if len(p.Steps) == 0 {
		return Policy{}, fmt.Errorf("policy for %s has no steps", docType)
	}
	return p, nil
}
