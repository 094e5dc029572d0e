package policy

import (
	"errors"
	"testing"

	"docline/internal/config"
)

func TestResolveDefaultCatalog(t *testing.T) {
	r := FromConfig(config.Default("proj-1"))
	p, err := r.Resolve("PDD")
	if err != nil {
		t.Fatalf("resolve PDD: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.Steps))
	}
	if p.Steps[0].Role != "quality_manager" || p.Steps[1].Role != "business_owner" {
		t.Fatalf("unexpected roles: %+v", p.Steps)
	}
	if p.FinalStep() != 2 {
		t.Fatalf("final step = %d, want 2", p.FinalStep())
	}
}

func TestResolveUnknownType(t *testing.T) {
	r := FromConfig(config.Default("proj-1"))
	_, err := r.Resolve("NOPE")
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.DocType != "NOPE" {
		t.Fatalf("doc type %s", nf.DocType)
	}
}

func TestFinalStepIgnoresOptional(t *testing.T) {
	p := Policy{DocType: "X", Steps: []Step{
		{StepNo: 1, Role: "quality_manager"},
		{StepNo: 2, Role: "business_owner", Optional: true},
	}}
	if p.FinalStep() != 1 {
		t.Fatalf("final step = %d, want 1", p.FinalStep())
	}
}

func TestResolveRejectsGappedSteps(t *testing.T) {
	r := Resolver{Catalog: map[string]config.Policy{
		"BAD": {Steps: []config.PolicyStep{{Step: 1, Role: "a"}, {Step: 3, Role: "b"}}},
	}}
	if _, err := r.Resolve("BAD"); err == nil {
		t.Fatalf("expected contiguity error")
	}
}
