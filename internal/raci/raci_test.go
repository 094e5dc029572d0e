package raci

import "testing"

func TestParseValidMatrix(t *testing.T) {
	data := []byte(`{
		"stages": [
			{"name": "Design", "tasks": [
				{"name": "PDD", "roles": {"process_engineer": "R", "quality_manager": "A", "business_owner": "C", "operator": "I"}}
			]}
		],
		"role_assignments": {"process_engineer": "alice"}
	}`)
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task, ok := m.FindTask("Design", "PDD")
	if !ok {
		t.Fatalf("task not found")
	}
	if task.Roles["quality_manager"] != Accountable {
		t.Fatalf("expected A for quality_manager, got %s", task.Roles["quality_manager"])
	}
}

func TestParseRejectsInvalidLetter(t *testing.T) {
	data := []byte(`{"stages":[{"name":"Design","tasks":[{"name":"PDD","roles":{"qa":"X"}}]}]}`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected error for letter X")
	}
}

func TestParseRejectsDuplicateTask(t *testing.T) {
	data := []byte(`{"stages":[{"name":"Design","tasks":[
		{"name":"PDD","roles":{"qa":"R"}},
		{"name":"PDD","roles":{"qa":"A"}}
	]}]}`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected duplicate task error")
	}
}

func TestCreationTitleTollgate(t *testing.T) {
	cases := map[string]string{
		"TG (TG 4)":  "TG 4 Trial",
		"TG(TG 4)":   "TG 4 Trial",
		"TG ( TG 2)": "TG ( TG 2) Creation",
		"tg (tg 12)": "TG 12 Trial",
		"PDD":        "PDD Creation",
		"TG (TG)":    "TG (TG) Creation",
	}
	for in, want := range cases {
		if got := CreationTitle(in); got != want {
			t.Errorf("CreationTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRolesWithLetter(t *testing.T) {
	task := Task{Name: "SDD", Roles: map[string]Letter{
		"pe": Responsible, "qm": Accountable, "bo": Consulted, "op": Informed,
	}}
	got := task.RolesWithLetter(Responsible, Accountable)
	if len(got) != 2 {
		t.Fatalf("expected 2 roles, got %v", got)
	}
	if len(task.RolesWithLetter(Informed)) != 1 {
		t.Fatalf("expected informed role present")
	}
}
