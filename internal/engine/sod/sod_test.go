package sod

import (
	"errors"
	"testing"

	"docline/internal/domain"
)

func TestCheckAuthor(t *testing.T) {
	if err := CheckAuthor("alice", "bob"); err != nil {
		t.Fatalf("different users: %v", err)
	}
	err := CheckAuthor("alice", "alice")
	var denied DeniedError
	if !errors.As(err, &denied) || denied.Rule != RuleAuthorCannotApprove {
		t.Fatalf("expected authorCannotApprove, got %v", err)
	}
}

func TestCheckTemporary(t *testing.T) {
	if err := CheckTemporary(domain.ProjectMember{UserID: "bob"}); err != nil {
		t.Fatalf("permanent member: %v", err)
	}
	future := "2999-01-01T00:00:00Z"
	err := CheckTemporary(domain.ProjectMember{UserID: "bob", IsTemporary: true, ExpiresAt: &future})
	var denied DeniedError
	if !errors.As(err, &denied) || denied.Rule != RuleTemporaryCannotApprove {
		t.Fatalf("expected temporaryCannotApprove even with future expiry, got %v", err)
	}
}

func TestCheckReviewer(t *testing.T) {
	if err := CheckReviewer(false); err != nil {
		t.Fatalf("no own comment: %v", err)
	}
	err := CheckReviewer(true)
	var denied DeniedError
	if !errors.As(err, &denied) || denied.Rule != RuleReviewerCannotApprove {
		t.Fatalf("expected reviewerCannotApprove, got %v", err)
	}
}
