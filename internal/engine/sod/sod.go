// Package sod enforces separation-of-duties rules on approval decisions.
package sod

import (
	"fmt"

	"docline/internal/domain"
)

// Rule names carried by DeniedError so audit facts and API responses can
// say which rule fired.
const (
	RuleAuthorCannotApprove    = "authorCannotApprove"
	RuleReviewerCannotApprove  = "reviewerCannotApprove"
	RuleTemporaryCannotApprove = "temporaryCannotApprove"
)

// DeniedError reports a separation-of-duties violation.
type DeniedError struct {
	Rule string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("separation of duties violation: %s", e.Rule)
}

// CheckAuthor denies an approval decision by the user who created the
// document version.
func CheckAuthor(versionCreator, approver string) error {
	if versionCreator != "" && versionCreator == approver {
		return DeniedError{Rule: RuleAuthorCannotApprove}
	}
	return nil
}

// CheckTemporary denies approval by a temporary member. The flag alone
// disqualifies; expiry of the membership does not lift it.
func CheckTemporary(member domain.ProjectMember) error {
	if member.IsTemporary {
		return DeniedError{Rule: RuleTemporaryCannotApprove}
	}
	return nil
}

// CheckReviewer denies approval by a user who left a review comment on
// the version. The rule fires only on the approver's own comment, not on
// any reviewer-role activity.
func CheckReviewer(hasOwnComment bool) error {
	if hasOwnComment {
		return DeniedError{Rule: RuleReviewerCannotApprove}
	}
	return nil
}
