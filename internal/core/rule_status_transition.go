package core

import (
	"context"
	"fmt"

	"vigiecore/pkg/domain"
)

// StatusTransitionRule blocks illegal lifecycle moves on every family:
// only draft→active and active→closed are legal, closed is terminal, and
// a registry number can never change once assigned.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

var validStatuses = map[Status]struct{}{
	StatusDraft:  {},
	StatusActive: {},
	StatusClosed: {},
}

// legalTransitions holds the allowed (from, to) status pairs.
var legalTransitions = map[Status]map[Status]struct{}{
	StatusDraft:  {StatusActive: {}},
	StatusActive: {StatusClosed: {}},
}

func (statusTransitionRule) Name() string { return "status_transition" }

func (statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	res := Result{}
	block := func(family Family, id, msg string) {
		res.Violations = append(res.Violations, Violation{
			Rule:     "status_transition",
			Severity: SeverityBlock,
			Message:  msg,
			Family:   family,
			RecordID: id,
		})
	}
	for _, change := range changes {
		if change.After == nil {
			continue
		}
		after := change.After.Base()
		if _, ok := validStatuses[after.Status]; !ok {
			block(change.Family, after.ID, fmt.Sprintf("record %s is set to invalid status %s", after.ID, after.Status))
			continue
		}
		if change.Action == domain.ActionCreate {
			if after.Status != StatusDraft {
				block(change.Family, after.ID, fmt.Sprintf("record %s must be created in draft, got %s", after.ID, after.Status))
			}
			continue
		}
		if change.Before == nil {
			continue
		}
		before := change.Before.Base()
		if !before.Number.IsZero() && before.Number != after.Number {
			block(change.Family, after.ID, fmt.Sprintf("record %s registry number is immutable", after.ID))
		}
		if before.Status != after.Status {
			if _, ok := legalTransitions[before.Status][after.Status]; !ok {
				block(change.Family, after.ID, fmt.Sprintf("record %s cannot move from %s to %s", after.ID, before.Status, after.Status))
			}
		}
		if before.Status == StatusClosed && before.Visibility != after.Visibility {
			block(change.Family, after.ID, fmt.Sprintf("record %s visibility is frozen once closed", after.ID))
		}
	}
	return res, nil
}
