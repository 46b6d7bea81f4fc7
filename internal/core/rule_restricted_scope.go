package core

import (
	"context"
	"fmt"

	"vigiecore/pkg/domain"
)

// RestrictedScopeRule enforces the allowed-structures invariant: the set is
// non-empty and contains the creating structure iff the record is
// restricted, and is cleared on any transition away from restricted scope.
func RestrictedScopeRule() domain.Rule {
	return restrictedScopeRule{}
}

type restrictedScopeRule struct{}

func (restrictedScopeRule) Name() string { return "restricted_scope" }

func (restrictedScopeRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	res := Result{}
	block := func(family Family, id, msg string) {
		res.Violations = append(res.Violations, Violation{
			Rule:     "restricted_scope",
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
		if after.Visibility == VisibilityRestricted {
			if len(after.AllowedStructures) == 0 {
				block(change.Family, after.ID, fmt.Sprintf("restricted record %s has no allowed structures", after.ID))
				continue
			}
			creatorIncluded := false
			for _, id := range after.AllowedStructures {
				if id == after.CreatorStructure {
					creatorIncluded = true
					break
				}
			}
			if !creatorIncluded {
				block(change.Family, after.ID, fmt.Sprintf("restricted record %s must keep its creating structure in the allowed set", after.ID))
			}
			continue
		}
		if len(after.AllowedStructures) != 0 {
			block(change.Family, after.ID, fmt.Sprintf("record %s carries allowed structures outside restricted scope", after.ID))
		}
	}
	return res, nil
}

// DefaultRulesEngine returns an engine with the registry invariants wired.
func DefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule())
	engine.Register(RestrictedScopeRule())
	return engine
}
