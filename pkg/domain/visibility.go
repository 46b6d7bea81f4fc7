package domain

// The visibility engine evaluates the ordered access rules shared by every
// family. Rules are evaluated first-match-wins:
//
//  1. deleted records are visible only to audit-capable actors;
//  2. the creating structure always sees its own records, drafts included;
//  3. drafts are invisible to everyone else, central administration too;
//  4. national scope is visible to any authenticated actor;
//  5. restricted scope requires membership of the allowed set (the creator
//     and central-administration structures hold an irrevocable grant);
//  6. local scope is visible to central administration only.

// CanView reports whether the actor may read the record.
func CanView(actor Actor, record EventBase) bool {
	if record.Deleted {
		return actor.HasRole(RoleAudit)
	}
	if actor.Structure.ID == record.CreatorStructure {
		return true
	}
	if record.Status == StatusDraft {
		return false
	}
	switch record.Visibility {
	case VisibilityNational:
		return true
	case VisibilityRestricted:
		if actor.IsCentralAdministration() {
			return true
		}
		for _, id := range record.AllowedStructures {
			if id == actor.Structure.ID {
				return true
			}
		}
		return false
	case VisibilityLocal:
		return actor.IsCentralAdministration()
	}
	return false
}

// CanEditVisibility reports whether the actor may change the record's
// publication scope. Only central administration may, never the creating
// structure (the creator does not self-escalate), never on drafts (scope is
// meaningless pre-publication) and never once closed.
func CanEditVisibility(actor Actor, record EventBase) bool {
	if record.Deleted || record.Status == StatusDraft || record.Status == StatusClosed {
		return false
	}
	if actor.Structure.ID == record.CreatorStructure {
		return false
	}
	return actor.IsCentralAdministration()
}

// EffectiveVisibilityChoices returns the scopes the actor may set on the
// record; empty when the actor may not edit visibility at all.
func EffectiveVisibilityChoices(actor Actor, record EventBase) []Visibility {
	if !CanEditVisibility(actor, record) {
		return nil
	}
	return []Visibility{VisibilityLocal, VisibilityNational, VisibilityRestricted}
}

// NormalizeAllowedStructures computes the stored allowed set for a scope
// change. Restricted scope always keeps the creator's structure in the set;
// any other scope clears it. Central administration is granted by structure
// kind at evaluation time and is not materialized into the set.
func NormalizeAllowedStructures(visibility Visibility, creatorStructure string, requested []string) []string {
	if visibility != VisibilityRestricted {
		return nil
	}
	out := make([]string, 0, len(requested)+1)
	seen := make(map[string]struct{}, len(requested)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(creatorStructure)
	for _, id := range requested {
		add(id)
	}
	return out
}
