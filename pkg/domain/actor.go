package domain

// StructureKind classifies organizational units. Central-administration
// privileges are resolved from the kind rather than from name or path
// matching, keeping the visibility rules total and testable.
type StructureKind string

// Organizational unit kinds.
const (
	// KindLocalUnit is a field unit (departmental agency).
	KindLocalUnit StructureKind = "local_unit"
	// KindRegionalDirectorate oversees local units of one region.
	KindRegionalDirectorate StructureKind = "regional_directorate"
	// KindCentralDirectorate is the national central administration.
	KindCentralDirectorate StructureKind = "central_directorate"
	// KindNationalLaboratory is a national reference laboratory.
	KindNationalLaboratory StructureKind = "national_laboratory"
)

// Structure is an organizational unit that owns records and gates
// visibility. The identity directory resolves structures; the core only
// reads them.
type Structure struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Kind StructureKind `json:"kind"`
}

// IsCentralAdministration reports whether the structure belongs to the
// small fixed set of privileged organizational kinds.
func (s Structure) IsCentralAdministration() bool {
	return s.Kind == KindCentralDirectorate
}

// Role is a capability granted to an actor in addition to what the
// structure kind implies.
type Role string

// Actor roles consumed by the core.
const (
	// RoleAudit allows viewing soft-deleted records.
	RoleAudit Role = "audit"
)

// Actor is the read-only view of the calling user supplied by the
// authentication collaborator: the resolved structure plus role grants.
type Actor struct {
	Structure Structure `json:"structure"`
	Roles     []Role    `json:"roles"`
}

// HasRole reports whether the actor carries the role.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsCentralAdministration reports whether the actor acts for a
// central-administration structure.
func (a Actor) IsCentralAdministration() bool {
	return a.Structure.IsCentralAdministration()
}
