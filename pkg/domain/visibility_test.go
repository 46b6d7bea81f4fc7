package domain

import "testing"

func localActor(id string) Actor {
	return Actor{Structure: Structure{ID: id, Kind: KindLocalUnit}}
}

func centralActor(id string) Actor {
	return Actor{Structure: Structure{ID: id, Kind: KindCentralDirectorate}}
}

func auditActor(id string) Actor {
	a := localActor(id)
	a.Roles = []Role{RoleAudit}
	return a
}

func TestCanView(t *testing.T) {
	cases := []struct {
		name   string
		actor  Actor
		record EventBase
		want   bool
	}{
		{
			name:   "creator sees own draft",
			actor:  localActor("dd-01"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusDraft},
			want:   true,
		},
		{
			name:   "draft hidden from other local unit",
			actor:  localActor("dd-02"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusDraft, Visibility: VisibilityNational},
			want:   false,
		},
		{
			name:   "draft hidden from central administration too",
			actor:  centralActor("dg-01"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusDraft},
			want:   false,
		},
		{
			name:   "national visible to any actor",
			actor:  localActor("dd-02"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityNational},
			want:   true,
		},
		{
			name:   "local hidden from other local unit",
			actor:  localActor("dd-02"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityLocal},
			want:   false,
		},
		{
			name:   "local visible to central administration",
			actor:  centralActor("dg-01"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityLocal},
			want:   true,
		},
		{
			name:  "restricted visible to allowed member",
			actor: localActor("dd-02"),
			record: EventBase{
				CreatorStructure:  "dd-01",
				Status:            StatusActive,
				Visibility:        VisibilityRestricted,
				AllowedStructures: []string{"dd-01", "dd-02"},
			},
			want: true,
		},
		{
			name:  "restricted hidden from non-member",
			actor: localActor("dd-03"),
			record: EventBase{
				CreatorStructure:  "dd-01",
				Status:            StatusActive,
				Visibility:        VisibilityRestricted,
				AllowedStructures: []string{"dd-01", "dd-02"},
			},
			want: false,
		},
		{
			name:  "restricted always visible to central administration",
			actor: centralActor("dg-01"),
			record: EventBase{
				CreatorStructure:  "dd-01",
				Status:            StatusActive,
				Visibility:        VisibilityRestricted,
				AllowedStructures: []string{"dd-01"},
			},
			want: true,
		},
		{
			name:   "deleted hidden from creator without audit role",
			actor:  localActor("dd-01"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityNational, Deleted: true},
			want:   false,
		},
		{
			name:   "deleted visible to audit role",
			actor:  auditActor("dd-02"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityLocal, Deleted: true},
			want:   true,
		},
		{
			name:   "closed record follows same scope rules",
			actor:  localActor("dd-02"),
			record: EventBase{CreatorStructure: "dd-01", Status: StatusClosed, Visibility: VisibilityNational},
			want:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(tc.actor, tc.record); got != tc.want {
				t.Fatalf("CanView = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanEditVisibility(t *testing.T) {
	active := EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityLocal}

	cases := []struct {
		name   string
		actor  Actor
		record EventBase
		want   bool
	}{
		{"central administration on active record", centralActor("dg-01"), active, true},
		{"local unit never", localActor("dd-02"), active, false},
		{"creator never self-escalates", localActor("dd-01"), active, false},
		{"central creator does not self-escalate", centralActor("dg-01"), EventBase{CreatorStructure: "dg-01", Status: StatusActive}, false},
		{"never on drafts", centralActor("dg-01"), EventBase{CreatorStructure: "dd-01", Status: StatusDraft}, false},
		{"never once closed", centralActor("dg-01"), EventBase{CreatorStructure: "dd-01", Status: StatusClosed}, false},
		{"never on deleted", centralActor("dg-01"), EventBase{CreatorStructure: "dd-01", Status: StatusActive, Deleted: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanEditVisibility(tc.actor, tc.record); got != tc.want {
				t.Fatalf("CanEditVisibility = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEffectiveVisibilityChoices(t *testing.T) {
	record := EventBase{CreatorStructure: "dd-01", Status: StatusActive, Visibility: VisibilityLocal}
	if choices := EffectiveVisibilityChoices(localActor("dd-02"), record); choices != nil {
		t.Fatalf("expected no choices for local unit, got %v", choices)
	}
	choices := EffectiveVisibilityChoices(centralActor("dg-01"), record)
	if len(choices) != 3 {
		t.Fatalf("expected all three scopes, got %v", choices)
	}
}

func TestNormalizeAllowedStructures(t *testing.T) {
	got := NormalizeAllowedStructures(VisibilityRestricted, "dd-01", []string{"dd-02", "dd-01", "", "dd-03", "dd-02"})
	want := []string{"dd-01", "dd-02", "dd-03"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if got := NormalizeAllowedStructures(VisibilityNational, "dd-01", []string{"dd-02"}); got != nil {
		t.Fatalf("expected cleared set for non-restricted scope, got %v", got)
	}
	if got := NormalizeAllowedStructures(VisibilityRestricted, "dd-01", nil); len(got) != 1 || got[0] != "dd-01" {
		t.Fatalf("expected creator-only set, got %v", got)
	}
}
