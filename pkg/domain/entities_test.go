package domain

import (
	"testing"
	"time"
)

func TestRegistryNumberRender(t *testing.T) {
	n := RegistryNumber{Year: 2025, Sequence: 14}
	cases := []struct {
		family Family
		want   string
	}{
		{FamilySimpleReport, "SR-2025.14"},
		{FamilyInvestigation, "INV-2025.14"},
		{FamilyDetectionSheet, "DET-2025.14"},
		{FamilyZoneSheet, "ZD-2025.14"},
		{FamilyProductEvent, "PRD-2025.14"},
	}
	for _, tc := range cases {
		if got := n.Render(tc.family); got != tc.want {
			t.Fatalf("Render(%s) = %q, want %q", tc.family, got, tc.want)
		}
	}
}

func TestRegistryNumberCompare(t *testing.T) {
	cases := []struct {
		a, b RegistryNumber
		want int
	}{
		{RegistryNumber{2024, 9}, RegistryNumber{2025, 1}, -1},
		{RegistryNumber{2025, 2}, RegistryNumber{2025, 1}, 1},
		{RegistryNumber{2025, 3}, RegistryNumber{2025, 3}, 0},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
	if !(RegistryNumber{}).IsZero() {
		t.Fatalf("expected zero number to report IsZero")
	}
	if (RegistryNumber{Year: 2025, Sequence: 1}).IsZero() {
		t.Fatalf("assigned number must not report IsZero")
	}
}

func TestKnownFamily(t *testing.T) {
	for _, f := range Families() {
		if !KnownFamily(f) {
			t.Fatalf("expected %s to be known", f)
		}
	}
	if KnownFamily(Family("outbreak_cluster")) {
		t.Fatalf("unexpected family accepted")
	}
}

func TestFreeLinkOther(t *testing.T) {
	a := RecordRef{Family: FamilySimpleReport, ID: "sr-1"}
	b := RecordRef{Family: FamilyZoneSheet, ID: "zd-1"}
	link := FreeLink{A: a, B: b}

	if other, ok := link.Other(a); !ok || other != b {
		t.Fatalf("expected b from a side, got %v ok=%v", other, ok)
	}
	if other, ok := link.Other(b); !ok || other != a {
		t.Fatalf("expected a from b side, got %v ok=%v", other, ok)
	}
	if _, ok := link.Other(RecordRef{Family: FamilyInvestigation, ID: "inv-1"}); ok {
		t.Fatalf("expected no endpoint for foreign ref")
	}
}

func TestHasUnresolvedFollowUp(t *testing.T) {
	base := EventBase{}
	if base.HasUnresolvedFollowUp() {
		t.Fatalf("no contacts means no open follow-up")
	}
	base.Contacts = []Contact{{Ref: "agent-1", FollowUpEnded: true}}
	if base.HasUnresolvedFollowUp() {
		t.Fatalf("ended follow-up must not block")
	}
	base.Contacts = append(base.Contacts, Contact{Ref: "dd-02", Structure: true})
	if !base.HasUnresolvedFollowUp() {
		t.Fatalf("open follow-up must be reported")
	}
}

func TestSearchTextAndKeyDate(t *testing.T) {
	when := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	records := []EventRecord{
		SimpleReport{SuspectedHazard: "xylella", Commodity: "olive", Narrative: "note", ReceivedAt: when},
		Investigation{LeadInspector: "insp", Findings: "trace", OpenedAt: when},
		DetectionSheet{PestName: "xylella fastidiosa", AnalysisMethod: "pcr", LaboratoryRef: "anses", SampledAt: when},
		ZoneSheet{ZoneName: "zone sud", DeclaredAt: when},
		ProductEvent{ProductName: "cheese", LotNumbers: []string{"L1", "L2"}, NotifiedAt: when},
	}
	for _, record := range records {
		if len(record.SearchText()) == 0 {
			t.Fatalf("%s returned no searchable text", record.Family())
		}
		if !record.KeyDate().Equal(when) {
			t.Fatalf("%s key date = %v, want %v", record.Family(), record.KeyDate(), when)
		}
	}
}
