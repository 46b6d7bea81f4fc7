package core

import (
	"context"
	"testing"
	"time"
)

// seedCollection creates a mixed set of records: three national actives from
// dd-01 (report, investigation, detection), one active local zone and one
// draft product event from dd-02.
func seedCollection(t *testing.T, svc *Service) (creatorA, creatorB Actor, reports []RecordRef) {
	t.Helper()
	ctx := context.Background()
	creatorA = unit("dd-01")
	creatorB = unit("dd-02")
	admin := central("dg-01")

	report, _, err := svc.CreateSimpleReport(ctx, creatorA, SimpleReport{
		SuspectedHazard: "xylella fastidiosa",
		ReceivedAt:      time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	inv, _, err := svc.CreateInvestigation(ctx, creatorA, Investigation{
		LeadInspector: "durand",
		OpenedAt:      time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create investigation: %v", err)
	}
	det, _, err := svc.CreateDetectionSheet(ctx, creatorA, DetectionSheet{
		PestName:  "xylella fastidiosa",
		SampledAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create detection: %v", err)
	}
	zone, _, err := svc.CreateZoneSheet(ctx, creatorB, ZoneSheet{
		ZoneName:   "zone sud",
		DeclaredAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	if _, _, err := svc.CreateProductEvent(ctx, creatorB, ProductEvent{ProductName: "cheese"}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	for _, ref := range []RecordRef{
		{Family: FamilySimpleReport, ID: report.ID},
		{Family: FamilyInvestigation, ID: inv.ID},
		{Family: FamilyDetectionSheet, ID: det.ID},
	} {
		if _, _, err := svc.Publish(ctx, creatorA, ref); err != nil {
			t.Fatalf("publish %v: %v", ref, err)
		}
		if _, _, err := svc.UpdateVisibility(ctx, admin, ref, VisibilityNational, nil); err != nil {
			t.Fatalf("visibility %v: %v", ref, err)
		}
		reports = append(reports, ref)
	}
	if _, _, err := svc.Publish(ctx, creatorB, RecordRef{Family: FamilyZoneSheet, ID: zone.ID}); err != nil {
		t.Fatalf("publish zone: %v", err)
	}
	return creatorA, creatorB, reports
}

func TestListMergesFamiliesInNumberOrder(t *testing.T) {
	svc := newTestService(t)
	creatorA, _, _ := seedCollection(t, svc)

	// dd-01 sees its three national records plus nothing of dd-02: the zone
	// stays local and the product event is a foreign draft.
	page, err := svc.List(context.Background(), creatorA, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Rows) != 3 {
		t.Fatalf("expected 3 visible rows, got total=%d rows=%d", page.Total, len(page.Rows))
	}
	// Default order: number descending.
	for i := 0; i < len(page.Rows)-1; i++ {
		if page.Rows[i].Number.Compare(page.Rows[i+1].Number) <= 0 {
			t.Fatalf("rows out of order: %v", page.Rows)
		}
	}
	if page.Rows[0].RenderedNumber == "" || page.Rows[0].FamilyLabel == "" {
		t.Fatalf("display projection incomplete: %+v", page.Rows[0])
	}
}

func TestListVisibilityPerActor(t *testing.T) {
	svc := newTestService(t)
	_, creatorB, _ := seedCollection(t, svc)

	// dd-02 sees the three national records plus its own zone and draft.
	page, err := svc.List(context.Background(), creatorB, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected 5 rows for dd-02, got %d", page.Total)
	}

	// Central administration sees everything except the foreign draft.
	page, err = svc.List(context.Background(), central("dg-01"), ListRequest{})
	if err != nil {
		t.Fatalf("central list: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("expected 4 rows for central administration, got %d", page.Total)
	}
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	creatorA, _, _ := seedCollection(t, svc)
	ctx := context.Background()

	page, err := svc.List(ctx, creatorA, ListRequest{Families: []Family{FamilyInvestigation}})
	if err != nil {
		t.Fatalf("family filter: %v", err)
	}
	if page.Total != 1 || page.Rows[0].Family != FamilyInvestigation {
		t.Fatalf("expected single investigation, got %+v", page.Rows)
	}

	// Unknown family tags are ignored, not rejected.
	page, err = svc.List(ctx, creatorA, ListRequest{Families: []Family{FamilyInvestigation, Family("outbreak_cluster")}})
	if err != nil {
		t.Fatalf("unknown family: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("unknown tag changed the result: %+v", page.Rows)
	}

	page, err = svc.List(ctx, creatorA, ListRequest{Search: "XYLELLA"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected report and detection for search, got %d", page.Total)
	}

	// The rendered number is searchable too.
	page, err = svc.List(ctx, creatorA, ListRequest{Search: "inv-2025.2"})
	if err != nil {
		t.Fatalf("number search: %v", err)
	}
	if page.Total != 1 || page.Rows[0].Family != FamilyInvestigation {
		t.Fatalf("expected number match, got %+v", page.Rows)
	}

	page, err = svc.List(ctx, creatorA, ListRequest{CreatorStructure: "dd-02"})
	if err != nil {
		t.Fatalf("creator filter: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("dd-01 must not see dd-02 records here, got %d", page.Total)
	}

	page, err = svc.List(ctx, creatorA, ListRequest{Year: 2024})
	if err != nil {
		t.Fatalf("year filter: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected no rows for 2024, got %d", page.Total)
	}
}

func TestListOrderByKeyDate(t *testing.T) {
	svc := newTestService(t)
	creatorA, _, _ := seedCollection(t, svc)

	page, err := svc.List(context.Background(), creatorA, ListRequest{OrderBy: OrderByKeyDate, Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page.Rows))
	}
	for i := 0; i < len(page.Rows)-1; i++ {
		if page.Rows[i].KeyDate.After(page.Rows[i+1].KeyDate) {
			t.Fatalf("key dates out of order: %v", page.Rows)
		}
	}
}

func TestListPagination(t *testing.T) {
	svc := newTestService(t)
	creatorA, _, _ := seedCollection(t, svc)
	ctx := context.Background()

	first, err := svc.List(ctx, creatorA, ListRequest{Size: 2, Ascending: true})
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	second, err := svc.List(ctx, creatorA, ListRequest{Size: 2, Page: 1, Ascending: true})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first.Rows) != 2 || len(second.Rows) != 1 {
		t.Fatalf("expected 2+1 rows, got %d and %d", len(first.Rows), len(second.Rows))
	}
	if first.Total != 3 || second.Total != 3 {
		t.Fatalf("total must count the whole union, got %d/%d", first.Total, second.Total)
	}
	if first.Rows[1].Number.Compare(second.Rows[0].Number) >= 0 {
		t.Fatalf("pages overlap or skip: %v then %v", first.Rows, second.Rows)
	}

	empty, err := svc.List(ctx, creatorA, ListRequest{Size: 2, Page: 5})
	if err != nil {
		t.Fatalf("far page: %v", err)
	}
	if len(empty.Rows) != 0 || empty.Total != 3 {
		t.Fatalf("expected empty page with stable total, got %+v", empty)
	}
}

func TestListDeletedRequiresAuditRole(t *testing.T) {
	svc := newTestService(t)
	creatorA, _, refs := seedCollection(t, svc)
	ctx := context.Background()

	if _, _, err := svc.SoftDelete(ctx, creatorA, refs[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	page, err := svc.List(ctx, creatorA, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("deleted record must drop out, got %d", page.Total)
	}

	// The flag alone is not enough without the audit role.
	page, err = svc.List(ctx, creatorA, ListRequest{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list with flag: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("non-audit actor must not see deleted rows, got %d", page.Total)
	}

	page, err = svc.List(ctx, audit("dd-03"), ListRequest{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	// dd-03 sees the two national actives plus the deleted one.
	if page.Total != 3 {
		t.Fatalf("expected deleted row for audit actor, got %d", page.Total)
	}
}
