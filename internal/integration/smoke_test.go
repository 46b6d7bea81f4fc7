// Package integration holds cross-package tests that exercise the service
// against every in-process storage backend. Scope stays deliberately small so
// the suite can run as a fast CI health check.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"vigiecore/internal/core"
	"vigiecore/pkg/domain"
)

func openVariants(t *testing.T) map[string]domain.PersistentStore {
	t.Helper()
	sqliteStore, err := core.NewSQLiteStore(filepath.Join(t.TempDir(), "smoke.db"), core.DefaultRulesEngine())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return map[string]domain.PersistentStore{
		"memory": core.NewMemoryStore(core.DefaultRulesEngine()),
		"sqlite": sqliteStore,
	}
}

func TestSmokeAcrossBackends(t *testing.T) {
	ctx := context.Background()
	unit := domain.Actor{Structure: domain.Structure{ID: "dd-01", Kind: domain.KindLocalUnit}}

	for name, store := range openVariants(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			svc := core.NewService(store)

			report, _, err := svc.CreateSimpleReport(ctx, unit, domain.SimpleReport{
				SuspectedHazard: "xylella",
				Commodity:       "olive",
			})
			if err != nil {
				t.Fatalf("create report: %v", err)
			}
			investigation, _, err := svc.CreateInvestigation(ctx, unit, domain.Investigation{})
			if err != nil {
				t.Fatalf("create investigation: %v", err)
			}
			if investigation.Number.Sequence != report.Number.Sequence+1 {
				t.Fatalf("numbering not contiguous across families: %d then %d",
					report.Number.Sequence, investigation.Number.Sequence)
			}

			reportRef := domain.RecordRef{Family: domain.FamilySimpleReport, ID: report.ID}
			invRef := domain.RecordRef{Family: domain.FamilyInvestigation, ID: investigation.ID}
			if _, _, err := svc.Publish(ctx, unit, reportRef); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if _, err := svc.Link(ctx, unit, reportRef, invRef); err != nil {
				t.Fatalf("link: %v", err)
			}

			neighbors, err := svc.Links(ctx, unit, reportRef)
			if err != nil {
				t.Fatalf("links: %v", err)
			}
			if len(neighbors) != 1 || neighbors[0].ID != investigation.ID {
				t.Fatalf("expected the investigation as sole neighbor, got %+v", neighbors)
			}

			page, err := svc.List(ctx, unit, core.ListRequest{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if page.Total != 2 {
				t.Fatalf("expected both records visible to creator, got %d", page.Total)
			}
		})
	}
}
