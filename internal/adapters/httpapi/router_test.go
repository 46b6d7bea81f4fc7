package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vigiecore/internal/core"
	"vigiecore/internal/infra/persistence/memory"
	"vigiecore/pkg/domain"
)

// newTestRouter pins the clock to 2025 but lets it tick forward one second
// per read, so optimistic tokens actually go stale between writes.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	var ticks atomic.Int64
	clock := func() time.Time {
		return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC).Add(time.Duration(ticks.Add(1)) * time.Second)
	}
	store := memory.NewStore(core.DefaultRulesEngine())
	store.SetNowFunc(clock)
	svc := core.NewService(store, core.WithClock(clock))
	return NewRouter(svc, nil)
}

func withIdentity(req *http.Request, structureID string, kind domain.StructureKind, roles string) *http.Request {
	req.Header.Set(headerStructureID, structureID)
	req.Header.Set(headerStructureKind, string(kind))
	if roles != "" {
		req.Header.Set(headerRoles, roles)
	}
	return req
}

func doJSON(t *testing.T, router http.Handler, req *http.Request, wantStatus int, out any) {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s = %d, want %d (body %s)", req.Method, req.URL.Path, rr.Code, wantStatus, rr.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
		}
	}
}

func createReport(t *testing.T, router http.Handler, structureID string) domain.SimpleReport {
	t.Helper()
	body := bytes.NewBufferString(`{"suspected_hazard":"xylella","commodity":"olive"}`)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/records/simple_report", body), structureID, domain.KindLocalUnit, "")
	var created domain.SimpleReport
	doJSON(t, router, req, http.StatusCreated, &created)
	return created
}

func TestMissingIdentityHeaders(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	doJSON(t, router, req, http.StatusUnauthorized, nil)

	// A structure id without a recognized kind is rejected too.
	req = httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.Header.Set(headerStructureID, "dd-01")
	req.Header.Set(headerStructureKind, "squad")
	doJSON(t, router, req, http.StatusUnauthorized, nil)
}

func TestCreateAndGetRecord(t *testing.T) {
	router := newTestRouter(t)
	created := createReport(t, router, "dd-01")

	if created.Number.Year != 2025 || created.Number.Sequence != 1 {
		t.Fatalf("unexpected allocated number: %+v", created.Number)
	}
	if created.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", created.Status)
	}

	var fetched domain.SimpleReport
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/records/simple_report/"+created.ID, nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, &fetched)
	if fetched.ID != created.ID || fetched.SuspectedHazard != "xylella" {
		t.Fatalf("fetched mismatch: %+v", fetched)
	}

	// Foreign drafts 404 rather than 403.
	req = withIdentity(httptest.NewRequest(http.MethodGet, "/api/records/simple_report/"+created.ID, nil), "dd-02", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusNotFound, nil)

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/api/records/saucer_sighting", bytes.NewBufferString(`{}`)), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusBadRequest, nil)
}

func TestLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(t)
	created := createReport(t, router, "dd-01")
	path := "/api/records/simple_report/" + created.ID

	var published domain.SimpleReport
	req := withIdentity(httptest.NewRequest(http.MethodPost, path+"/publish", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, &published)
	if published.Status != domain.StatusActive || published.Visibility != domain.VisibilityLocal {
		t.Fatalf("publish result: %+v", published.EventBase)
	}

	// Double publish maps invalid state onto 409.
	req = withIdentity(httptest.NewRequest(http.MethodPost, path+"/publish", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusConflict, nil)

	// Close then soft delete.
	req = withIdentity(httptest.NewRequest(http.MethodPost, path+"/close", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, nil)
	req = withIdentity(httptest.NewRequest(http.MethodDelete, path, nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, nil)

	// Undelete requires the audit role; without it the record never existed.
	req = withIdentity(httptest.NewRequest(http.MethodPost, path+"/undelete", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusNotFound, nil)
	req = withIdentity(httptest.NewRequest(http.MethodPost, path+"/undelete", nil), "dd-02", domain.KindLocalUnit, "audit")
	doJSON(t, router, req, http.StatusOK, nil)
}

func TestUpdateWithConcurrencyToken(t *testing.T) {
	router := newTestRouter(t)
	created := createReport(t, router, "dd-01")
	path := "/api/records/simple_report/" + created.ID

	var updated domain.SimpleReport
	req := withIdentity(httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"narrative":"confirmed"}`)), "dd-01", domain.KindLocalUnit, "")
	req.Header.Set(headerExpected, created.UpdatedAt.Format(time.RFC3339Nano))
	doJSON(t, router, req, http.StatusOK, &updated)
	if updated.Narrative != "confirmed" || updated.SuspectedHazard != "xylella" {
		t.Fatalf("partial update broken: %+v", updated)
	}

	// Replaying the stale token conflicts.
	req = withIdentity(httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"narrative":"late"}`)), "dd-01", domain.KindLocalUnit, "")
	req.Header.Set(headerExpected, created.UpdatedAt.Format(time.RFC3339Nano))
	doJSON(t, router, req, http.StatusConflict, nil)

	req = withIdentity(httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"narrative":"x"}`)), "dd-01", domain.KindLocalUnit, "")
	req.Header.Set(headerExpected, "yesterday")
	doJSON(t, router, req, http.StatusBadRequest, nil)

	// The token header is mandatory on content edits.
	req = withIdentity(httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"narrative":"x"}`)), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusBadRequest, nil)
}

func TestVisibilityEndpoint(t *testing.T) {
	router := newTestRouter(t)
	created := createReport(t, router, "dd-01")
	path := "/api/records/simple_report/" + created.ID

	req := withIdentity(httptest.NewRequest(http.MethodPost, path+"/publish", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, nil)

	// The creator cannot change its own record's scope.
	body := bytes.NewBufferString(`{"visibility":"national"}`)
	req = withIdentity(httptest.NewRequest(http.MethodPut, path+"/visibility", body), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusForbidden, nil)

	var updated domain.SimpleReport
	body = bytes.NewBufferString(`{"visibility":"restricted","allowed_structures":["dd-02"]}`)
	req = withIdentity(httptest.NewRequest(http.MethodPut, path+"/visibility", body), "dg-01", domain.KindCentralDirectorate, "")
	doJSON(t, router, req, http.StatusOK, &updated)
	if updated.Visibility != domain.VisibilityRestricted || len(updated.AllowedStructures) != 2 {
		t.Fatalf("visibility update: %+v", updated.EventBase)
	}
}

func TestListAndLinkEndpoints(t *testing.T) {
	router := newTestRouter(t)
	first := createReport(t, router, "dd-01")
	second := createReport(t, router, "dd-01")

	var page core.Page
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/records?family=simple_report&order_by=number&asc=true", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, &page)
	if page.Total != 2 || len(page.Rows) != 2 {
		t.Fatalf("expected both drafts for creator, got %+v", page)
	}
	if page.Rows[0].Number.Sequence != 1 || page.Rows[1].Number.Sequence != 2 {
		t.Fatalf("ascending order broken: %+v", page.Rows)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/api/records?page=x", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusBadRequest, nil)

	link := fmt.Sprintf(`{"a":{"family":"simple_report","id":%q},"b":{"family":"simple_report","id":%q}}`, first.ID, second.ID)
	req = withIdentity(httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(link)), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusCreated, nil)

	var neighbors struct {
		Links []domain.RecordRef `json:"links"`
	}
	req = withIdentity(httptest.NewRequest(http.MethodGet, "/api/records/simple_report/"+first.ID+"/links", nil), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, &neighbors)
	if len(neighbors.Links) != 1 || neighbors.Links[0].ID != second.ID {
		t.Fatalf("expected link to second draft, got %+v", neighbors.Links)
	}

	req = withIdentity(httptest.NewRequest(http.MethodDelete, "/api/links", bytes.NewBufferString(link)), "dd-01", domain.KindLocalUnit, "")
	doJSON(t, router, req, http.StatusOK, nil)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	doJSON(t, router, req, http.StatusOK, nil)
}
