package core

import (
	"container/heap"
	"sort"
	"strings"
	"time"

	"vigiecore/pkg/domain"
)

// OrderField names a sortable column of the virtual collection.
type OrderField string

// Sortable fields. OrderByNumber is the default and also the universal
// tie-breaker, which keeps the cross-family order total and stable.
const (
	OrderByNumber  OrderField = "number"
	OrderByKeyDate OrderField = "key_date"
	OrderByCreator OrderField = "creator"
	OrderByStatus  OrderField = "status"
)

// ListRequest carries the filters, ordering and pagination of one List call.
type ListRequest struct {
	// Families restricts the union; empty means every registered family.
	// Unknown tags are ignored rather than rejected so that filters saved
	// before a new family ships keep working.
	Families []Family
	Statuses []Status
	Year     int
	// CreatorStructure filters on the creating structure id.
	CreatorStructure string
	// Search matches case-insensitively against family-specific
	// sub-fields and the rendered registry number. Families lacking a
	// given sub-field simply never match on it.
	Search string
	// IncludeDeleted lists soft-deleted records too; honored only for
	// actors holding the audit role.
	IncludeDeleted bool
	OrderBy        OrderField
	// Ascending flips the default descending order.
	Ascending bool
	// Page is zero-based; Size defaults to DefaultPageSize.
	Page int
	Size int
}

// DefaultPageSize bounds a page when the caller does not pick a size.
const DefaultPageSize = 25

// MaxPageSize caps caller-supplied page sizes.
const MaxPageSize = 500

// DisplayRow is the common projection every family row is normalized to.
type DisplayRow struct {
	Family           Family         `json:"family"`
	FamilyLabel      string         `json:"family_label"`
	ID               string         `json:"id"`
	Number           RegistryNumber `json:"number"`
	RenderedNumber   string         `json:"rendered_number"`
	CreatorStructure string         `json:"creator_structure"`
	Status           Status         `json:"status"`
	Visibility       Visibility     `json:"visibility"`
	KeyDate          time.Time      `json:"key_date"`
}

// Page is one slice of the globally ordered union.
type Page struct {
	Rows  []DisplayRow `json:"rows"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

var familyLabels = map[Family]string{
	FamilySimpleReport:   "Simple report",
	FamilyInvestigation:  "Investigation",
	FamilyDetectionSheet: "Detection sheet",
	FamilyZoneSheet:      "Delimited zone",
	FamilyProductEvent:   "Product event",
}

func displayRow(record EventRecord) DisplayRow {
	base := record.Base()
	family := record.Family()
	return DisplayRow{
		Family:           family,
		FamilyLabel:      familyLabels[family],
		ID:               base.ID,
		Number:           base.Number,
		RenderedNumber:   base.Number.Render(family),
		CreatorStructure: base.CreatorStructure,
		Status:           base.Status,
		Visibility:       base.Visibility,
		KeyDate:          record.KeyDate(),
	}
}

// compareRows orders two rows under the requested field. The registry
// number always breaks ties so the global order stays total even across
// families sharing a key date or creator.
func compareRows(a, b DisplayRow, field OrderField, ascending bool) bool {
	less := func(cmp int) bool {
		if cmp == 0 {
			// Tie-break on (year, sequence) descending per the
			// collection's canonical order.
			return a.Number.Compare(b.Number) > 0
		}
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	switch field {
	case OrderByKeyDate:
		switch {
		case a.KeyDate.Before(b.KeyDate):
			return less(-1)
		case a.KeyDate.After(b.KeyDate):
			return less(1)
		}
		return less(0)
	case OrderByCreator:
		return less(strings.Compare(a.CreatorStructure, b.CreatorStructure))
	case OrderByStatus:
		return less(strings.Compare(string(a.Status), string(b.Status)))
	default:
		return less(a.Number.Compare(b.Number))
	}
}

func matchesSearch(record EventRecord, needle string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	base := record.Base()
	if strings.Contains(strings.ToLower(base.Number.Render(record.Family())), needle) {
		return true
	}
	for _, field := range record.SearchText() {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func matchesFilters(actor Actor, record EventRecord, req ListRequest) bool {
	base := record.Base()
	if base.Deleted {
		if !req.IncludeDeleted || !actor.HasRole(domain.RoleAudit) {
			return false
		}
	}
	if !domain.CanView(actor, base) {
		return false
	}
	if len(req.Statuses) > 0 {
		ok := false
		for _, st := range req.Statuses {
			if base.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if req.Year != 0 && base.Number.Year != req.Year {
		return false
	}
	if req.CreatorStructure != "" && base.CreatorStructure != req.CreatorStructure {
		return false
	}
	return matchesSearch(record, req.Search)
}

// familyCursor walks one family's filtered rows in the shared order.
type familyCursor struct {
	rows []DisplayRow
	pos  int
}

func (c *familyCursor) peek() DisplayRow { return c.rows[c.pos] }
func (c *familyCursor) exhausted() bool  { return c.pos >= len(c.rows) }

// cursorHeap is a min-heap of family cursors keyed by the shared comparator;
// the root always holds the globally next row.
type cursorHeap struct {
	cursors   []*familyCursor
	field     OrderField
	ascending bool
}

func (h *cursorHeap) Len() int { return len(h.cursors) }
func (h *cursorHeap) Less(i, j int) bool {
	return compareRows(h.cursors[i].peek(), h.cursors[j].peek(), h.field, h.ascending)
}
func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *cursorHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*familyCursor)) }
func (h *cursorHeap) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}

func requestedFamilies(req ListRequest) []Family {
	if len(req.Families) == 0 {
		return domain.Families()
	}
	out := make([]Family, 0, len(req.Families))
	seen := make(map[Family]struct{}, len(req.Families))
	for _, f := range req.Families {
		if !domain.KnownFamily(f) {
			continue // unknown tags are forward-compatibility noise
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// listRecords assembles one page of the union. Each family is filtered and
// sorted independently, then a k-way merge over the per-family cursors
// yields the global order. Worst case, every page costs a full filtered and
// sorted fetch from every family; that is the documented price of correct
// pagination over heterogeneous tables without a shared index.
func listRecords(actor Actor, view TransactionView, req ListRequest) (Page, error) {
	size := req.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	pageNum := req.Page
	if pageNum < 0 {
		pageNum = 0
	}
	field := req.OrderBy
	if field == "" {
		field = OrderByNumber
	}

	h := &cursorHeap{field: field, ascending: req.Ascending}
	total := 0
	for _, family := range requestedFamilies(req) {
		var rows []DisplayRow
		for _, record := range view.ListFamily(family) {
			if !matchesFilters(actor, record, req) {
				continue
			}
			rows = append(rows, displayRow(record))
		}
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool {
			return compareRows(rows[i], rows[j], field, req.Ascending)
		})
		total += len(rows)
		h.cursors = append(h.cursors, &familyCursor{rows: rows})
	}
	heap.Init(h)

	page := Page{Page: pageNum, Size: size, Total: total}
	skip := pageNum * size
	for h.Len() > 0 && len(page.Rows) < size {
		cursor := h.cursors[0]
		row := cursor.peek()
		cursor.pos++
		if cursor.exhausted() {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
		if skip > 0 {
			skip--
			continue
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}
