package integration

import (
	"testing"

	"vigiecore/testutil"
)

func TestStoresStayClearOfAdapters(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "vigiecore/internal/infra/...",
		testutil.AdapterImportForbidden,
		"storage backends must not depend on delivery adapters")
}
