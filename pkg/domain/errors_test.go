package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestTypedErrorsRenderAndMatch(t *testing.T) {
	cases := []struct {
		err     error
		target  any
		wantSub string
	}{
		{NotFoundError{Family: FamilyInvestigation, ID: "inv-1"}, &NotFoundError{}, "not found"},
		{NotFoundError{ID: "x"}, &NotFoundError{}, "record x not found"},
		{PermissionError{Op: "publish", Family: FamilySimpleReport, ID: "sr-1", Structure: "dd-02"}, &PermissionError{}, "not permitted"},
		{InvalidStateError{Op: "close", Family: FamilyZoneSheet, ID: "zd-1", Current: StatusDraft}, &InvalidStateError{}, "in status draft"},
		{PreconditionError{Op: "close", Family: FamilySimpleReport, ID: "sr-1", Reason: "open follow-up"}, &PreconditionError{}, "open follow-up"},
		{ConflictError{Family: FamilyProductEvent, ID: "prd-1"}, &ConflictError{}, "modified concurrently"},
	}
	for _, tc := range cases {
		if !strings.Contains(tc.err.Error(), tc.wantSub) {
			t.Fatalf("error %q missing %q", tc.err.Error(), tc.wantSub)
		}
		if !errors.As(tc.err, tc.target) {
			t.Fatalf("errors.As failed for %T", tc.err)
		}
	}
}
