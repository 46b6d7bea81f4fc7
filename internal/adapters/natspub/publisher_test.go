package natspub

import (
	"testing"

	"vigiecore/pkg/domain"
)

func TestSubject(t *testing.T) {
	event := domain.Event{
		Type:   domain.EventRecordCreated,
		Family: domain.FamilySimpleReport,
	}

	cases := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "default prefix", prefix: "", want: "vigiecore.events.record_created.simple_report"},
		{name: "custom prefix", prefix: "vigie.staging", want: "vigie.staging.record_created.simple_report"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(nil, tc.prefix)
			if got := p.Subject(event); got != tc.want {
				t.Fatalf("Subject() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	if err := New(nil, "").Close(); err != nil {
		t.Fatalf("Close on unconnected publisher: %v", err)
	}
}
