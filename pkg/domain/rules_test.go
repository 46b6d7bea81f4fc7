package domain

import (
	"context"
	"testing"
)

type staticRule struct {
	name     string
	severity Severity
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: r.severity}}}, nil
}

type emptyView struct{}

func (emptyView) ListFamily(Family) []EventRecord      { return nil }
func (emptyView) FindRecord(RecordRef) (EventRecord, bool) { return nil, false }
func (emptyView) Links() []FreeLink                    { return nil }

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if (RuleViolationError{Result: result}).Error() == "" {
		t.Fatalf("expected error string")
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{name: "warn", severity: SeverityWarn})
	engine.Register(staticRule{name: "block", severity: SeverityBlock})

	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected both violations, got %+v", res.Violations)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
}
