package storage

import (
	"context"
	"errors"
	"testing"
)

func TestExecutionRuleLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := &ExecutionRule{
		Name:      "recent-failures",
		Enabled:   true,
		Criteria:  CriteriaFailedInLast,
		Window:    5,
		Threshold: 0,
		Groups:    []string{"tests/unit/**"},
	}

	if err := store.InsertOrUpdateExecutionRule(ctx, rule); err != nil {
		t.Fatalf("failed to insert rule: %v", err)
	}

	got, err := store.GetExecutionRule(ctx, "recent-failures")
	if err != nil {
		t.Fatalf("failed to get rule: %v", err)
	}

	if got.Criteria != CriteriaFailedInLast || got.Window != 5 {
		t.Errorf("rule = %+v", got)
	}

	if len(got.Groups) != 1 || got.Groups[0] != "tests/unit/**" {
		t.Errorf("groups = %v, want [tests/unit/**]", got.Groups)
	}

	rule.Window = 10
	rule.Enabled = false

	if err := store.InsertOrUpdateExecutionRule(ctx, rule); err != nil {
		t.Fatalf("failed to update rule: %v", err)
	}

	got, err = store.GetExecutionRule(ctx, "recent-failures")
	if err != nil {
		t.Fatalf("failed to get rule: %v", err)
	}

	if got.Window != 10 || got.Enabled {
		t.Errorf("after update: window = %d, enabled = %v", got.Window, got.Enabled)
	}

	if err := store.DeleteExecutionRule(ctx, "recent-failures"); err != nil {
		t.Fatalf("failed to delete rule: %v", err)
	}

	if _, err := store.GetExecutionRule(ctx, "recent-failures"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteUnknownRule(t *testing.T) {
	store := newTestStore(t)

	err := store.DeleteExecutionRule(context.Background(), "no-such-rule")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown rule = %v, want ErrNotFound", err)
	}
}

func TestInsertRuleRejectsUnknownCriteria(t *testing.T) {
	store := newTestStore(t)

	err := store.InsertOrUpdateExecutionRule(context.Background(), &ExecutionRule{
		Name:     "bogus",
		Enabled:  true,
		Criteria: Criteria("sometimes"),
		Window:   1,
	})
	if !errors.Is(err, ErrConstraint) {
		t.Errorf("insert with unknown criteria = %v, want ErrConstraint", err)
	}
}

func TestListExecutionRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rules := []*ExecutionRule{
		{Name: "b-rule", Enabled: true, Criteria: CriteriaAll, Window: 1},
		{Name: "a-rule", Enabled: false, Criteria: CriteriaFailureRate, Window: 10, Threshold: 0.3},
	}

	for _, rule := range rules {
		if err := store.InsertOrUpdateExecutionRule(ctx, rule); err != nil {
			t.Fatalf("failed to insert %s: %v", rule.Name, err)
		}
	}

	all, err := store.ListExecutionRules(ctx, false)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	if len(all) != 2 || all[0].Name != "a-rule" || all[1].Name != "b-rule" {
		t.Errorf("list order = %v", all)
	}

	enabled, err := store.ListExecutionRules(ctx, true)
	if err != nil {
		t.Fatalf("failed to list enabled: %v", err)
	}

	if len(enabled) != 1 || enabled[0].Name != "b-rule" {
		t.Errorf("enabled rules = %v", enabled)
	}
}
