package repository

import (
	"testing"
	"time"
)

func tpl(id string, priority int, createdAt time.Time, mutate func(*ApprovalChainTemplate)) *ApprovalChainTemplate {
	t := &ApprovalChainTemplate{
		ID:        id,
		Name:      id,
		Priority:  priority,
		IsActive:  true,
		CreatedAt: createdAt,
		Steps:     []ChainStepDef{{Order: 1, ApproverID: "approver-1"}},
	}
	if mutate != nil {
		mutate(t)
	}
	return t
}

func TestSpecificityCounting(t *testing.T) {
	category := "cat-1"
	department := "dep-1"
	org := "org-1"
	value := int64(150000)

	catchAll := tpl("catch-all", 0, time.Now(), nil)
	if got := specificity(catchAll, &category, &value, &department, RequestTypeNew, &org); got != 0 {
		t.Fatalf("catch-all specificity = %d, want 0", got)
	}

	specific := tpl("specific", 0, time.Now(), func(tp *ApprovalChainTemplate) {
		tp.AssetCategoryID = &category
		tp.DepartmentID = &department
		rt := RequestTypeNew
		tp.RequestType = &rt
		min := int64(100000)
		tp.MinValue = &min
	})
	if got := specificity(specific, &category, &value, &department, RequestTypeNew, &org); got != 4 {
		t.Fatalf("specificity = %d, want 4 (category, value bound, department, type)", got)
	}

	// A value bound only scores when a value was supplied.
	if got := specificity(specific, &category, nil, &department, RequestTypeNew, &org); got != 3 {
		t.Fatalf("specificity without value = %d, want 3", got)
	}
	if got := specificity(specific, &category, &value, &department, RequestTypeNew, nil); got != 4 {
		t.Fatalf("specificity without org = %d, want 4", got)
	}
}

func TestPickMostSpecificRanking(t *testing.T) {
	category := "cat-1"
	now := time.Now()

	catchAll := tpl("catch-all", 10, now, nil)
	byCategory := tpl("by-category", 0, now, func(tp *ApprovalChainTemplate) {
		tp.AssetCategoryID = &category
	})

	// Specificity beats priority.
	got := pickMostSpecific(
		[]*ApprovalChainTemplate{catchAll, byCategory},
		&category, nil, nil, RequestTypeNew, nil,
	)
	if got == nil || got.ID != "by-category" {
		t.Fatalf("picked %v, want by-category", got)
	}

	// Ties break on priority.
	lowPriority := tpl("low", 1, now, func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	highPriority := tpl("high", 5, now, func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	got = pickMostSpecific(
		[]*ApprovalChainTemplate{lowPriority, highPriority},
		&category, nil, nil, RequestTypeNew, nil,
	)
	if got == nil || got.ID != "high" {
		t.Fatalf("picked %v, want high", got)
	}

	// Then on age, older first.
	older := tpl("older", 1, now.Add(-time.Hour), func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	newer := tpl("newer", 1, now, func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	got = pickMostSpecific(
		[]*ApprovalChainTemplate{newer, older},
		&category, nil, nil, RequestTypeNew, nil,
	)
	if got == nil || got.ID != "older" {
		t.Fatalf("picked %v, want older", got)
	}

	// Then on id, so the result is a total order.
	a := tpl("a", 1, now, func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	b := tpl("b", 1, now, func(tp *ApprovalChainTemplate) { tp.AssetCategoryID = &category })
	got = pickMostSpecific(
		[]*ApprovalChainTemplate{b, a},
		&category, nil, nil, RequestTypeNew, nil,
	)
	if got == nil || got.ID != "a" {
		t.Fatalf("picked %v, want a", got)
	}

	// No candidates means no template, not an error.
	if got := pickMostSpecific(nil, &category, nil, nil, RequestTypeNew, nil); got != nil {
		t.Fatalf("picked %v from empty candidates, want nil", got)
	}
}
