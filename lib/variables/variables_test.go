package variables

import (
	"scrunch/lib/expressions"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

const ds = "https://app.crunch.io/api/datasets/123/"

var ignoreInternal = cmpopts.IgnoreUnexported(expressions.Expr{})

func TestCaseExpr(t *testing.T) {
	rules := expressions.MustParse("age > 30")
	got := CaseExpr(rules, "Older", "older")
	require.JSONEq(t, `{
		"function": "case",
		"references": {"name": "Older", "alias": "older"},
		"args": [
			{
				"column": [1, 2],
				"type": {"value": {"class": "categorical", "categories": [
					{"id": 1, "name": "Selected", "missing": false, "numeric_value": null, "selected": true},
					{"id": 2, "name": "Not selected", "missing": false, "numeric_value": null, "selected": false}
				]}}
			},
			{"function": ">", "args": [{"variable": "age"}, {"value": 30}]}
		]
	}`, got.String())
}

func TestCombinationsFromMap(t *testing.T) {
	got := CombinationsFromMap(
		map[int][]int{3: {4, 5}, 1: {1, 2}, 2: {3}},
		map[int]string{1: "low", 2: "medium", 3: "high"},
		[]int{3},
	)
	want := []Combination{
		{ID: 1, Name: "low", CombinedIDs: []int{1, 2}},
		{ID: 2, Name: "medium", CombinedIDs: []int{3}},
		{ID: 3, Name: "high", Missing: true, CombinedIDs: []int{4, 5}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CombinationsFromMap mismatch (-want +got):\n%s", diff)
	}

	e := CombineCategoriesExpr(ds+"variables/001/", got)
	require.Equal(t, "combine_categories", e.Function)
	require.Equal(t, ds+"variables/001/", e.Args[0].Variable)
}

func TestResponsesFromMap(t *testing.T) {
	urls := map[string]string{
		"mr_1": ds + "variables/003/subvariables/a/",
		"mr_2": ds + "variables/003/subvariables/b/",
		"mr_3": ds + "variables/003/subvariables/c/",
	}
	got, err := ResponsesFromMap(urls,
		map[int][]string{2: {"mr_2", "3"}, 1: {"1"}},
		map[int]string{1: "online", 2: "offline"},
		"access", "mr",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := []Response{
		{Name: "online", Alias: "access_1", CombinedIDs: []string{urls["mr_1"]}},
		{Name: "offline", Alias: "access_2", CombinedIDs: []string{urls["mr_2"], urls["mr_3"]}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResponsesFromMap mismatch (-want +got):\n%s", diff)
	}

	_, err = ResponsesFromMap(urls, map[int][]string{1: {"mr_9"}}, nil, "access", "mr")
	require.ErrorContains(t, err, "mr_9")

	e := CombineResponsesExpr(ds+"variables/003/", got)
	require.Equal(t, "combine_responses", e.Function)
}

func TestRecodeCategories(t *testing.T) {
	existing := []expressions.Category{
		{ID: 1, Name: "Strongly agree"},
		{ID: 2, Name: "Agree"},
		{ID: 3, Name: "Disagree"},
		{ID: 4, Name: "Strongly disagree"},
		{ID: -1, Name: "No Data", Missing: true},
	}

	got, err := RecodeCategories(existing, Recode{
		Map:   map[int][]any{1: {1, "Agree"}, 2: {3, 4}},
		Names: []string{"Agreement", "Disagreement", "Unknown"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []Combination{
		{ID: 1, Name: "Agreement", CombinedIDs: []int{1, 2}},
		{ID: 2, Name: "Disagreement", CombinedIDs: []int{3, 4}},
		{ID: 3, Name: "Unknown", Missing: true, CombinedIDs: []int{-1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecodeCategories mismatch (-want +got):\n%s", diff)
	}

	copied, err := RecodeCategories(existing, Recode{
		Map:       map[int][]any{10: {1, 2}},
		NamesByID: map[int]string{10: "Agree"},
		Default:   DefaultCopy,
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, copied, 4)
	require.Equal(t, "Agree", copied[0].Name)
	require.Equal(t, Combination{ID: -1, Name: "No Data", Missing: true, CombinedIDs: []int{-1}}, copied[3])

	_, err = RecodeCategories(existing, Recode{Map: map[int][]any{1: {"Neutral"}}, Names: []string{"x"}})
	require.ErrorContains(t, err, "Neutral")
	_, err = RecodeCategories(existing, Recode{Map: map[int][]any{1: {7}}, Names: []string{"x"}})
	require.ErrorContains(t, err, "7")
	_, err = RecodeCategories(existing, Recode{Map: map[int][]any{1: {1}}})
	require.ErrorContains(t, err, "missing category names")
	_, err = RecodeCategories(existing, Recode{Map: map[int][]any{1: {1}}, Default: "drop"})
	require.Error(t, err)
	_, err = RecodeCategories(existing, Recode{})
	require.Error(t, err)
}

func TestRecodeCategoriesNegativeIDs(t *testing.T) {
	existing := []expressions.Category{
		{ID: 1, Name: "Yes"},
		{ID: 2, Name: "No"},
		{ID: -1, Name: "No Data", Missing: true},
	}
	got, err := RecodeCategories(existing, Recode{
		Map:   map[int][]any{-5: {1}, -3: {2}},
		Names: []string{"Yes", "No", "Skipped"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []Combination{
		{ID: -5, Name: "Yes", CombinedIDs: []int{1}},
		{ID: -3, Name: "No", CombinedIDs: []int{2}},
		{ID: -2, Name: "Skipped", Missing: true, CombinedIDs: []int{-1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecodeCategories mismatch (-want +got):\n%s", diff)
	}
}

func TestRecodeResponses(t *testing.T) {
	urls := map[string]string{"a": "u/a/", "b": "u/b/", "c": "u/c/"}
	got, err := RecodeResponses(urls, map[string][]string{"second": {"c"}, "first": {"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []Response{
		{Name: "first", CombinedIDs: []string{"u/a/", "u/b/"}},
		{Name: "second", CombinedIDs: []string{"u/c/"}},
	}, got)

	_, err = RecodeResponses(urls, map[string][]string{"x": {"z"}})
	require.ErrorContains(t, err, "z")
}

func TestAbsURL(t *testing.T) {
	derivation := expressions.Func("array",
		expressions.Func("select", expressions.Expr{Map: map[string]expressions.Expr{
			"0001": expressions.Var("../002/"),
		}}),
		expressions.Var(ds+"variables/004/"),
	)
	got, err := AbsURL(derivation, ds+"variables/001/")
	if err != nil {
		t.Fatal(err)
	}
	want := expressions.Func("array",
		expressions.Func("select", expressions.Expr{Map: map[string]expressions.Expr{
			"0001": expressions.Var(ds + "variables/002/"),
		}}),
		expressions.Var(ds+"variables/004/"),
	)
	if diff := cmp.Diff(want, got, ignoreInternal); diff != "" {
		t.Errorf("AbsURL mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "../002/", derivation.Args[0].Args[0].Map["0001"].Variable)
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "mr_3", SubvarAlias("mr", 3))
	require.True(t, ValidateVariableURL(ds+"variables/001/"))
	require.True(t, ValidateVariableURL(ds+"variables/001/subvariables/a/"))
	require.False(t, ValidateVariableURL("../001/"))
	require.False(t, ValidateVariableURL("age"))

	cats := []expressions.Category{{ID: 1}, {ID: 2}, {ID: 3}}
	require.NoError(t, ValidateCategoryRules(cats, []string{"a", "b"}))
	require.NoError(t, ValidateCategoryRules(cats, []string{"a", "b", "c"}))
	require.Error(t, ValidateCategoryRules(cats, []string{"a"}))
}
