package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrettify(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"disposition == 0 or exit_status == 0", "disposition == 0 or exit_status == 0"},
		{"a == 1 or b == 2 or c == 3", "a == 1 or (b == 2 or c == 3)"},
		{"a == 1 and (b == 2 or c == 3)", "a == 1 and (b == 2 or c == 3)"},
		{"valid(a)", "valid(a)"},
		{"missing(a, b)", "missing(a) or missing(b)"},
		{"mr.any([1, 2])", "mr.any([1, 2])"},
		{"identity.duplicates()", "identity.duplicates()"},
		{"q in ['a', 'b']", "q in ['a', 'b']"},
		{"not a == 1", "not a == 1"},
		{`name == "O'Brien"`, `name == 'O\'Brien'`},
		{"age - 1 > 2.5", "age - 1 > 2.5"},
	}
	ctx := context.Background()
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			got, err := Prettify(ctx, MustParse(tc.src), nil)
			if err != nil {
				t.Fatal(err)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPrettifyResolvesURLs(t *testing.T) {
	ctx := context.Background()
	table := testTable(t)

	processed, err := Process(MustParse("gender == 1 and mr_1 in [1]"), testDataset, table)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Prettify(ctx, processed, table)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "gender == 1 and mr_1 in [1]", got)

	_, err = Prettify(ctx, processed, nil)
	require.ErrorIs(t, err, ErrResolverRequired)
}

func TestPrettifyDecodedJSON(t *testing.T) {
	var e Expr
	err := json.Unmarshal([]byte(`{
		"function": "and",
		"args": [
			{"function": ">=", "args": [{"variable": "x"}, {"value": 1.5}]},
			{"function": "any", "args": [{"variable": "mr"}, {"column": ["a", "b"]}]}
		]
	}`), &e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Prettify(context.Background(), e, nil)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "x >= 1.5 and mr.any(['a', 'b'])", got)

	_, err = Prettify(context.Background(), Func("frobnicate", Var("x")), nil)
	require.ErrorIs(t, err, ErrInvalidExpression)
	_, err = Prettify(context.Background(), Var("x"), nil)
	require.ErrorIs(t, err, ErrInvalidExpression)
}
