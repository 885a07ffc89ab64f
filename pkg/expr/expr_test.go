package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Arithmetic(t *testing.T) {
	tbl := []struct {
		src  string
		want any
	}{
		{"1 + 2", 3.0},
		{"2 * 3 + 4", 10.0},
		{"2 + 3 * 4", 14.0},
		{"(2 + 3) * 4", 20.0},
		{"10 / 4", 2.5},
		{"7 % 3", 1.0},
		{"-5 + 2", -3.0},
		{"1.5 * 2", 3.0},
	}
	for _, tt := range tbl {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Eval(tt.src, Env{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Strings(t *testing.T) {
	env := Env{Vars: map[string]any{"title": "Hello", "n": 2.0}}

	tbl := []struct {
		src  string
		want any
	}{
		{`'a' + 'b'`, "ab"},
		{`title + "!"`, "Hello!"},
		{`"n=" + n`, "n=2"},
		{`"it\"s" + ''`, `it"s`},
	}
	for _, tt := range tbl {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Eval(tt.src, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Comparisons(t *testing.T) {
	env := Env{Vars: map[string]any{"a": "10", "b": 9.0, "s": "abc"}}

	tbl := []struct {
		src  string
		want bool
	}{
		{"a > b", true}, // both coerce to numbers, numeric order wins
		{"a == 10", true},
		{`s < "abd"`, true},
		{`s != "abc"`, false},
		{`"2" >= 2`, true},
	}
	for _, tt := range tbl {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Eval(tt.src, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	tbl := []struct {
		name string
		src  string
		env  Env
		err  string
	}{
		{"unknown field", "missing", Env{Vars: map[string]any{}}, `unknown field "missing"`},
		{"unknown function", "evil()", Env{Funcs: map[string]Func{}}, `function "evil" is not allowed`},
		{"division by zero", "1 / 0", Env{}, "division by zero"},
		{"non-numeric subtraction", `"a" - 1`, Env{}, "numeric operands"},
		{"dangling operator", "1 +", Env{}, "unexpected"},
		{"unbalanced paren", "(1 + 2", Env{}, `expected ")"`},
		{"trailing garbage", "1 2", Env{}, "unexpected"},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Eval(tt.src, tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestEval_Calls(t *testing.T) {
	env := Env{
		Vars:  map[string]any{"title": " Breaking News ", "html": "<b>bold</b> text"},
		Funcs: DefaultFuncs(),
	}

	tbl := []struct {
		src  string
		want any
	}{
		{"lower(title)", " breaking news "},
		{"upper(trim(title))", "BREAKING NEWS"},
		{"len(trim(title))", 13.0},
		{`contains(title, "News")`, true},
		{`replace(title, " ", "_")`, "_Breaking_News_"},
		{`substr("abcdef", 1, 3)`, "bc"},
		{`substr("abcdef", -2, 100)`, "ef"},
		{`coalesce("", "", "x")`, "x"},
		{`str(42)`, "42"},
		{`num("3.5") * 2`, 7.0},
		{"strip_html(html)", "bold text"},
	}
	for _, tt := range tbl {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Eval(tt.src, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Timestamp(t *testing.T) {
	env := Env{
		Vars:  map[string]any{"pubDate": "Mon, 02 Jan 2006 15:04:05 UTC"},
		Funcs: DefaultFuncs(),
	}

	got, err := Eval("timestamp(pubDate)", env)
	require.NoError(t, err)
	assert.Equal(t, 1.136214245e9, got)

	_, err = Eval(`timestamp("not a date")`, env)
	require.Error(t, err)
}

func TestParse_Reuse(t *testing.T) {
	e, err := Parse("title + '!'")
	require.NoError(t, err)

	for _, title := range []string{"a", "b"} {
		got, err := e.Eval(Env{Vars: map[string]any{"title": title}})
		require.NoError(t, err)
		assert.Equal(t, title+"!", got)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(2.0, "2"))
	assert.Equal(t, -1, Compare(1.0, 2.0))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(nil, "a"), "nil renders empty and sorts first")
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "2", ToString(2.0))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "x", ToString("x"))
}
