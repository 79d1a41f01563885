package kql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MatchAll(t *testing.T) {
	expr, err := Parse("*")
	require.NoError(t, err)
	assert.Equal(t, MatchAll{}, expr)
}

func TestParse_SimpleComparison(t *testing.T) {
	expr, err := Parse(`host.name == "WORK-01"`)
	require.NoError(t, err)
	cmp, ok := expr.(Comparison)
	require.True(t, ok)
	assert.Equal(t, "host.name", cmp.Field)
	assert.Equal(t, OpEquals, cmp.Operator)
	assert.Equal(t, "WORK-01", cmp.Value.Str)
}

func TestParse_AndOrPrecedence(t *testing.T) {
	expr, err := Parse(`host.name == "WORK-01" and (event_type == "login" or event_type == "logout")`)
	require.NoError(t, err)
	and, ok := expr.(And)
	require.True(t, ok)
	require.Len(t, and.Operands, 2)
	_, ok = and.Operands[0].(Comparison)
	assert.True(t, ok)
	or, ok := and.Operands[1].(Or)
	require.True(t, ok)
	assert.Len(t, or.Operands, 2)
}

func TestParse_NotNotCollapses(t *testing.T) {
	expr, err := Parse(`not not host.name == "x"`)
	require.NoError(t, err)
	_, ok := expr.(Comparison)
	assert.True(t, ok, "not not x should collapse to x")
}

func TestParse_TableWherePrefixStripped(t *testing.T) {
	expr1, err := Parse(`Events | where host.name == "x"`)
	require.NoError(t, err)
	expr2, err := Parse(`host.name == "x"`)
	require.NoError(t, err)
	assert.Equal(t, expr2, expr1)
}

func TestParse_InOperator(t *testing.T) {
	expr, err := Parse(`event_type in ("login", "logout")`)
	require.NoError(t, err)
	cmp, ok := expr.(Comparison)
	require.True(t, ok)
	assert.Equal(t, OpIn, cmp.Operator)
	require.Len(t, cmp.Values, 2)
	assert.Equal(t, "login", cmp.Values[0].Str)
}

func TestParse_NumericComparison(t *testing.T) {
	expr, err := Parse(`event_severity >= 50`)
	require.NoError(t, err)
	cmp, ok := expr.(Comparison)
	require.True(t, ok)
	assert.Equal(t, OpGreaterEq, cmp.Operator)
	assert.True(t, cmp.Value.IsInt)
	assert.EqualValues(t, 50, cmp.Value.Int)
}

func TestCompile_AndOrTranslation(t *testing.T) {
	dsl, err := CompileQuery(`host.name == "WORK-01" and (event_type == "login" or event_type == "logout")`)
	require.NoError(t, err)
	boolClause, ok := dsl["bool"].(DSL)
	require.True(t, ok)
	must, ok := boolClause["must"].([]DSL)
	require.True(t, ok)
	require.Len(t, must, 2)

	term, ok := must[0]["term"].(DSL)
	require.True(t, ok)
	assert.Equal(t, "WORK-01", term["host.name"])

	inner, ok := must[1]["bool"].(DSL)
	require.True(t, ok)
	assert.Equal(t, 1, inner["minimum_should_match"])
	should, ok := inner["should"].([]DSL)
	require.True(t, ok)
	assert.Len(t, should, 2)
}

func TestCompile_MalformedFallsBackToQueryString(t *testing.T) {
	dsl, err := CompileQuery(`host.name ==`)
	require.Error(t, err)
	qs, ok := dsl["query_string"].(DSL)
	require.True(t, ok)
	assert.Equal(t, "host.name ==", qs["query"])
}

func TestParse_RoundTripEquality(t *testing.T) {
	q := `host.name == "WORK-01" and event_type == "login"`
	expr1, err := Parse(q)
	require.NoError(t, err)
	expr2, err := Parse(q)
	require.NoError(t, err)
	assert.Equal(t, expr1, expr2)
}
