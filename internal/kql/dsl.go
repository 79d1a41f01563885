package kql

// DSL is the search-service query document a KQL-lite expression compiles
// to: a map mirroring the Elasticsearch/OpenSearch Query DSL shape closely
// enough for internal/search implementations to translate mechanically.
type DSL map[string]any

// Compile translates a parsed KQL-lite expression into a search DSL
// document per spec: `==`->term, `!=`->bool/must_not/term, `contains`->match,
// `startswith`->prefix, `endswith`->wildcard, `in`->terms, numeric
// comparisons->range, `*`->match_all.
func Compile(expr Expr) DSL {
	switch e := expr.(type) {
	case MatchAll:
		return DSL{"match_all": DSL{}}
	case Comparison:
		return compileComparison(e)
	case Not:
		return DSL{"bool": DSL{"must_not": []DSL{Compile(e.Operand)}}}
	case And:
		return DSL{"bool": DSL{"must": compileAll(e.Operands)}}
	case Or:
		return DSL{"bool": DSL{
			"should":               compileAll(e.Operands),
			"minimum_should_match": 1,
		}}
	default:
		return DSL{"match_all": DSL{}}
	}
}

func compileAll(exprs []Expr) []DSL {
	out := make([]DSL, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, Compile(e))
	}
	return out
}

func compileComparison(c Comparison) DSL {
	switch c.Operator {
	case OpEquals:
		return DSL{"term": DSL{c.Field: valueOf(c.Value)}}
	case OpNotEquals:
		return DSL{"bool": DSL{"must_not": []DSL{{"term": DSL{c.Field: valueOf(c.Value)}}}}}
	case OpContains:
		return DSL{"match": DSL{c.Field: c.Value.Str}}
	case OpStartsWith:
		return DSL{"prefix": DSL{c.Field: c.Value.Str}}
	case OpEndsWith:
		return DSL{"wildcard": DSL{c.Field: "*" + c.Value.Str}}
	case OpHas:
		return DSL{"match": DSL{c.Field: c.Value.Str}}
	case OpIn:
		vals := make([]any, 0, len(c.Values))
		for _, v := range c.Values {
			vals = append(vals, valueOf(v))
		}
		return DSL{"terms": DSL{c.Field: vals}}
	case OpGreater:
		return DSL{"range": DSL{c.Field: DSL{"gt": valueOf(c.Value)}}}
	case OpGreaterEq:
		return DSL{"range": DSL{c.Field: DSL{"gte": valueOf(c.Value)}}}
	case OpLess:
		return DSL{"range": DSL{c.Field: DSL{"lt": valueOf(c.Value)}}}
	case OpLessEq:
		return DSL{"range": DSL{c.Field: DSL{"lte": valueOf(c.Value)}}}
	default:
		return DSL{"query_string": DSL{"query": c.Field}}
	}
}

func valueOf(v Value) any {
	if v.IsInt {
		return v.Int
	}
	return v.Str
}

// CompileQuery parses and compiles a KQL-lite query string in one step,
// falling back to a query_string DSL clause on a parse error per spec
// (malformed expressions degrade gracefully rather than rejecting the search).
func CompileQuery(query string) (DSL, error) {
	expr, err := Parse(query)
	if err != nil {
		return DSL{"query_string": DSL{"query": query}}, err
	}
	return Compile(expr), nil
}
