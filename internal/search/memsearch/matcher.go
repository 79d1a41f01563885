package memsearch

import (
	"strings"

	"github.com/target/soc-core/internal/kql"
)

// matchDSL evaluates a kql.DSL query document against a single source map.
// It understands the subset of Elasticsearch/OpenSearch Query DSL that
// internal/kql.Compile emits: match_all, term, terms, match, prefix,
// wildcard, range, bool (must/must_not/should + minimum_should_match), and
// query_string (a case-insensitive substring match against the top-level
// string fields of the source; nested objects are not searched).
func matchDSL(q kql.DSL, source map[string]any) bool {
	if len(q) == 0 {
		return true
	}
	for clause, body := range q {
		switch clause {
		case "match_all":
			return true
		case "term":
			return matchTerm(body, source)
		case "terms":
			return matchTerms(body, source)
		case "match":
			return matchMatch(body, source)
		case "prefix":
			return matchPrefix(body, source)
		case "wildcard":
			return matchWildcard(body, source)
		case "range":
			return matchRange(body, source)
		case "bool":
			return matchBool(body, source)
		case "query_string":
			return matchQueryString(body, source)
		}
	}
	return false
}

func fieldValue(source map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = source
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func matchTerm(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, want := range m {
		return valuesEqual(fieldValue(source, field), want)
	}
	return false
}

func matchTerms(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, want := range m {
		vals, ok := want.([]any)
		if !ok {
			return false
		}
		actual := fieldValue(source, field)
		for _, v := range vals {
			if valuesEqual(actual, v) {
				return true
			}
		}
	}
	return false
}

func matchMatch(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, want := range m {
		needle, ok := asString(want)
		if !ok {
			return false
		}
		haystack, ok := asString(fieldValue(source, field))
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return false
}

func matchPrefix(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, want := range m {
		prefix, ok := asString(want)
		if !ok {
			return false
		}
		haystack, ok := asString(fieldValue(source, field))
		if !ok {
			return false
		}
		return strings.HasPrefix(haystack, prefix)
	}
	return false
}

func matchWildcard(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, want := range m {
		pattern, ok := asString(want)
		if !ok {
			return false
		}
		haystack, ok := asString(fieldValue(source, field))
		if !ok {
			return false
		}
		suffix := strings.TrimPrefix(pattern, "*")
		return strings.HasSuffix(haystack, suffix)
	}
	return false
}

func matchRange(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	for field, boundsAny := range m {
		bounds, ok := boundsAny.(kql.DSL)
		if !ok {
			return false
		}
		actual, ok := toFloat(fieldValue(source, field))
		if !ok {
			return false
		}
		for op, limitAny := range bounds {
			limit, ok := toFloat(limitAny)
			if !ok {
				return false
			}
			switch op {
			case "gt":
				if !(actual > limit) {
					return false
				}
			case "gte":
				if !(actual >= limit) {
					return false
				}
			case "lt":
				if !(actual < limit) {
					return false
				}
			case "lte":
				if !(actual <= limit) {
					return false
				}
			}
		}
		return true
	}
	return false
}

func matchBool(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	if musts, ok := m["must"].([]kql.DSL); ok {
		for _, sub := range musts {
			if !matchDSL(sub, source) {
				return false
			}
		}
	}
	if mustNots, ok := m["must_not"].([]kql.DSL); ok {
		for _, sub := range mustNots {
			if matchDSL(sub, source) {
				return false
			}
		}
	}
	if shoulds, ok := m["should"].([]kql.DSL); ok && len(shoulds) > 0 {
		min := 1
		if n, ok := m["minimum_should_match"].(int); ok {
			min = n
		}
		hits := 0
		for _, sub := range shoulds {
			if matchDSL(sub, source) {
				hits++
			}
		}
		if hits < min {
			return false
		}
	}
	return true
}

func matchQueryString(body any, source map[string]any) bool {
	m, ok := body.(kql.DSL)
	if !ok {
		return false
	}
	query, ok := asString(m["query"])
	if !ok {
		return false
	}
	query = strings.ToLower(query)
	for _, v := range source {
		if s, ok := asString(v); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func valuesEqual(actual, want any) bool {
	if actual == nil {
		return false
	}
	as, aok := asString(actual)
	ws, wok := asString(want)
	if aok && wok {
		return as == ws
	}
	af, aok := toFloat(actual)
	wf, wok := toFloat(want)
	if aok && wok {
		return af == wf
	}
	return false
}
