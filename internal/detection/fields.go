package detection

import "strings"

// fieldValue walks a dotted path ("host.name") through a decoded JSON
// document, the shape search.Hit.Source always takes.
func fieldValue(source map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = source
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func fieldString(source map[string]any, path string) string {
	v := fieldValue(source, path)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func fieldFloat(source map[string]any, path string) (float64, bool) {
	switch n := fieldValue(source, path).(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// entitiesFrom pulls the conventional host/user/ip triple off an ECS-shaped
// document for alert entity facets.
func entitiesFrom(sources []map[string]any) (hosts, users, ips []string) {
	seen := map[string]map[string]bool{"host": {}, "user": {}, "ip": {}}
	add := func(bucket *[]string, kind, v string) {
		if v == "" || seen[kind][v] {
			return
		}
		seen[kind][v] = true
		*bucket = append(*bucket, v)
	}
	for _, s := range sources {
		add(&hosts, "host", fieldString(s, "host.name"))
		add(&users, "user", fieldString(s, "user.name"))
		add(&ips, "ip", fieldString(s, "source.ip"))
		add(&ips, "ip", fieldString(s, "destination.ip"))
	}
	return hosts, users, ips
}
