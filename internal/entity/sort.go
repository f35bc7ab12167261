package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortBy returns a sorted copy of items ordered by the JSON field named in
// sortKey. A leading "-" sorts descending. An empty key keeps the stored
// order.
//
// Two numbers compare numerically. Everything else compares as strings with
// a locale-aware collator; absent fields compare as "". The sort is stable.
func SortBy[T any](items []T, sortKey string) ([]T, error) {
	out := append([]T(nil), items...)
	if sortKey == "" {
		return out, nil
	}
	desc := strings.HasPrefix(sortKey, "-")
	field := strings.TrimPrefix(sortKey, "-")

	values := make([]any, len(out))
	for i, item := range out {
		p, err := ToPayload(item)
		if err != nil {
			return nil, fmt.Errorf("sort by %q: %w", sortKey, err)
		}
		values[i] = p[field]
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	col := collate.New(language.Und)
	sort.SliceStable(idx, func(a, b int) bool {
		c := compareValues(col, values[idx[a]], values[idx[b]])
		if desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]T, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted, nil
}

func compareValues(col *collate.Collator, a, b any) int {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return col.CompareString(asString(a), asString(b))
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
