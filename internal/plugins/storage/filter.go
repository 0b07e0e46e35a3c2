package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Clause is one `attr op value` comparison. Clauses in a filter are
// combined with logical AND, matching the minimal grammar Garuda itself
// exercises — see SPEC_FULL.md §4.4 and
// original_source/garuda/core/lib/predicate_converter.py, whose full
// pypred grammar this deliberately narrows to flat attribute comparisons.
type Clause struct {
	Attr  string
	Op    string
	Value string
}

var validOps = []string{"==", "!=", "<=", ">=", "<", ">", "contains"}

// ParseFilter splits a filter string on " and " into clauses. An empty
// filter yields no clauses (matches everything). Anything that doesn't
// parse as `attr op value` is INVALID per SPEC_FULL.md §4.4.
func ParseFilter(filter string) ([]Clause, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	var clauses []Clause
	for _, part := range strings.Split(filter, " and ") {
		c, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseClause(part string) (Clause, error) {
	for _, op := range validOps {
		idx := strings.Index(part, " "+op+" ")
		if idx < 0 {
			continue
		}
		attr := strings.TrimSpace(part[:idx])
		value := strings.TrimSpace(part[idx+len(op)+2:])
		value = strings.Trim(value, `"'`)
		if attr == "" {
			return Clause{}, fmt.Errorf("invalid filter clause %q: empty attribute", part)
		}
		return Clause{Attr: attr, Op: op, Value: value}, nil
	}
	return Clause{}, fmt.Errorf("invalid filter clause %q: no recognized operator", part)
}

// Match reports whether data satisfies every clause.
func Match(clauses []Clause, data map[string]any) bool {
	for _, c := range clauses {
		if !c.matches(data) {
			return false
		}
	}
	return true
}

func (c Clause) matches(data map[string]any) bool {
	actual, ok := data[c.Attr]
	if !ok {
		return false
	}

	switch c.Op {
	case "contains":
		return strings.Contains(fmt.Sprint(actual), c.Value)
	case "==":
		return compareEqual(actual, c.Value)
	case "!=":
		return !compareEqual(actual, c.Value)
	default:
		af, aok := toFloat(actual)
		vf, vok := toFloat(c.Value)
		if !aok || !vok {
			return false
		}
		switch c.Op {
		case "<":
			return af < vf
		case "<=":
			return af <= vf
		case ">":
			return af > vf
		case ">=":
			return af >= vf
		}
	}
	return false
}

func compareEqual(actual any, value string) bool {
	if af, aok := toFloat(actual); aok {
		if vf, vok := toFloat(value); vok {
			return af == vf
		}
	}
	return fmt.Sprint(actual) == value
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
