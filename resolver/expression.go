package resolver

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

type ExprKind int

const (
	ExprLiteral ExprKind = iota
	ExprConnection
	ExprVariable
	ExprSource
	ExprTrigger
	ExprConfig
	// ExprComposite is a map or list whose elements are expressions.
	ExprComposite
)

func (k ExprKind) String() string {
	switch k {
	case ExprLiteral:
		return "literal"
	case ExprConnection:
		return "connection"
	case ExprVariable:
		return "variable"
	case ExprSource:
		return "source"
	case ExprTrigger:
		return "trigger"
	case ExprConfig:
		return "config"
	case ExprComposite:
		return "composite"
	}
	return "unknown"
}

const (
	prefixHook     = "$HOOK"
	prefixVariable = "$VARIABLE"
	prefixSource   = "$SOURCE"
	prefixTrigger  = "$TRIGGER"
	prefixConfig   = "$DAG_CONFIG"
)

// config keys a $DAG_CONFIG expression may name
var configKeys = map[string]bool{
	"environment": true,
	"dag":         true,
	"run_id":      true,
}

type Expression struct {
	Kind ExprKind
	Raw  string

	// Value is the literal value, $$ escapes already removed.
	Value any
	// Namespace is empty when the default namespace applies.
	Namespace string
	Key       string
	Field     utils.Path

	Map  map[string]*Expression
	List []*Expression
}

func (e *Expression) String() string {
	if e.Kind == ExprLiteral {
		return fmt.Sprintf("literal %v", e.Value)
	}
	if e.Kind == ExprComposite {
		return "composite"
	}
	return e.Raw
}

// Walk visits every leaf expression, map entries in key order.
func (e *Expression) Walk(fn func(*Expression)) {
	switch e.Kind {
	case ExprComposite:
		for _, key := range utils.SortedKeys(e.Map) {
			e.Map[key].Walk(fn)
		}
		for _, item := range e.List {
			item.Walk(fn)
		}
	default:
		fn(e)
	}
}

/**
 * Parse classifies a binding. Strings starting with $ are expressions:
 *   $HOOK.<key>, $HOOK.<namespace>.<key>
 *   $VARIABLE.<key>, $VARIABLE.<namespace>.<key>
 *   $SOURCE[.field...], $TRIGGER[.field...]
 *   $DAG_CONFIG.<environment|dag|run_id>
 * "$$" escapes a literal leading "$". Any other value is a literal, maps and
 * lists are parsed element-wise.
 */
func Parse(v any) (*Expression, error) {
	switch value := v.(type) {
	case string:
		return parseString(value)
	case map[string]any:
		expr := &Expression{Kind: ExprComposite, Map: make(map[string]*Expression, len(value))}
		for key, item := range value {
			child, err := Parse(item)
			if err != nil {
				return nil, errors.Annotatef(err, "key %s", key)
			}
			expr.Map[key] = child
		}
		return expr, nil
	case []any:
		expr := &Expression{Kind: ExprComposite, List: make([]*Expression, 0, len(value))}
		for i, item := range value {
			child, err := Parse(item)
			if err != nil {
				return nil, errors.Annotatef(err, "index %d", i)
			}
			expr.List = append(expr.List, child)
		}
		return expr, nil
	case types.Data:
		return Parse(map[string]any(value))
	case []string:
		items := make([]any, 0, len(value))
		for _, item := range value {
			items = append(items, item)
		}
		return Parse(items)
	}
	return &Expression{Kind: ExprLiteral, Value: v}, nil
}

func parseString(s string) (*Expression, error) {
	if !strings.HasPrefix(s, "$") {
		return &Expression{Kind: ExprLiteral, Raw: s, Value: s}, nil
	}
	if strings.HasPrefix(s, "$$") {
		return &Expression{Kind: ExprLiteral, Raw: s, Value: s[1:]}, nil
	}

	head, rest, _ := strings.Cut(s, ".")
	var parts []string
	if rest != "" {
		parts = strings.Split(rest, ".")
	}
	for _, p := range parts {
		if p == "" {
			return nil, errors.NotValidf("expression %q has an empty segment", s)
		}
	}
	if strings.HasSuffix(s, ".") {
		return nil, errors.NotValidf("expression %q ends with a dot", s)
	}

	expr := &Expression{Raw: s}
	switch head {
	case prefixHook, prefixVariable:
		expr.Kind = ExprConnection
		if head == prefixVariable {
			expr.Kind = ExprVariable
		}
		switch len(parts) {
		case 1:
			expr.Key = parts[0]
		case 2:
			expr.Namespace, expr.Key = parts[0], parts[1]
		default:
			return nil, errors.NotValidf("expression %q, expected %s.<key> or %s.<namespace>.<key>", s, head, head)
		}
	case prefixSource:
		expr.Kind = ExprSource
		expr.Field = utils.NewPath(parts...)
	case prefixTrigger:
		expr.Kind = ExprTrigger
		expr.Field = utils.NewPath(parts...)
	case prefixConfig:
		expr.Kind = ExprConfig
		if len(parts) != 1 || !configKeys[parts[0]] {
			return nil, errors.NotValidf("expression %q, expected %s.<environment|dag|run_id>", s, head)
		}
		expr.Key = parts[0]
	default:
		return nil, errors.NotValidf("expression %q, unknown prefix %s", s, head)
	}
	return expr, nil
}
