package registry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Registry hands out connection parameters and variables by namespace and
// key. A missing entry satisfies errors.Is(err, errors.NotFound).
type Registry interface {
	GetConnection(ctx context.Context, namespace, key string) (*Connection, error)
	GetVariable(ctx context.Context, namespace, key string) (*Variable, error)
}

type Connection struct {
	ConnType string         `json:"conn_type" dynamodbav:"conn_type"`
	Host     string         `json:"host,omitempty" dynamodbav:"host,omitempty"`
	Port     int            `json:"port,omitempty" dynamodbav:"port,omitempty"`
	Login    string         `json:"login,omitempty" dynamodbav:"login,omitempty"`
	Password string         `json:"password,omitempty" dynamodbav:"password,omitempty"`
	Schema   string         `json:"schema,omitempty" dynamodbav:"schema,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" dynamodbav:"extra,omitempty"`
}

// Clone copies the connection, Extra included, so a node can change its
// copy without other nodes seeing it.
func (c *Connection) Clone() *Connection {
	out := *c
	if c.Extra != nil {
		out.Extra = deepCopy(c.Extra).(map[string]any)
	}
	return &out
}

func deepCopy(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = deepCopy(item)
		}
		return out
	}
	return v
}

type VariableType string

const (
	VariableString VariableType = "string"
	VariableNumber VariableType = "number"
	VariableJSON   VariableType = "json"
	VariableYAML   VariableType = "yaml"
)

type Variable struct {
	ID       string       `json:"id" dynamodbav:"id"`
	Type     VariableType `json:"type" dynamodbav:"type"`
	Contents string       `json:"contents" dynamodbav:"contents"`
}

// Value decodes Contents according to Type. An empty type reads as string.
func (v *Variable) Value() (any, error) {
	switch VariableType(strings.ToLower(string(v.Type))) {
	case VariableString, "":
		return v.Contents, nil
	case VariableNumber:
		f, err := cast.ToFloat64E(strings.TrimSpace(v.Contents))
		if err != nil {
			return nil, errors.NotValidf("variable %s number %q", v.ID, v.Contents)
		}
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case VariableJSON:
		var out any
		if err := json.Unmarshal([]byte(v.Contents), &out); err != nil {
			return nil, errors.Annotatef(err, "variable %s json", v.ID)
		}
		return out, nil
	case VariableYAML:
		var out any
		if err := yaml.Unmarshal([]byte(v.Contents), &out); err != nil {
			return nil, errors.Annotatef(err, "variable %s yaml", v.ID)
		}
		return out, nil
	}
	return nil, errors.NotSupportedf("variable %s type %q", v.ID, v.Type)
}
