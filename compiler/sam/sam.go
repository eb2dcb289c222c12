package sam

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/compiler"
	"github.com/warriorguo/dagflow/types"
	"gopkg.in/yaml.v3"
)

const (
	Platform     = "aws-sam"
	TemplateFile = "template.yml"

	DefaultRuntime = "provided.al2023"
)

var (
	_ compiler.Schema = &Schema{}
)

// Schema renders a SAM template.yml with one function per DAG.
type Schema struct {
	Runtime      string
	Architecture string
}

func New() *Schema {
	return &Schema{Runtime: DefaultRuntime, Architecture: "arm64"}
}

func (s *Schema) Platform() string {
	return Platform
}

func (s *Schema) ProjectTrigger(dag *types.DAG, trigger *types.Trigger) (*compiler.Event, error) {
	compileErr := func(msg string) error {
		return &types.CompileError{DAG: dag.Name, Platform: Platform, Trigger: trigger.Name, Msg: msg}
	}

	switch trigger.Kind {
	case types.TriggerSchedule:
		expr, err := ScheduleExpression(trigger.Schedule)
		if err != nil {
			return nil, compileErr(err.Error())
		}
		return &compiler.Event{
			Name: LogicalID(trigger.Name),
			Type: "Schedule",
			Properties: map[string]any{
				"Schedule": expr,
				"Enabled":  true,
			},
		}, nil

	case types.TriggerEvent:
		if trigger.Source == "" {
			return nil, compileErr("event trigger without source")
		}
		return &compiler.Event{
			Name: LogicalID(trigger.Name),
			Type: "EventBridgeRule",
			Properties: map[string]any{
				"Pattern": eventPattern(trigger),
			},
		}, nil
	}
	return nil, compileErr("unsupported trigger kind " + trigger.Kind.String())
}

// envelope fields of an EventBridge event, every other filter key matches the detail
var envelopeFields = map[string]bool{
	"detail-type": true,
	"account":     true,
	"region":      true,
	"resources":   true,
}

func eventPattern(trigger *types.Trigger) map[string]any {
	pattern := map[string]any{
		"source": []any{trigger.Source},
	}
	detail := make(map[string]any)
	for key, value := range trigger.Filter {
		if envelopeFields[key] {
			pattern[key] = matcher(value)
			continue
		}
		detail[key] = matcher(value)
	}
	if len(detail) > 0 {
		pattern["detail"] = detail
	}
	return pattern
}

// matcher wraps scalar leaves in a list, the only form a pattern accepts.
func matcher(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = matcher(item)
		}
		return out
	case types.Data:
		return matcher(map[string]any(v))
	case []any:
		return v
	case []string:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out
	}
	return []any{value}
}

func (s *Schema) Render(units []*compiler.Unit) ([]*compiler.Artifact, error) {
	resources := make(map[string]any, len(units))
	env := ""
	for _, unit := range units {
		id := LogicalID(unit.DAG) + "Function"
		if _, exists := resources[id]; exists {
			return nil, &types.CompileError{DAG: unit.DAG, Platform: Platform, Msg: "logical id " + id + " used twice"}
		}
		env = unit.Environment[compiler.EnvVar]

		function, err := s.function(unit)
		if err != nil {
			return nil, err
		}
		resources[id] = map[string]any{
			"Type":       "AWS::Serverless::Function",
			"Properties": function,
		}
	}

	template := map[string]any{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Transform":                "AWS::Serverless-2016-10-31",
		"Description":              "dagflow " + env,
		"Resources":                resources,
	}

	buf := &bytes.Buffer{}
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(template); err != nil {
		return nil, errors.Annotatef(err, "encode %s", TemplateFile)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	return []*compiler.Artifact{{Path: TemplateFile, Content: buf.Bytes()}}, nil
}

func (s *Schema) function(unit *compiler.Unit) (map[string]any, error) {
	variables := make(map[string]any, len(unit.Environment))
	for k, v := range unit.Environment {
		variables[k] = v
	}

	props := map[string]any{
		"FunctionName": unit.FunctionName,
		"Handler":      unit.Handler,
		"Runtime":      s.Runtime,
		"CodeUri":      unit.CodeURI,
		"Timeout":      unit.Timeout,
		"MemorySize":   unit.Memory,
		"Environment":  map[string]any{"Variables": variables},
	}
	if s.Architecture != "" {
		props["Architectures"] = []any{s.Architecture}
	}

	if len(unit.Triggers) > 0 {
		events := make(map[string]any, len(unit.Triggers))
		for _, e := range unit.Triggers {
			if _, exists := events[e.Name]; exists {
				return nil, &types.CompileError{DAG: unit.DAG, Platform: Platform, Trigger: e.Name, Msg: "event logical id used twice"}
			}
			events[e.Name] = map[string]any{
				"Type":       e.Type,
				"Properties": e.Properties,
			}
		}
		props["Events"] = events
	}

	policies := make([]any, 0, len(unit.Policies))
	for _, p := range unit.Policies {
		switch p.Kind {
		case compiler.PolicyReadTable:
			policies = append(policies, map[string]any{"DynamoDBReadPolicy": map[string]any{"TableName": p.Target}})
		case compiler.PolicyInvoke:
			policies = append(policies, map[string]any{"LambdaInvokePolicy": map[string]any{"FunctionName": p.Target}})
		case compiler.PolicyStatement:
			policies = append(policies, map[string]any{"Statement": []any{map[string]any{
				"Effect":   "Allow",
				"Action":   p.Actions,
				"Resource": p.Resources,
			}}})
		default:
			return nil, &types.CompileError{DAG: unit.DAG, Platform: Platform, Msg: "unsupported policy kind " + string(p.Kind)}
		}
	}
	props["Policies"] = policies
	return props, nil
}

// LogicalID turns a name like "etl-daily_v2" into "EtlDailyV2".
func LogicalID(name string) string {
	sb := &strings.Builder{}
	upper := true
	for _, r := range name {
		if r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r)) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
