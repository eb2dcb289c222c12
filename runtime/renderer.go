package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/types"
)

func newDAGRenderer() *dagRenderer {
	return &dagRenderer{nil, &strings.Builder{}}
}

type dagRenderer struct {
	result *types.RunResult
	sb     *strings.Builder
}

// generateDOT draws the DAG, coloured by the node statuses of result when given.
// Output is sorted so the same input always renders the same text.
func (d *dagRenderer) generateDOT(dag *types.DAG, result *types.RunResult) (string, error) {
	d.result = result

	d.write("digraph D {")
	d.drawDAG(dag)
	d.write("}")
	return d.sb.String(), nil
}

func (d *dagRenderer) drawDAG(dag *types.DAG) {
	prefix := dag.Name + "."
	for _, name := range dag.NodeNames() {
		d.drawNode(prefix, name)
	}

	plan := graph.NewPlan(dag)
	for _, t := range dag.Triggers {
		d.write("%s [label=%s shape=\"ellipse\" style=\"dashed\"]", idString(prefix+"trigger."+t.Name), quoteString(triggerLabel(t)))
		for i, name := range plan.Names {
			if plan.InDegree[i] == 0 {
				d.write("%s -> %s", idString(prefix+"trigger."+t.Name), idString(prefix+name))
			}
		}
	}
	for _, name := range dag.NodeNames() {
		for _, e := range dag.Consumers(name) {
			d.write("%s -> %s [label=%s]", idString(prefix+e.Source), idString(prefix+e.Destination), quoteString(e.Slot))
		}
	}
	d.write("label=%s", quoteString(dag.Name))
}

func triggerLabel(t *types.Trigger) string {
	if t.Kind == types.TriggerSchedule {
		return t.Name + "\\n" + t.Schedule
	}
	return t.Name + "\\n" + t.Source
}

func (d *dagRenderer) drawNode(prefix, name string) {
	attr := d.calcAttr(name)
	d.write("%s [label=%s shape=\"record\"%s]", idString(prefix+name), quoteString(name), attr)
}

var statusColors = map[types.StatusType]string{
	types.Pending:   "white",
	types.Running:   "yellow",
	types.Succeeded: "green",
	types.Failed:    "red",
	types.Skipped:   "grey",
}

type nodeComment struct {
	Status   string
	Attempts int
	Error    string `json:",omitempty"`
}

func packToComment(nr *types.NodeResult) string {
	c := nodeComment{Status: nr.Status.String(), Attempts: nr.Attempts}
	if nr.Error != nil {
		c.Error = nr.Error.Error()
	}
	s, _ := json.Marshal(c)
	return formatNL(addSlashes(string(s)))
}

func (d *dagRenderer) calcAttr(name string) string {
	if d.result == nil {
		return ""
	}
	nr := d.result.Node(name)
	if nr == nil {
		return ""
	}
	color, exists := statusColors[nr.Status]
	if !exists {
		color = "white"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(nr))
}

func (d *dagRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
