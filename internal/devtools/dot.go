package devtools

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

var kindShapes = map[string]string{
	"cell":     "box",
	"computed": "ellipse",
	"async":    "doubleoctagon",
	"list":     "box3d",
	"map":      "box3d",
	"set":      "box3d",
}

// WriteDOT renders nodes and edges as a Graphviz digraph. Edges point from
// a dependency to its dependent, the direction changes propagate. Output
// is deterministic for sorted input.
func WriteDOT(w io.Writer, nodes []NodeView, edges []Edge) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph lx {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, `  node [fontname="Helvetica"];`)
	for _, n := range nodes {
		attrs := fmt.Sprintf("label=%s, shape=%s", strconv.Quote(dotLabel(n)), shapeFor(n.Kind.String()))
		if n.LastError != "" {
			attrs += ", color=red"
		}
		if n.Listeners > 0 {
			attrs += ", penwidth=2"
		}
		fmt.Fprintf(bw, "  n%d [%s];\n", n.ID, attrs)
	}
	for _, e := range edges {
		fmt.Fprintf(bw, "  n%d -> n%d;\n", e.To, e.From)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func dotLabel(n NodeView) string {
	label := n.NodeInfo.String()
	if n.Listeners > 0 {
		label += "\n" + strconv.Itoa(n.Listeners) + " listeners"
	}
	return label
}

func shapeFor(kind string) string {
	if s, ok := kindShapes[kind]; ok {
		return s
	}
	return "ellipse"
}
