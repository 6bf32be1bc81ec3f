// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"strconv"
	"strings"
	"teslacam/pkg/clip"
	"time"
)

// NodeKind kind of filter graph node.
type NodeKind int

// Node kinds.
const (
	NodeConcat NodeKind = iota
	NodeScalePad
	NodeLabel
	NodePlaceholder
	NodeStack
	NodeFPS
	NodeText
	NodeHUD
)

func (k NodeKind) String() string {
	switch k {
	case NodeConcat:
		return "concat"
	case NodeScalePad:
		return "scalepad"
	case NodeLabel:
		return "label"
	case NodePlaceholder:
		return "placeholder"
	case NodeStack:
		return "stack"
	case NodeFPS:
		return "fps"
	case NodeText:
		return "text"
	case NodeHUD:
		return "hud"
	}
	return "unknown"
}

// Node is one filter chain with labeled input and output pads.
type Node struct {
	Kind   NodeKind
	Inputs []string
	Filter string
	Output string
}

func (n Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(n.Filter)
	b.WriteString("[" + n.Output + "]")
	return b.String()
}

// Graph composition graph, rendered as a -filter_complex argument.
type Graph struct {
	Nodes []Node
}

// Output returns the label of the last node.
func (g Graph) Output() string {
	if len(g.Nodes) == 0 {
		return ""
	}
	return g.Nodes[len(g.Nodes)-1].Output
}

// Kind returns the nodes of a kind.
func (g Graph) Kind(kind NodeKind) []Node {
	var nodes []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func (g Graph) String() string {
	nodes := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n.String())
	}
	return strings.Join(nodes, ";")
}

func (g *Graph) add(kind NodeKind, inputs []string, filter string, output string) string {
	g.Nodes = append(g.Nodes, Node{
		Kind:   kind,
		Inputs: inputs,
		Filter: filter,
		Output: output,
	})
	return output
}

// AutoColumns returns the column count for n cameras.
func AutoColumns(n int) int {
	switch {
	case n <= 1:
		return 1
	case n <= 3:
		return n
	case n == 4:
		return 2
	}
	return 3
}

// Layout canvas grid.
type Layout struct {
	Columns    int
	Rows       int
	CellWidth  int
	CellHeight int
}

// NewLayout splits a width x height canvas into cells for n cameras.
// Cell sizes are rounded down to even numbers.
func NewLayout(width, height, n, columns int) Layout {
	if n < 1 {
		n = 1
	}
	if columns <= 0 {
		columns = AutoColumns(n)
	}
	if columns > n {
		columns = n
	}
	rows := (n + columns - 1) / columns
	return Layout{
		Columns:    columns,
		Rows:       rows,
		CellWidth:  even(width / columns),
		CellHeight: even(height / rows),
	}
}

// Width of the canvas.
func (l Layout) Width() int { return l.CellWidth * l.Columns }

// Height of the canvas.
func (l Layout) Height() int { return l.CellHeight * l.Rows }

// Cell returns the pixel offset of cell i.
func (l Layout) Cell(i int) (int, int) {
	return (i % l.Columns) * l.CellWidth, (i / l.Columns) * l.CellHeight
}

func even(v int) int {
	return v &^ 1
}

// GraphOptions composition options. Input i of the
// encoder is Parts[i], the HUD sequence comes after them.
type GraphOptions struct {
	Parts     []Part
	Cameras   []clip.Camera
	Layout    Layout
	FrameRate float64
	Duration  time.Duration

	FontFile string
	Labels   bool

	// Empty when the location overlay is off or unknown.
	LocationText string

	Timestamp bool
	Start     time.Time

	HUD bool
}

// BuildGraph builds the composition graph for a cut list.
func BuildGraph(opts GraphOptions) Graph {
	var g Graph
	l := opts.Layout
	size := strconv.Itoa(l.CellWidth) + ":" + strconv.Itoa(l.CellHeight)
	rate := formatFloat(opts.FrameRate)

	indexes := make(map[clip.Camera][]int)
	for i, p := range opts.Parts {
		indexes[p.Camera] = append(indexes[p.Camera], i)
	}

	cells := make([]string, 0, len(opts.Cameras))
	for n, cam := range opts.Cameras {
		inputs := indexes[cam]
		id := strconv.Itoa(n)

		var cell string
		switch len(inputs) {
		case 0:
			filter := "color=c=black:s=" + strconv.Itoa(l.CellWidth) + "x" + strconv.Itoa(l.CellHeight) +
				":r=" + rate + ":d=" + formatSeconds(opts.Duration)
			cell = g.add(NodePlaceholder, nil, filter, "p"+id)
		case 1:
			cell = g.add(NodeScalePad, []string{inputPad(inputs[0])}, scalePad(size), "s"+id)
		default:
			pads := make([]string, 0, len(inputs))
			for _, i := range inputs {
				pads = append(pads, inputPad(i))
			}
			filter := "concat=n=" + strconv.Itoa(len(inputs)) + ":v=1:a=0"
			concat := g.add(NodeConcat, pads, filter, "c"+id)
			cell = g.add(NodeScalePad, []string{concat}, scalePad(size), "s"+id)
		}

		if opts.Labels {
			filter := drawtext(opts.FontFile, l.CellHeight/18, "x=12:y=12") +
				":expansion=none:text=" + filterValue(cam.Label())
			cell = g.add(NodeLabel, []string{cell}, filter, "l"+id)
		}
		cells = append(cells, cell)
	}

	if len(cells) == 0 {
		return Graph{}
	}

	final := cells[0]
	if len(cells) > 1 {
		positions := make([]string, 0, len(cells))
		for i := range cells {
			x, y := l.Cell(i)
			positions = append(positions, strconv.Itoa(x)+"_"+strconv.Itoa(y))
		}
		filter := "xstack=inputs=" + strconv.Itoa(len(cells)) +
			":layout=" + strings.Join(positions, "|") + ":fill=black"
		final = g.add(NodeStack, cells, filter, "stack")
	}
	final = g.add(NodeFPS, []string{final}, "fps="+rate, "base")

	fontSize := l.Height() / 30
	if opts.LocationText != "" {
		filter := drawtext(opts.FontFile, fontSize, "x=16:y=h-th-16") +
			":expansion=none:text=" + filterValue(opts.LocationText)
		final = g.add(NodeText, []string{final}, filter, "loc")
	}
	if opts.Timestamp {
		epoch := strconv.FormatInt(opts.Start.Unix(), 10)
		text := "%{pts:gmtime:" + epoch + ":%Y-%m-%d %T}"
		filter := drawtext(opts.FontFile, fontSize, "x=w-tw-16:y=h-th-16") +
			":text=" + filterValue(text)
		final = g.add(NodeText, []string{final}, filter, "ts")
	}
	if opts.HUD {
		hud := g.add(NodeFPS, []string{inputPad(len(opts.Parts))}, "fps="+rate+",setpts=PTS-STARTPTS", "hudfps")
		final = g.add(NodeHUD, []string{final, hud}, "overlay=0:0:shortest=1", "hud")
	}

	// Give the last node a fixed label for -map.
	g.Nodes[len(g.Nodes)-1].Output = outputPad
	return g
}

const outputPad = "out"

func inputPad(i int) string {
	return strconv.Itoa(i) + ":v"
}

func scalePad(size string) string {
	return "setpts=PTS-STARTPTS," +
		"scale=" + size + ":force_original_aspect_ratio=decrease," +
		"pad=" + size + ":(ow-iw)/2:(oh-ih)/2:color=black,setsar=1"
}

func drawtext(fontFile string, fontSize int, position string) string {
	if fontSize < 12 {
		fontSize = 12
	}
	s := "drawtext="
	if fontFile != "" {
		s += "fontfile=" + filterValue(fontFile) + ":"
	}
	return s + "fontcolor=white:fontsize=" + strconv.Itoa(fontSize) +
		":box=1:boxcolor=black@0.5:boxborderw=6:" + position
}

var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphEscaper  = strings.NewReplacer(
		`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`)
)

// filterValue escapes a filter option value in two levels, first for
// the option parser and then for the filter graph parser.
// Control characters are replaced by spaces.
func filterValue(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	return graphEscaper.Replace(optionEscaper.Replace(s))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
