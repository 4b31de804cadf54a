package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Layout of the rendered workflow canvas, in CSS pixels.
const (
	BlockWidth  = 250
	BlockHeight = 100

	// Canvas size used when a workflow has no blocks.
	EmptyCanvasWidth  = 1200
	EmptyCanvasHeight = 630

	DefaultWorkflowColor = "#3972F6"

	// MaxCoordinate bounds block positions on either axis.
	MaxCoordinate = 1 << 20
)

type (
	// WorkflowState is the saved state of a workflow as the builder persists it.
	WorkflowState struct {
		Blocks map[string]Block `json:"blocks"`
		Edges  []Edge           `json:"edges"`
		// Color is the workflow's accent color, a hex value.
		Color string `json:"color,omitempty"`
	}

	Block struct {
		ID       string   `json:"id"`
		Type     string   `json:"type"`
		Name     string   `json:"name"`
		Position Position `json:"position"`
		Enabled  *bool    `json:"enabled,omitempty"`
	}

	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	Edge struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		Target string `json:"target"`
	}
)

// ParseWorkflowState decodes a saved workflow state.
func ParseWorkflowState(data []byte) (WorkflowState, error) {
	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return WorkflowState{}, fmt.Errorf("invalid workflow state: %w", err)
	}
	for id, block := range state.Blocks {
		if !inCanvas(block.Position.X) || !inCanvas(block.Position.Y) {
			return WorkflowState{}, fmt.Errorf("invalid workflow state: block %q is outside the canvas (%g, %g)",
				id, block.Position.X, block.Position.Y)
		}
	}
	return state, nil
}

func inCanvas(v float64) bool {
	return !math.IsNaN(v) && math.Abs(v) <= MaxCoordinate
}

// BuildDocument lays out a workflow as a live scene tree rooted at a ".react-flow"
// element: edges as lines under ".react-flow__edges", blocks as ".workflow-block"
// elements under ".react-flow__nodes".
func BuildDocument(state WorkflowState) *Document {
	ids := make([]string, 0, len(state.Blocks))
	for id := range state.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	root := NewNode("div", "react-flow")
	root.ID = "workflow-canvas"
	root.SetAttr("data-theme", "light")
	root.SetStyle("background-color", "var(--background)").
		SetStyle("color", "var(--foreground)").
		SetStyle("font-family", "Inter, sans-serif").
		SetStyle("font-size", "14px")
	root.Box = canvasBox(state, ids)

	accent := state.Color
	if accent == "" {
		accent = DefaultWorkflowColor
	}

	edges := NewNode("div", "react-flow__edges")
	edges.Box = root.Box
	for _, e := range state.Edges {
		src, okSrc := state.Blocks[e.Source]
		dst, okDst := state.Blocks[e.Target]
		if !okSrc || !okDst {
			logrus.WithFields(logrus.Fields{"edge_id": e.ID, "source": e.Source, "target": e.Target}).Warn("Skipping edge with unknown block")
			continue
		}
		edges.Append(edgeNode(e, src, dst))
	}

	nodes := NewNode("div", "react-flow__nodes")
	nodes.Box = root.Box
	for _, id := range ids {
		block := state.Blocks[id]
		if block.ID == "" {
			block.ID = id
		}
		nodes.Append(blockNode(block, accent))
	}

	root.Append(edges, nodes)
	return NewDocument(root)
}

func canvasBox(state WorkflowState, ids []string) Box {
	if len(ids) == 0 {
		return Box{W: EmptyCanvasWidth, H: EmptyCanvasHeight}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, id := range ids {
		p := state.Blocks[id].Position
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X+BlockWidth)
		maxY = math.Max(maxY, p.Y+BlockHeight)
	}
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func blockNode(block Block, accent string) *Node {
	x, y := block.Position.X, block.Position.Y

	n := NewNode("div", "workflow-block")
	n.ID = block.ID
	n.SetAttr("data-block-type", block.Type)
	n.SetStyle("background-color", "var(--card)").
		SetStyle("color", "var(--card-foreground)").
		SetStyle("border-color", "var(--border)").
		SetStyle("border-width", "1px").
		SetStyle("border-radius", "8px")
	n.Box = Box{X: x, Y: y, W: BlockWidth, H: BlockHeight}
	if block.Enabled != nil && !*block.Enabled {
		n.AddClass("workflow-block--disabled")
		n.SetStyle("background-color", "var(--muted)")
	}

	icon := NewNode("div", "workflow-block__icon")
	icon.SetStyle("background-color", accent).SetStyle("border-radius", "6px")
	icon.Box = Box{X: x + 12, Y: y + 12, W: 24, H: 24}

	name := block.Name
	if name == "" {
		name = block.Type
	}
	title := NewNode("div", "workflow-block__title")
	title.Text = name
	title.SetStyle("font-size", "14px")
	title.Box = Box{X: x + 44, Y: y + 12, W: BlockWidth - 56, H: 24}

	kind := NewNode("div", "workflow-block__type")
	kind.Text = block.Type
	kind.SetStyle("color", "var(--muted-foreground)").SetStyle("font-size", "12px")
	kind.Box = Box{X: x + 12, Y: y + 52, W: BlockWidth - 24, H: 20}

	return n.Append(icon, title, kind)
}

func edgeNode(e Edge, src, dst Block) *Node {
	n := NewNode("line", "react-flow__edge")
	n.ID = e.ID
	n.SetAttr("x1", formatCoord(src.Position.X+BlockWidth)).
		SetAttr("y1", formatCoord(src.Position.Y+BlockHeight/2)).
		SetAttr("x2", formatCoord(dst.Position.X)).
		SetAttr("y2", formatCoord(dst.Position.Y+BlockHeight/2))
	n.SetStyle("stroke", "var(--muted-foreground)").SetStyle("stroke-width", "2px")
	return n
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
