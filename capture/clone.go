package capture

import (
	"fmt"
	"strings"
	"workflow-preview/core"

	"github.com/sirupsen/logrus"
)

// OffscreenOffset is where containers are positioned, outside any viewport.
const OffscreenOffset = -9999

// inheritedProperties are copied from the nearest ancestor that declares them.
var inheritedProperties = []string{"color", "font-size", "font-family"}

// CloneInTheme deep-copies src into a new off-screen container rendered in theme and
// attaches it to doc. The copy carries a snapshot of every element's computed style and
// shares no state with the live tree. Callers must Detach the container when done.
func CloneInTheme(doc *Document, src *Node, theme core.Theme) (*Container, error) {
	if doc == nil || src == nil {
		return nil, core.NewError(core.KindElementNotFound, "source element not found")
	}
	if theme != core.ThemeLight && theme != core.ThemeDark {
		return nil, core.NewError(core.KindValidation, "unknown theme %q", theme)
	}

	doc.mu.RLock()
	clone := cloneWithStyles(src, inheritedStyle(src))
	box := src.Box
	doc.mu.RUnlock()

	retagTheme(clone, theme)

	container := &Container{
		Theme: theme,
		Vars:  ThemeVars(theme),
		Style: map[string]string{
			"position":       "absolute",
			"left":           fmt.Sprintf("%dpx", OffscreenOffset),
			"top":            fmt.Sprintf("%dpx", OffscreenOffset),
			"width":          formatPx(box.W),
			"height":         formatPx(box.H),
			"overflow":       "hidden",
			"pointer-events": "none",
		},
		Box:  Box{X: OffscreenOffset, Y: OffscreenOffset, W: box.W, H: box.H},
		Root: clone,
	}
	if theme == core.ThemeDark {
		container.Classes = append(container.Classes, "dark")
	}

	doc.attach(container)
	logrus.WithFields(logrus.Fields{"theme": theme, "width": box.W, "height": box.H}).Debug("Off-screen container attached")
	return container, nil
}

// inheritedStyle collects the inherited properties src would receive from its ancestors.
func inheritedStyle(src *Node) map[string]string {
	inherited := map[string]string{}
	var chain []*Node
	for p := src.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	// Apply from the root down so closer ancestors win.
	for i := len(chain) - 1; i >= 0; i-- {
		for _, prop := range inheritedProperties {
			if v, ok := chain[i].Style[prop]; ok {
				inherited[prop] = v
			}
		}
	}
	return inherited
}

// cloneWithStyles copies n and its subtree, snapshotting the computed style of every
// element. var() references stay symbolic so the container's theme decides their value.
func cloneWithStyles(n *Node, inherited map[string]string) *Node {
	computed := make(map[string]string, len(n.Style)+len(inherited))
	for prop, v := range inherited {
		computed[prop] = v
	}
	for prop, v := range n.Style {
		computed[prop] = v
	}

	clone := &Node{
		Tag:     n.Tag,
		ID:      n.ID,
		Classes: append([]string(nil), n.Classes...),
		Attrs:   make(map[string]string, len(n.Attrs)),
		Style:   computed,
		Text:    n.Text,
		Box:     n.Box,
	}
	for k, v := range n.Attrs {
		clone.Attrs[k] = v
	}

	childInherited := make(map[string]string, len(inheritedProperties))
	for _, prop := range inheritedProperties {
		if v, ok := computed[prop]; ok {
			childInherited[prop] = v
		}
	}
	for _, child := range n.Children {
		clone.Append(cloneWithStyles(child, childInherited))
	}
	return clone
}

func retagTheme(root *Node, theme core.Theme) {
	root.Walk(func(n *Node) bool {
		if _, ok := n.Attrs["data-theme"]; ok {
			n.Attrs["data-theme"] = string(theme)
		}
		return true
	})
}

func formatPx(f float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
	return s + "px"
}
