package capture

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const maxVarDepth = 8

var namedColors = map[string]color.NRGBA{
	"black": {0, 0, 0, 255},
	"white": {255, 255, 255, 255},
}

// resolveColor turns a CSS color value into a color, resolving var() references
// against vars. Supported forms: var(--x[, fallback]), hsl(), hsla(), rgb(), rgba(),
// #rgb, #rrggbb, transparent, black and white.
func resolveColor(value string, vars map[string]string) (color.NRGBA, error) {
	return resolveColorDepth(value, vars, 0)
}

func resolveColorDepth(value string, vars map[string]string, depth int) (color.NRGBA, error) {
	if depth > maxVarDepth {
		return color.NRGBA{}, fmt.Errorf("var() nesting too deep in %q", value)
	}
	v := strings.ToLower(strings.TrimSpace(value))

	switch {
	case v == "":
		return color.NRGBA{}, fmt.Errorf("empty color")
	case v == "transparent" || v == "none":
		return color.NRGBA{}, nil
	case strings.HasPrefix(v, "var("):
		inner, err := functionArgs(v, "var")
		if err != nil {
			return color.NRGBA{}, err
		}
		name, fallback, hasFallback := strings.Cut(inner, ",")
		name = strings.TrimSpace(name)
		if resolved, ok := vars[name]; ok {
			return resolveColorDepth(resolved, vars, depth+1)
		}
		if hasFallback {
			return resolveColorDepth(fallback, vars, depth+1)
		}
		return color.NRGBA{}, fmt.Errorf("undefined variable %s", name)
	case strings.HasPrefix(v, "hsl"):
		return parseHSL(v)
	case strings.HasPrefix(v, "rgb"):
		return parseRGB(v)
	case strings.HasPrefix(v, "#"):
		c, err := colorful.Hex(v)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", value, err)
		}
		r, g, b := c.RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
	}

	if c, ok := namedColors[v]; ok {
		return c, nil
	}
	return color.NRGBA{}, fmt.Errorf("unsupported color %q", value)
}

func functionArgs(v, name string) (string, error) {
	open := strings.IndexByte(v, '(')
	if open < 0 || !strings.HasSuffix(v, ")") || strings.TrimSpace(v[:open]) == "" {
		return "", fmt.Errorf("malformed %s() value %q", name, v)
	}
	return v[open+1 : len(v)-1], nil
}

// colorArgs splits both the legacy comma syntax and the space/slash syntax.
func colorArgs(v, name string) ([]string, error) {
	inner, err := functionArgs(v, name)
	if err != nil {
		return nil, err
	}
	inner = strings.NewReplacer(",", " ", "/", " ").Replace(inner)
	args := strings.Fields(inner)
	if len(args) != 3 && len(args) != 4 {
		return nil, fmt.Errorf("%s() needs 3 or 4 components, got %q", name, v)
	}
	return args, nil
}

func parseHSL(v string) (color.NRGBA, error) {
	args, err := colorArgs(v, "hsl")
	if err != nil {
		return color.NRGBA{}, err
	}
	h, err := strconv.ParseFloat(strings.TrimSuffix(args[0], "deg"), 64)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hue in %q: %w", v, err)
	}
	s, err := parsePercent(args[1])
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid saturation in %q: %w", v, err)
	}
	l, err := parsePercent(args[2])
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid lightness in %q: %w", v, err)
	}
	alpha := 1.0
	if len(args) == 4 {
		if alpha, err = parseAlpha(args[3]); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid alpha in %q: %w", v, err)
		}
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	r, g, b := colorful.Hsl(h, s, l).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(alpha * 255))}, nil
}

func parseRGB(v string) (color.NRGBA, error) {
	args, err := colorArgs(v, "rgb")
	if err != nil {
		return color.NRGBA{}, err
	}
	var channels [3]uint8
	for i := 0; i < 3; i++ {
		var f float64
		if strings.HasSuffix(args[i], "%") {
			p, err := parsePercent(args[i])
			if err != nil {
				return color.NRGBA{}, err
			}
			f = p * 255
		} else if f, err = strconv.ParseFloat(args[i], 64); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid channel in %q: %w", v, err)
		}
		channels[i] = uint8(math.Round(clamp(f, 0, 255)))
	}
	alpha := 1.0
	if len(args) == 4 {
		if alpha, err = parseAlpha(args[3]); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid alpha in %q: %w", v, err)
		}
	}
	return color.NRGBA{R: channels[0], G: channels[1], B: channels[2], A: uint8(math.Round(alpha * 255))}, nil
}

func parsePercent(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, err
	}
	return clamp(f/100, 0, 1), nil
}

func parseAlpha(s string) (float64, error) {
	if strings.HasSuffix(s, "%") {
		return parsePercent(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return clamp(f, 0, 1), nil
}

// parseLength reads a pixel length such as "32px" or "1.5". Unknown units read as 0.
func parseLength(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
