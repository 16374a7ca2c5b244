// Package sparkline turns a history series into the SVG path data of a small
// background chart.
package sparkline

import (
	"math"
	"strconv"
	"strings"

	"github.com/jkaberg/jkbms-reactor/internal/history"
)

const (
	// DefaultMinRange is the smallest vertical span, in the unit of the
	// series, that a chart is stretched to. Flatter signals are centred.
	DefaultMinRange = 1.0
	// DefaultPadding is the fraction of the value range added above and below.
	DefaultPadding = 0.05
)

// Viewport is the coordinate space the path is drawn in.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultViewport matches the 0 0 100 100 viewBox used by the panel.
var DefaultViewport = Viewport{Width: 100, Height: 100}

// Options tunes the vertical scaling.
type Options struct {
	MinRange float64
	Padding  float64
}

// DefaultOptions returns the scaling used by the reactor panel.
func DefaultOptions() Options {
	return Options{MinRange: DefaultMinRange, Padding: DefaultPadding}
}

// Coord is a point in viewport space.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathSpec is the result of ToPath. Empty is set when the series cannot be
// plotted; all other fields are zero in that case.
type PathSpec struct {
	Empty  bool     `json:"empty"`
	Min    float64  `json:"min,omitempty"`
	Max    float64  `json:"max,omitempty"`
	Coords []Coord  `json:"coords,omitempty"`
	Line   string   `json:"line,omitempty"`
	Area   string   `json:"area,omitempty"`
	View   Viewport `json:"viewport"`
}

func empty(vp Viewport) PathSpec { return PathSpec{Empty: true, View: vp} }

// ToPath maps series onto vp. Fewer than two points, or a series whose first
// and last timestamps coincide, yields an empty PathSpec.
func ToPath(series history.Series, vp Viewport, opts Options) PathSpec {
	if len(series) < 2 {
		return empty(vp)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range series {
		v := round3(p.Value)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	span := hi - lo
	if span < opts.MinRange {
		center := (lo + hi) / 2
		lo = center - opts.MinRange/2
		hi = center + opts.MinRange/2
	} else {
		lo -= span * opts.Padding
		hi += span * opts.Padding
	}

	start := series[0].TimestampMs
	timeRange := float64(series[len(series)-1].TimestampMs - start)
	if timeRange <= 0 || hi <= lo {
		return empty(vp)
	}

	coords := make([]Coord, len(series))
	var b strings.Builder
	for i, p := range series {
		c := Coord{
			X: float64(p.TimestampMs-start) / timeRange * vp.Width,
			Y: vp.Height - (p.Value-lo)/(hi-lo)*vp.Height,
		}
		coords[i] = c
		if i == 0 {
			b.WriteString("M ")
		} else {
			b.WriteString(" L ")
		}
		b.WriteString(fmt1(c.X))
		b.WriteByte(',')
		b.WriteString(fmt1(c.Y))
	}
	line := b.String()

	return PathSpec{
		Min:    lo,
		Max:    hi,
		Coords: coords,
		Line:   line,
		Area:   line + " L " + fmt1(vp.Width) + "," + fmt1(vp.Height) + " L " + fmt1(0) + "," + fmt1(vp.Height) + " Z",
		View:   vp,
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func fmt1(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
