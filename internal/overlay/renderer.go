// Package overlay composites a synthesized speed dial onto video frames.
package overlay

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"codeberg.org/go-fonts/liberation/liberationsansbold"
	"git.sr.ht/~sbinet/gg"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	"github.com/banshee-data/gps.report/internal/units"
)

// MaxDialSpeed is the display speed, in the active unit, at which the dial
// arc reaches a full sweep.
const MaxDialSpeed = 200.0

// Status carries the values the renderer reads on each tick. The renderer is
// a pure consumer: it never mutates session state.
type Status struct {
	SpeedMph  float64
	Unit      string
	Connected bool
}

// Renderer draws the dial at a fixed position over a frame. Safe to reuse
// across frames; rendering is idempotent for identical inputs.
type Renderer struct {
	readoutFace xfont.Face
	labelFace   xfont.Face
}

// NewRenderer parses the bundled typeface and prepares the dial faces.
func NewRenderer() (*Renderer, error) {
	fnt, err := opentype.Parse(liberationsansbold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay typeface: %w", err)
	}

	readout, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size: 34, DPI: 72, Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build readout face: %w", err)
	}
	label, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size: 15, DPI: 72, Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build label face: %w", err)
	}

	return &Renderer{readoutFace: readout, labelFace: label}, nil
}

// Render returns a new composited image: the raw frame with the dial drawn
// over its lower-left corner. The input frame is not modified.
func (r *Renderer) Render(frame image.Image, st Status) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), frame, bounds.Min, draw.Src)

	dc := gg.NewContextForRGBA(out)

	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	radius := math.Min(80, math.Min(w, h)/4)
	margin := radius * 0.3
	cx := margin + radius
	cy := h - margin - radius

	display := units.ConvertSpeed(st.SpeedMph, st.Unit)
	fraction := math.Min(display/MaxDialSpeed, 1.0)

	// Dial face.
	dc.SetRGBA(0, 0, 0, 0.45)
	dc.DrawCircle(cx, cy, radius)
	dc.Fill()

	// Track ring plus the sweep arc, clockwise from twelve o'clock.
	ringR := radius * 0.86
	dc.SetLineWidth(radius * 0.09)
	dc.SetLineCap(gg.LineCapRound)

	dc.SetRGBA(1, 1, 1, 0.25)
	dc.DrawArc(cx, cy, ringR, 0, 2*math.Pi)
	dc.Stroke()

	if fraction > 0 {
		start := -math.Pi / 2
		dc.SetRGBA(0.20, 0.78, 0.35, 0.95)
		dc.DrawArc(cx, cy, ringR, start, start+fraction*2*math.Pi)
		dc.Stroke()
	}

	// Readout and unit label.
	scale := radius / 80
	dc.SetFontFace(r.readoutFace)
	dc.SetRGBA(1, 1, 1, 1)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", display), cx, cy-8*scale, 0.5, 0.5)

	dc.SetFontFace(r.labelFace)
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawStringAnchored(st.Unit, cx, cy+22*scale, 0.5, 0.5)

	// Connectivity indicator.
	if st.Connected {
		dc.SetRGBA(0.20, 0.78, 0.35, 1)
	} else {
		dc.SetRGBA(0.9, 0.22, 0.21, 1)
	}
	dc.DrawCircle(cx+radius*0.62, cy-radius*0.62, radius*0.08)
	dc.Fill()

	return out
}
