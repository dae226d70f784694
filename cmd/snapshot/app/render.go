package app

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"

	"github.com/radiosonde-watch/autorx/internal/spectrum"
)

const (
	dpi      = 72.0
	fontSize = 14.0
	spacing  = 1.1

	topBorder    = 30 // frequency scale
	bottomBorder = 90 // info block

	pixelsPerLabel = 250
)

// sweepRow is one rendered line of the waterfall.
type sweepRow struct {
	Timestamp time.Time
	Bins      []spectrum.Bin
}

// Renderer draws stored sweeps as a waterfall, newest row at the bottom.
type Renderer struct {
	fontCtx  *freetype.Context
	annotate bool
}

// NewRenderer creates a renderer. fontPath may be empty when annotations are
// disabled.
func NewRenderer(fontPath string, annotate bool) (*Renderer, error) {
	r := Renderer{annotate: annotate}

	if annotate {
		fontBytes, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("reading font: %w", err)
		}

		parsedFont, err := freetype.ParseFont(fontBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing font: %w", err)
		}

		ctx := freetype.NewContext()
		ctx.SetDPI(dpi)
		ctx.SetFont(parsedFont)
		ctx.SetFontSize(fontSize)
		ctx.SetSrc(image.White)
		ctx.SetHinting(font.HintingFull)
		r.fontCtx = ctx
	}

	return &r, nil
}

// Render draws the waterfall. Every row must cover the same band; the first
// row defines the image width.
func (r *Renderer) Render(rows []sweepRow, minPower, maxPower float64) (*image.RGBA, error) {
	if len(rows) == 0 || len(rows[0].Bins) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}

	width := len(rows[0].Bins)
	height := len(rows)

	border := 0
	if r.annotate {
		border = topBorder + bottomBorder
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height+border))

	top := 0
	if r.annotate {
		top = topBorder
	}

	for y, row := range rows {
		for x := 0; x < width; x++ {
			if x >= len(row.Bins) {
				img.Set(x, top+y, noDataColor)
				continue
			}
			img.Set(x, top+y, powerColor(row.Bins[x].Power, minPower, maxPower))
		}
	}

	if r.annotate {
		if err := r.drawAnnotations(img, rows); err != nil {
			return nil, err
		}
	}

	return img, nil
}

func (r *Renderer) drawAnnotations(img *image.RGBA, rows []sweepRow) error {
	r.fontCtx.SetClip(img.Bounds())
	r.fontCtx.SetDst(img)

	first := rows[0]
	freqMin := first.Bins[0].Frequency
	freqMax := first.Bins[len(first.Bins)-1].Frequency
	width := len(first.Bins)

	// Frequency scale along the top edge.
	count := width / pixelsPerLabel
	if count == 0 {
		count = 1
	}
	hzPerLabel := (freqMax - freqMin) / float64(count)
	pxPerLabel := width / count

	for si := 0; si < count; si++ {
		hz := freqMin + (float64(si) * hzPerLabel)
		px := si * pxPerLabel

		for i := 0; i < topBorder; i++ {
			img.Set(px, i, image.White)
		}

		pt := freetype.Pt(px+5, topBorder-10)
		if _, err := r.fontCtx.DrawString(humanHz(hz), pt); err != nil {
			return fmt.Errorf("drawing frequency scale: %w", err)
		}
	}

	// Info block under the waterfall.
	last := rows[len(rows)-1]
	lines := []string{
		"First sweep: " + first.Timestamp.Format(time.DateTime),
		"Last sweep:  " + last.Timestamp.Format(time.DateTime),
		fmt.Sprintf("Band: %s to %s", humanHz(freqMin), humanHz(freqMax)),
		fmt.Sprintf("Sweeps: %d", len(rows)),
	}

	pt := freetype.Pt(3, img.Bounds().Dy()-bottomBorder+20)
	for _, line := range lines {
		if _, err := r.fontCtx.DrawString(line, pt); err != nil {
			return fmt.Errorf("drawing info block: %w", err)
		}
		pt.Y += r.fontCtx.PointToFixed(fontSize * spacing)
	}

	return nil
}

func humanHz(hz float64) string {
	si, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.3f %sHz", si, suffix)
}
