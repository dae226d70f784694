package app

import (
	"image/color"
	"testing"
	"time"

	"github.com/radiosonde-watch/autorx/internal/spectrum"
)

func testRows(sweeps, bins int) []sweepRow {
	rows := make([]sweepRow, sweeps)
	for y := range rows {
		rows[y].Timestamp = time.Date(2026, 8, 25, 5, 0, y, 0, time.UTC)
		for x := 0; x < bins; x++ {
			rows[y].Bins = append(rows[y].Bins, spectrum.Bin{
				Frequency: 400_050_000 + float64(x)*800,
				Power:     -100 + float64(x),
			})
		}
	}
	return rows
}

func TestRender_Dimensions(t *testing.T) {
	r, err := NewRenderer("", false)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	img, err := r.Render(testRows(10, 64), -100, -40)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 10 {
		t.Errorf("Image is %dx%d, want 64x10", bounds.Dx(), bounds.Dy())
	}
}

func TestRender_Empty(t *testing.T) {
	r, _ := NewRenderer("", false)
	if _, err := r.Render(nil, -100, -40); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestPowerColor_Gradient(t *testing.T) {
	cold := powerColor(-100, -100, -40)
	hot := powerColor(-40, -100, -40)

	cr, _, _, _ := cold.RGBA()
	hr, hg, hb, _ := hot.RGBA()
	if hr <= cr {
		t.Error("Stronger power should map to a hotter color")
	}
	if hr <= hg || hr <= hb {
		t.Error("The strongest power should sit at the red end of the gradient")
	}

	_, mg, _, _ := powerColor(-70, -100, -40).RGBA()
	if mg == 0 {
		t.Error("Mid-range power should pass through the green part of the gradient")
	}

	if c := powerColor(-60, -50, -50); c != color.Black {
		t.Error("A degenerate power range should map to the no-data color")
	}
}

func TestPowerRange(t *testing.T) {
	rows := testRows(2, 8)
	minPower, maxPower := powerRange(rows)

	if minPower != -100 {
		t.Errorf("minPower = %f, want -100", minPower)
	}
	if maxPower != -93 {
		t.Errorf("maxPower = %f, want -93", maxPower)
	}
}
