package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PageSpec describes a synthetic page. Regions are in page pixels.
type PageSpec struct {
	Width  int
	Height int
	Title  string
	Tables []image.Rectangle
	Charts []image.Rectangle
}

// DefaultPageSpec returns a letter-sized page with a title, one table and one chart.
func DefaultPageSpec() PageSpec {
	return PageSpec{
		Width:  850,
		Height: 1100,
		Title:  "Quarterly Revenue",
		Tables: []image.Rectangle{image.Rect(80, 120, 770, 420)},
		Charts: []image.Rectangle{image.Rect(120, 560, 730, 960)},
	}
}

// GeneratePage renders spec onto a white canvas: tables as ruled grids,
// charts as bar plots and the title as text above the first chart.
func GeneratePage(spec PageSpec) *image.NRGBA {
	img := imaging.New(spec.Width, spec.Height, color.White)

	for _, r := range spec.Tables {
		drawGrid(img, r, 5, 4)
	}
	for _, r := range spec.Charts {
		drawBars(img, r, 6)
	}

	if spec.Title != "" {
		y := 40
		if len(spec.Charts) > 0 {
			y = spec.Charts[0].Min.Y - 12
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.Black),
			Face: basicfont.Face7x13,
		}
		x := (spec.Width - d.MeasureString(spec.Title).Ceil()) / 2
		d.Dot = fixed.P(x, y)
		d.DrawString(spec.Title)
	}
	return img
}

func drawGrid(img draw.Image, r image.Rectangle, rows, cols int) {
	black := image.NewUniform(color.Black)
	for i := 0; i <= rows; i++ {
		y := r.Min.Y + i*r.Dy()/rows
		draw.Draw(img, image.Rect(r.Min.X, y, r.Max.X, y+2), black, image.Point{}, draw.Src)
	}
	for j := 0; j <= cols; j++ {
		x := r.Min.X + j*r.Dx()/cols
		draw.Draw(img, image.Rect(x, r.Min.Y, x+2, r.Max.Y), black, image.Point{}, draw.Src)
	}
}

func drawBars(img draw.Image, r image.Rectangle, bars int) {
	axis := image.NewUniform(color.Black)
	fill := image.NewUniform(color.RGBA{R: 40, G: 90, B: 200, A: 255})
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-2, r.Max.X, r.Max.Y), axis, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+2, r.Max.Y), axis, image.Point{}, draw.Src)

	slot := r.Dx() / bars
	for i := 0; i < bars; i++ {
		h := r.Dy() * (i + 2) / (bars + 2)
		x := r.Min.X + i*slot + slot/4
		draw.Draw(img, image.Rect(x, r.Max.Y-2-h, x+slot/2, r.Max.Y-2), fill, image.Point{}, draw.Src)
	}
}

// SavePage renders spec and writes it to dir/name, returning the path.
func SavePage(t *testing.T, dir, name string, spec PageSpec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(GeneratePage(spec), path))
	return path
}
