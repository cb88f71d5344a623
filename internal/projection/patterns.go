// Package projection shows test patterns on camera projectors so an
// operator can position the calibration board.
package projection

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"sort"
)

// ErrUnsupportedResolution indicates no pattern matches a projector.
var ErrUnsupportedResolution = errors.New("projection: unsupported projector resolution")

// Resolution is a projector size in pixels.
type Resolution struct {
	Height int `json:"height" yaml:"height"`
	Width  int `json:"width" yaml:"width"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Height, r.Width)
}

// DefaultResolution is the projector of the supported camera family.
var DefaultResolution = Resolution{Height: 720, Width: 1280}

// Patterns maps projector resolutions to the image shown on them.
type Patterns struct {
	images map[Resolution]*image.RGBA
}

// NewPatterns returns a table holding the generated pattern for
// DefaultResolution.
func NewPatterns() *Patterns {
	return &Patterns{images: map[Resolution]*image.RGBA{
		DefaultResolution: TestPattern(DefaultResolution),
	}}
}

// Add registers img for its own bounds, replacing any previous pattern.
func (p *Patterns) Add(img image.Image) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	p.images[Resolution{Height: b.Dy(), Width: b.Dx()}] = rgba
}

// LoadPNG reads a PNG and registers it. The image must be exactly want.
func (p *Patterns) LoadPNG(path string, want Resolution) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening pattern: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding pattern %s: %w", path, err)
	}
	got := Resolution{Height: img.Bounds().Dy(), Width: img.Bounds().Dx()}
	if got != want {
		return fmt.Errorf("pattern %s is %s, configured as %s", path, got, want)
	}
	p.Add(img)
	return nil
}

// Lookup returns the pattern for r.
func (p *Patterns) Lookup(r Resolution) (*image.RGBA, error) {
	img, ok := p.images[r]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResolution, r)
	}
	return img, nil
}

// Resolutions lists the known resolutions, smallest first.
func (p *Patterns) Resolutions() []Resolution {
	out := make([]Resolution, 0, len(p.images))
	for r := range p.images {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Width < out[j].Width
	})
	return out
}

// TestPattern draws a white frame with a centre cross on black, the
// outline a calibration board should fill.
func TestPattern(r Resolution) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	white := image.NewUniform(color.White)
	border := max(2, r.Height/120)
	marginX, marginY := r.Width/6, r.Height/6
	outer := image.Rect(marginX, marginY, r.Width-marginX, r.Height-marginY)

	for _, rect := range []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+border),
		image.Rect(outer.Min.X, outer.Max.Y-border, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+border, outer.Max.Y),
		image.Rect(outer.Max.X-border, outer.Min.Y, outer.Max.X, outer.Max.Y),
		image.Rect(r.Width/2-border/2, r.Height/2-r.Height/12, r.Width/2+border/2+1, r.Height/2+r.Height/12),
		image.Rect(r.Width/2-r.Height/12, r.Height/2-border/2, r.Width/2+r.Height/12, r.Height/2+border/2+1),
	} {
		draw.Draw(img, rect, white, image.Point{}, draw.Src)
	}
	return img
}
