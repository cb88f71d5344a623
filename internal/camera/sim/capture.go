package sim

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
)

// pixelPitch is the spacing of simulated points at full resolution, mm.
const pixelPitch = 0.5

var errReleased = errors.New("sim: frame already released")

var downsampleFactors = map[camera.Downsampling]int{
	camera.DownsamplingNone:  1,
	camera.DownsamplingBy2x2: 2,
	camera.DownsamplingBy3x3: 3,
	camera.DownsamplingBy4x4: 4,
}

// Capture implements camera.Capturer. Exactly one of a settings file and
// capture-assistant parameters must be given.
func (d *Driver) Capture(ctx context.Context, dev camera.Device, s camera.Settings) (camera.Frame, error) {
	if (s.Path == "") == (s.Suggest == nil) {
		return nil, fmt.Errorf("%w: settings need exactly one of a path or suggest parameters", camera.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	err = c.command()
	wait := c.cfg.CaptureTime
	depth := c.board.Position[2]
	size := c.cfg.Frame
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return &frame{height: size.Height, width: size.Width, pitch: pixelPitch, depth: depth, has3D: true}, nil
}

// Capture2D implements camera.Capturer.
func (d *Driver) Capture2D(ctx context.Context, dev camera.Device, settingsPath string) (camera.Frame, error) {
	if settingsPath == "" {
		return nil, fmt.Errorf("%w: 2D settings path is empty", camera.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := asCamera(dev)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command(); err != nil {
		return nil, err
	}
	return &frame{height: c.cfg.Frame.Height, width: c.cfg.Frame.Width, pitch: pixelPitch}, nil
}

// frame is a tilted plane in front of the camera.
type frame struct {
	height, width int
	pitch         float64
	depth         float64
	has3D         bool
	released      bool
}

func (f *frame) Downsample(d camera.Downsampling) error {
	if f.released {
		return errReleased
	}
	n, ok := downsampleFactors[d]
	if !ok {
		return fmt.Errorf("%w: downsampling %q", camera.ErrInvalidArgument, d)
	}
	f.height /= n
	f.width /= n
	f.pitch *= float64(n)
	return nil
}

func (f *frame) Release() { f.released = true }

func (f *frame) Encode(w io.Writer, format camera.Format) error {
	if f.released {
		return errReleased
	}
	if !f.has3D && format != camera.FormatColorImage {
		return fmt.Errorf("%w: a 2D frame has no %s", camera.ErrInvalidArgument, format)
	}
	switch format {
	case camera.FormatZDF:
		return f.encodeZDF(w)
	case camera.FormatPointCloud:
		return f.encodePLY(w)
	case camera.FormatColorImage:
		return png.Encode(w, f.colorImage())
	case camera.FormatDepthImage:
		return png.Encode(w, f.depthImage())
	default:
		return fmt.Errorf("%w: format %q", camera.ErrInvalidArgument, format)
	}
}

func (f *frame) point(row, col int) (x, y, z float64) {
	x = (float64(col) - float64(f.width)/2) * f.pitch
	y = (float64(row) - float64(f.height)/2) * f.pitch
	z = f.depth + 0.05*y
	return x, y, z
}

func (f *frame) rgb(row, col int) (r, g, b uint8) {
	return uint8(255 * col / max(1, f.width-1)), uint8(255 * row / max(1, f.height-1)), 128
}

// encodeZDF writes a magic line, the dimensions and little-endian float32
// xyz triples in row order.
func (f *frame) encodeZDF(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := io.WriteString(bw, "SIMZDF1\n"); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, [2]uint32{uint32(f.height), uint32(f.width)}); err != nil {
		return err
	}
	for r := range f.height {
		for c := range f.width {
			x, y, z := f.point(r, c)
			if err := binary.Write(bw, binary.LittleEndian, [3]float32{float32(x), float32(y), float32(z)}); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func (f *frame) encodePLY(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat ascii 1.0\nelement vertex %d\n", f.height*f.width)
	fmt.Fprint(bw, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprint(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n")
	for r := range f.height {
		for c := range f.width {
			x, y, z := f.point(r, c)
			cr, cg, cb := f.rgb(r, c)
			fmt.Fprintf(bw, "%.3f %.3f %.3f %d %d %d\n", x, y, z, cr, cg, cb)
		}
	}
	return bw.Flush()
}

func (f *frame) colorImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, f.width, f.height))
	for r := range f.height {
		for c := range f.width {
			cr, cg, cb := f.rgb(r, c)
			img.SetNRGBA(c, r, color.NRGBA{R: cr, G: cg, B: cb, A: 255})
		}
	}
	return img
}

// depthImage stores z in tenths of a millimetre.
func (f *frame) depthImage() image.Image {
	img := image.NewGray16(image.Rect(0, 0, f.width, f.height))
	for r := range f.height {
		for c := range f.width {
			_, _, z := f.point(r, c)
			v := math.Max(0, math.Min(math.MaxUint16, z*10))
			img.SetGray16(c, r, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}
