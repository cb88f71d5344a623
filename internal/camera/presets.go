package camera

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Preset names a capture settings preset.
type Preset string

// Capture presets.
const (
	PresetAuto         Preset = "auto"
	PresetDiffuse      Preset = "diffuse"
	PresetSemiSpecular Preset = "semispecular"
	PresetSpecular     Preset = "specular"
)

// Settings2DFile is the settings file used for every 2D capture.
const Settings2DFile = "Zivid2_Settings_Zivid_Two_M70_Default2D.yml"

// presetFiles maps each fixed preset to its settings file. PresetAuto is
// resolved by the capture assistant instead and is deliberately absent.
var presetFiles = map[Preset]string{
	PresetDiffuse:      "Zivid2_Settings_Zivid_Two_M70_ManufacturingDiffuse.yml",
	PresetSemiSpecular: "Zivid2_Settings_Zivid_Two_M70_ManufacturingSemiSpecular.yml",
	PresetSpecular:     "Zivid2_Settings_Zivid_Two_M70_ManufacturingSpecular.yml",
}

// ParsePreset parses a query value. Empty means PresetAuto.
func ParsePreset(s string) (Preset, error) {
	p := Preset(s)
	if s == "" {
		p = PresetAuto
	}
	if p != PresetAuto {
		if _, ok := presetFiles[p]; !ok {
			return "", fmt.Errorf("%w: unknown preset %q", ErrInvalidArgument, s)
		}
	}
	return p, nil
}

// SettingsResolver turns presets into capture settings.
type SettingsResolver struct {
	// Dir holds the preset settings files.
	Dir string

	// MaxCaptureTime is the capture assistant budget for PresetAuto.
	MaxCaptureTime time.Duration
}

// Resolve returns the settings for p. Unknown presets are an error, never
// a fallback.
func (r SettingsResolver) Resolve(p Preset) (Settings, error) {
	if p == PresetAuto {
		return Settings{
			Preset: p,
			Suggest: &SuggestParameters{
				MaxCaptureTime:        r.MaxCaptureTime,
				AmbientLightFrequency: AmbientLightNone,
			},
		}, nil
	}

	file, ok := presetFiles[p]
	if !ok {
		return Settings{}, fmt.Errorf("%w: no settings file for preset %q", ErrInvalidArgument, p)
	}
	return Settings{Preset: p, Path: filepath.Join(r.Dir, file)}, nil
}

// Settings2DPath returns the full path of the 2D settings file.
func (r SettingsResolver) Settings2DPath() string {
	return filepath.Join(r.Dir, Settings2DFile)
}

// DownsampleFactor is the user-facing point cloud reduction, 1 to 4.
type DownsampleFactor int

// Downsampling is the vendor downsampling constant.
type Downsampling string

// Vendor downsampling constants.
const (
	DownsamplingNone  Downsampling = "none"
	DownsamplingBy2x2 Downsampling = "by2x2"
	DownsamplingBy3x3 Downsampling = "by3x3"
	DownsamplingBy4x4 Downsampling = "by4x4"
)

var downsampling = map[DownsampleFactor]Downsampling{
	1: DownsamplingNone,
	2: DownsamplingBy2x2,
	3: DownsamplingBy3x3,
	4: DownsamplingBy4x4,
}

// ParseDownsampleFactor parses a query value. Empty means 1.
func ParseDownsampleFactor(s string) (DownsampleFactor, error) {
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: down_sample_factor %q is not a number", ErrInvalidArgument, s)
	}
	f := DownsampleFactor(n)
	if _, ok := downsampling[f]; !ok {
		return 0, fmt.Errorf("%w: down_sample_factor must be 1 to 4, got %d", ErrInvalidArgument, n)
	}
	return f, nil
}

// Downsampling returns the vendor constant for f.
func (f DownsampleFactor) Downsampling() (Downsampling, error) {
	d, ok := downsampling[f]
	if !ok {
		return "", fmt.Errorf("%w: no downsampling for factor %d", ErrInvalidArgument, int(f))
	}
	return d, nil
}

// Format is the encoding of a captured frame.
type Format string

// Frame formats.
const (
	FormatZDF        Format = "zdf"
	FormatPointCloud Format = "ply"
	FormatColorImage Format = "color-png"
	FormatDepthImage Format = "depth-png"
)

type formatInfo struct {
	extension   string
	contentType string
}

var formats = map[Format]formatInfo{
	FormatZDF:        {extension: "zdf", contentType: "application/octet-stream"},
	FormatPointCloud: {extension: "ply", contentType: "application/octet-stream"},
	FormatColorImage: {extension: "png", contentType: "image/png"},
	FormatDepthImage: {extension: "png", contentType: "image/png"},
}

// Extension is the file extension without the dot. It panics for a
// format outside the table.
func (f Format) Extension() string {
	return f.info().extension
}

// ContentType is the HTTP media type. It panics for a format outside the
// table.
func (f Format) ContentType() string {
	return f.info().contentType
}

func (f Format) info() formatInfo {
	info, ok := formats[f]
	if !ok {
		panic(fmt.Sprintf("camera: unmapped frame format %q", string(f)))
	}
	return info
}
