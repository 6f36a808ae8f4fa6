package camview

import (
	"fmt"
	"strings"

	"golang.org/x/image/draw"
)

// Interpolation selects the scaling filter.
type Interpolation int

const (
	InterpNearest Interpolation = iota
	InterpTiles
	InterpBilinear
	InterpHyper
)

var interpNames = [...]string{"nearest", "tiles", "bilinear", "hyper"}

func (i Interpolation) String() string {
	if i < 0 || int(i) >= len(interpNames) {
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
	return interpNames[i]
}

func (i Interpolation) MarshalText() ([]byte, error) {
	if i < 0 || int(i) >= len(interpNames) {
		return nil, fmt.Errorf("camview: invalid interpolation %d", int(i))
	}
	return []byte(interpNames[i]), nil
}

func (i *Interpolation) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for n, name := range interpNames {
		if s == name {
			*i = Interpolation(n)
			return nil
		}
	}
	return fmt.Errorf("camview: unknown interpolation %q", s)
}

// interpolator maps the setting onto an x/image scaler. Unknown values fall
// back to bilinear.
func (i Interpolation) interpolator() draw.Interpolator {
	switch i {
	case InterpNearest:
		return draw.NearestNeighbor
	case InterpTiles:
		return draw.ApproxBiLinear
	case InterpHyper:
		return draw.CatmullRom
	}
	return draw.BiLinear
}

// SnapshotFormat is the snapshot image encoding.
type SnapshotFormat int

const (
	SnapshotPNG SnapshotFormat = iota
	SnapshotJPEG
)

// Extension returns the file extension without the dot.
func (f SnapshotFormat) Extension() string {
	if f == SnapshotJPEG {
		return "jpeg"
	}
	return "png"
}

func (f SnapshotFormat) String() string {
	return f.Extension()
}

func (f SnapshotFormat) MarshalText() ([]byte, error) {
	switch f {
	case SnapshotPNG, SnapshotJPEG:
		return []byte(f.Extension()), nil
	}
	return nil, fmt.Errorf("camview: invalid snapshot format %d", int(f))
}

func (f *SnapshotFormat) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "png":
		*f = SnapshotPNG
	case "jpeg", "jpg":
		*f = SnapshotJPEG
	default:
		return fmt.Errorf("camview: unknown snapshot format %q", string(b))
	}
	return nil
}

// CameraConfig holds the user adjustable view and snapshot settings.
type CameraConfig struct {
	HFlip           bool           `yaml:"hflip"`
	VFlip           bool           `yaml:"vflip"`
	KeepAspectRatio bool           `yaml:"keep_aspect_ratio"`
	Interpolation   Interpolation  `yaml:"interpolation"`
	SnapshotFormat  SnapshotFormat `yaml:"snapshot_format"`
	SnapshotQuality int            `yaml:"snapshot_quality"`

	// SnapshotTransformed saves the displayed surface instead of the
	// decoded frame.
	SnapshotTransformed bool `yaml:"snapshot_transformed"`
}

// DefaultCameraConfig returns the settings used when nothing is configured.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		KeepAspectRatio: true,
		Interpolation:   InterpBilinear,
		SnapshotFormat:  SnapshotPNG,
		SnapshotQuality: 100,
	}
}
