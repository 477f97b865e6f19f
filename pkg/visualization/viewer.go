package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"mrficm/internal/models"
	"mrficm/pkg/mrf"
)

// Viewer renders slices of a label volume. Each class gets its own palette
// entry, class 0 is black.
type Viewer struct {
	// volume holds the labels being viewed
	volume *models.LabelVolume

	// palette maps a class id (modulo its length) to a colour
	palette color.Palette
}

// NewViewer creates a viewer for a label volume with numClasses classes
func NewViewer(volume *models.LabelVolume, numClasses int) *Viewer {
	return &Viewer{
		volume:  volume,
		palette: Palette(numClasses),
	}
}

// Palette returns up to 256 well separated colours, black first
func Palette(numClasses int) color.Palette {
	n := min(max(numClasses, 1), 256)
	p := make(color.Palette, n)
	p[0] = color.RGBA{A: 255}
	for i := 1; i < n; i++ {
		// Walk the hue circle by the golden angle so neighbouring ids differ
		hue := math.Mod(float64(i-1)*137.508, 360)
		r, g, b := hsvToRGB(hue, 0.75, 1.0)
		p[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// ExtractSlice extracts a 2D slice of labels along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Paletted, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	d := v.volume.Dims
	var img *image.Paletted

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= d.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, d.Width)
		}
		img = image.NewPaletted(image.Rect(0, 0, d.Depth, d.Height), v.palette)
		for y := 0; y < d.Height; y++ {
			for z := 0; z < d.Depth; z++ {
				img.SetColorIndex(z, y, v.index(v.volume.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= d.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, d.Height)
		}
		img = image.NewPaletted(image.Rect(0, 0, d.Width, d.Depth), v.palette)
		for z := 0; z < d.Depth; z++ {
			for x := 0; x < d.Width; x++ {
				img.SetColorIndex(x, z, v.index(v.volume.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= d.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d.Depth)
		}
		img = image.NewPaletted(image.Rect(0, 0, d.Width, d.Height), v.palette)
		for y := 0; y < d.Height; y++ {
			for x := 0; x < d.Width; x++ {
				img.SetColorIndex(x, y, v.index(v.volume.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies a 3D sub-volume of labels
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.LabelVolume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	d := v.volume.Dims
	if startX+sizeX > d.Width || startY+sizeY > d.Height || startZ+sizeZ > d.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := models.NewLabelVolume(mrf.Dims{Width: sizeX, Height: sizeY, Depth: sizeZ})
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region.Set(x, y, z, v.volume.At(startX+x, startY+y, startZ+z))
			}
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image. PNG keeps palette
// indices exact, so a saved slice can be read back as labels.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Dims.Width
	case "y", "Y":
		maxPos = v.volume.Dims.Height
	case "z", "Z":
		maxPos = v.volume.Dims.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func (v *Viewer) index(l mrf.Label) uint8 {
	return uint8(int(l) % len(v.palette))
}

// hsvToRGB converts hue in degrees, saturation and value in [0,1]
func hsvToRGB(h, s, val float64) (uint8, uint8, uint8) {
	c := val * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := val - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return uint8(math.Round((r + m) * 255)), uint8(math.Round((g + m) * 255)), uint8(math.Round((b + m) * 255))
}
