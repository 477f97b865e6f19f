package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"mrficm/internal/models"
	"mrficm/pkg/mrf"
)

// createTestVolume labels each voxel with its z coordinate modulo classes
func createTestVolume(width, height, depth, classes int) *models.LabelVolume {
	v := models.NewLabelVolume(mrf.Dims{Width: width, Height: height, Depth: depth})
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, mrf.Label(z%classes))
			}
		}
	}
	return v
}

func TestPalette(t *testing.T) {
	p := Palette(5)
	if len(p) != 5 {
		t.Fatalf("Expected 5 colours, got %d", len(p))
	}
	seen := map[string]bool{}
	for i, c := range p {
		r, g, b, _ := c.RGBA()
		key := fmt.Sprintf("%d-%d-%d", r, g, b)
		if seen[key] {
			t.Errorf("Colour %d duplicates an earlier entry", i)
		}
		seen[key] = true
	}

	if len(Palette(1000)) != 256 {
		t.Errorf("Expected the palette to cap at 256 entries, got %d", len(Palette(1000)))
	}
	if len(Palette(0)) != 1 {
		t.Errorf("Expected at least one colour, got %d", len(Palette(0)))
	}
}

// TestExtractSlice verifies that slices carry the labels of the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(createTestVolume(width, height, depth, 3), 3)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		if got := img.ColorIndexAt(width/2, height/2); int(got) != z%3 {
			t.Errorf("Expected label %d at centre of slice %d, got %d", z%3, z, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}
	if got := imgX.ColorIndexAt(4, 0); got != 1 {
		t.Errorf("Expected label 1 at z=4 of X slice, got %d", got)
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestExtractRegion verifies that sub-volumes are copied correctly
func TestExtractRegion(t *testing.T) {
	volume := createTestVolume(10, 10, 5, 4)
	viewer := NewViewer(volume, 4)

	region, err := viewer.ExtractRegion(2, 3, 1, 4, 3, 2)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if region.Dims != (mrf.Dims{Width: 4, Height: 3, Depth: 2}) {
		t.Errorf("Expected region dims 4x3x2, got %s", region.Dims)
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				if region.At(x, y, z) != volume.At(2+x, 3+y, 1+z) {
					t.Errorf("Region value mismatch at (%d,%d,%d)", x, y, z)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(9, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of PNG slices is written and
// that labels survive the round trip through the file
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	depth := 3
	viewer := NewViewer(createTestVolume(5, 5, depth, 2), 2)
	outputDir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Expected slice file %s: %v", filename, err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", filename, err)
		}

		want := Palette(2)[z%2]
		wr, wg, wb, _ := want.RGBA()
		gr, gg, gb, _ := img.At(2, 2).RGBA()
		if wr != gr || wg != gg || wb != gb {
			t.Errorf("Slice %d: expected colour of label %d", z, z%2)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
