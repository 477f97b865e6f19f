package mrf

import (
	"errors"
	"testing"
)

func TestNewGridRejectsSmallVolumes(t *testing.T) {
	for _, d := range []Dims{{2, 5, 5}, {5, 2, 5}, {5, 5, 2}, {0, 0, 0}} {
		if _, err := NewGrid(d); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for %s, got %v", d, err)
		}
	}
}

// TestGridOffsets verifies the linear deltas and their pairing with the
// weight table
func TestGridOffsets(t *testing.T) {
	g, err := NewGrid(Dims{Width: 4, Height: 5, Depth: 6})
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}

	dirs := g.Directions()
	if len(dirs) != 26 {
		t.Fatalf("Expected 26 directions, got %d", len(dirs))
	}

	prev := -1
	for i, d := range dirs {
		if d.Kernel == CenterIndex {
			t.Errorf("Direction %d uses the centre", i)
		}
		if d.Kernel <= prev {
			t.Errorf("Directions out of kernel order at %d", i)
		}
		prev = d.Kernel
		if d.Kernel != KernelIndex(d.DX, d.DY, d.DZ) {
			t.Errorf("Direction %d kernel %d does not match (%d,%d,%d)", i, d.Kernel, d.DX, d.DY, d.DZ)
		}
		if want := d.DZ*20 + d.DY*4 + d.DX; d.Offset != want {
			t.Errorf("Direction %d: expected offset %d, got %d", i, want, d.Offset)
		}
	}

	offsets := g.Offsets()
	if offsets[0] != -25 || offsets[25] != 25 {
		t.Errorf("Expected first/last offsets -25/25, got %d/%d", offsets[0], offsets[25])
	}

	box := g.Interior()
	want := Box{MinX: 1, MinY: 1, MinZ: 1, MaxX: 2, MaxY: 3, MaxZ: 4}
	if box != want {
		t.Errorf("Expected interior %+v, got %+v", want, box)
	}
}

func TestGridCoords(t *testing.T) {
	g, _ := NewGrid(Dims{Width: 3, Height: 4, Depth: 5})
	for p := 0; p < g.Len(); p++ {
		x, y, z := g.Coords(p)
		if g.Index(x, y, z) != p {
			t.Fatalf("Coords/Index mismatch at %d: (%d,%d,%d)", p, x, y, z)
		}
	}
}

// TestNeighborsOf verifies neighbour counts for interior, face, edge and
// corner voxels
func TestNeighborsOf(t *testing.T) {
	g, _ := NewGrid(Dims{Width: 5, Height: 5, Depth: 5})

	tests := []struct {
		name    string
		x, y, z int
		want    int
	}{
		{"interior", 2, 2, 2, 26},
		{"face", 2, 2, 0, 17},
		{"edge", 2, 0, 0, 11},
		{"corner", 0, 0, 0, 7},
		{"far corner", 4, 4, 4, 7},
	}

	var buf []Neighbor
	for _, tt := range tests {
		p := g.Index(tt.x, tt.y, tt.z)
		buf = g.NeighborsOf(p, buf)
		if len(buf) != tt.want {
			t.Errorf("%s: expected %d neighbours, got %d", tt.name, tt.want, len(buf))
		}
		for _, n := range buf {
			nx, ny, nz := g.Coords(n.Index)
			dx, dy, dz := nx-tt.x, ny-tt.y, nz-tt.z
			if dx < -1 || dx > 1 || dy < -1 || dy > 1 || dz < -1 || dz > 1 {
				t.Errorf("%s: neighbour %d is not adjacent", tt.name, n.Index)
			}
			if KernelIndex(dx, dy, dz) != n.Kernel {
				t.Errorf("%s: neighbour %d has kernel %d, expected %d", tt.name, n.Index, n.Kernel, KernelIndex(dx, dy, dz))
			}
		}
	}
}

// TestNeighborsOfMinimalVolume checks that no neighbour of a 3x3x3 volume
// falls outside it
func TestNeighborsOfMinimalVolume(t *testing.T) {
	g, err := NewGrid(Dims{Width: 3, Height: 3, Depth: 3})
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}

	total := 0
	var buf []Neighbor
	for p := 0; p < g.Len(); p++ {
		buf = g.NeighborsOf(p, buf)
		for _, n := range buf {
			if n.Index < 0 || n.Index >= g.Len() {
				t.Fatalf("Voxel %d has out-of-range neighbour %d", p, n.Index)
			}
		}
		total += len(buf)
	}

	// Each of the 27 voxels sees every other voxel of the cube
	if total != 27*26 {
		t.Errorf("Expected %d neighbour pairs, got %d", 27*26, total)
	}
}
