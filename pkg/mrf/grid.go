package mrf

import "fmt"

// Dims are the dimensions of a volume in voxels.
type Dims struct {
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
	Depth  int `yaml:"depth" toml:"depth"`
}

// Voxels returns Width*Height*Depth.
func (d Dims) Voxels() int {
	return d.Width * d.Height * d.Depth
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth)
}

// Box is an inclusive voxel bounding box.
type Box struct {
	MinX, MinY, MinZ int
	MaxX, MaxY, MaxZ int
}

// Contains reports whether (x, y, z) lies inside the box.
func (b Box) Contains(x, y, z int) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY &&
		z >= b.MinZ && z <= b.MaxZ
}

// Direction is one of the 26 non-centre positions of the 3x3x3 kernel.
type Direction struct {
	DX, DY, DZ int

	// Offset is the linear index delta dz*W*H + dy*W + dx.
	Offset int

	// Kernel is the matching position in the weight table.
	Kernel int
}

// Neighbor is an in-bounds neighbour of a voxel.
type Neighbor struct {
	Index  int
	Kernel int
}

// Grid precomputes neighbour addressing for a flattened W*H*D volume with
// linear index z*W*H + y*W + x.
type Grid struct {
	dims       Dims
	directions [KernelSize - 1]Direction
	interior   Box
}

// NewGrid builds the offset table for dims. Every axis needs at least 3
// voxels so that an interior exists.
func NewGrid(dims Dims) (*Grid, error) {
	if dims.Width < 3 || dims.Height < 3 || dims.Depth < 3 {
		return nil, fmt.Errorf("%w: volume %s is smaller than 3x3x3", ErrInvalidArgument, dims)
	}

	g := &Grid{
		dims: dims,
		interior: Box{
			MinX: 1, MinY: 1, MinZ: 1,
			MaxX: dims.Width - 2, MaxY: dims.Height - 2, MaxZ: dims.Depth - 2,
		},
	}

	plane := dims.Width * dims.Height
	i := 0
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				k := KernelIndex(dx, dy, dz)
				if k == CenterIndex {
					continue
				}
				g.directions[i] = Direction{
					DX: dx, DY: dy, DZ: dz,
					Offset: dz*plane + dy*dims.Width + dx,
					Kernel: k,
				}
				i++
			}
		}
	}
	return g, nil
}

// Dims returns the volume dimensions the grid was built for.
func (g *Grid) Dims() Dims {
	return g.dims
}

// Len is the number of voxels.
func (g *Grid) Len() int {
	return g.dims.Voxels()
}

// Interior is the box of voxels whose full neighbourhood is in bounds.
func (g *Grid) Interior() Box {
	return g.interior
}

// Directions returns the 26 directions in kernel order.
func (g *Grid) Directions() []Direction {
	out := make([]Direction, len(g.directions))
	copy(out, g.directions[:])
	return out
}

// Offsets returns the 26 linear deltas in kernel order.
func (g *Grid) Offsets() []int {
	out := make([]int, len(g.directions))
	for i, d := range g.directions {
		out[i] = d.Offset
	}
	return out
}

// Index returns the linear index of (x, y, z).
func (g *Grid) Index(x, y, z int) int {
	return z*g.dims.Width*g.dims.Height + y*g.dims.Width + x
}

// Coords is the inverse of Index.
func (g *Grid) Coords(voxel int) (x, y, z int) {
	plane := g.dims.Width * g.dims.Height
	z = voxel / plane
	rem := voxel - z*plane
	y = rem / g.dims.Width
	x = rem - y*g.dims.Width
	return x, y, z
}

// NeighborsOf appends the in-bounds neighbours of voxel to dst[:0] and
// returns it. Interior voxels always yield all 26 directions; border voxels
// yield the subset whose every axis component stays inside the volume.
func (g *Grid) NeighborsOf(voxel int, dst []Neighbor) []Neighbor {
	dst = dst[:0]
	x, y, z := g.Coords(voxel)
	if g.interior.Contains(x, y, z) {
		for _, d := range g.directions {
			dst = append(dst, Neighbor{Index: voxel + d.Offset, Kernel: d.Kernel})
		}
		return dst
	}

	for _, d := range g.directions {
		nx, ny, nz := x+d.DX, y+d.DY, z+d.DZ
		if nx < 0 || nx >= g.dims.Width ||
			ny < 0 || ny >= g.dims.Height ||
			nz < 0 || nz >= g.dims.Depth {
			continue
		}
		dst = append(dst, Neighbor{Index: voxel + d.Offset, Kernel: d.Kernel})
	}
	return dst
}
