// Package models holds the volume containers passed between the file,
// classifier and pipeline layers. They are built on the engine's mrf.Dims and
// mrf.Label so a volume's data feeds mrf.Engine without conversion; pkg/mrf
// itself never imports this package.
package models

import (
	"fmt"

	"mrficm/pkg/mrf"
)

// LabelVolume is a class id per voxel, stored in row-major order
// (index z*Width*Height + y*Width + x)
type LabelVolume struct {
	Dims mrf.Dims
	Data []mrf.Label
}

// NewLabelVolume allocates a zero-labelled volume
func NewLabelVolume(dims mrf.Dims) *LabelVolume {
	return &LabelVolume{Dims: dims, Data: make([]mrf.Label, dims.Voxels())}
}

// At returns the label at (x, y, z)
func (v *LabelVolume) At(x, y, z int) mrf.Label {
	return v.Data[z*v.Dims.Width*v.Dims.Height+y*v.Dims.Width+x]
}

// Set stores the label at (x, y, z)
func (v *LabelVolume) Set(x, y, z int, l mrf.Label) {
	v.Data[z*v.Dims.Width*v.Dims.Height+y*v.Dims.Width+x] = l
}

// Validate checks the data length against the dimensions
func (v *LabelVolume) Validate() error {
	if len(v.Data) != v.Dims.Voxels() {
		return fmt.Errorf("label volume %s holds %d voxels, expected %d", v.Dims, len(v.Data), v.Dims.Voxels())
	}
	return nil
}

// ClassCounts returns the number of voxels per class. Labels at or above
// numClasses are ignored.
func (v *LabelVolume) ClassCounts(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, l := range v.Data {
		if int(l) < numClasses {
			counts[l]++
		}
	}
	return counts
}

// ScalarVolume holds one intensity per voxel
type ScalarVolume struct {
	Dims mrf.Dims
	Data []float32
}

// Validate checks the data length against the dimensions
func (v *ScalarVolume) Validate() error {
	if len(v.Data) != v.Dims.Voxels() {
		return fmt.Errorf("scalar volume %s holds %d voxels, expected %d", v.Dims, len(v.Data), v.Dims.Voxels())
	}
	return nil
}

// DistanceVolume holds a classifier distance per voxel and class. The class
// index varies fastest: Data[voxel*Classes + class].
type DistanceVolume struct {
	Dims    mrf.Dims
	Classes int
	Data    []float32
}

// Validate checks the data length against the dimensions and class count
func (v *DistanceVolume) Validate() error {
	if v.Classes < 1 {
		return fmt.Errorf("distance volume has %d classes", v.Classes)
	}
	if len(v.Data) != v.Dims.Voxels()*v.Classes {
		return fmt.Errorf("distance volume %s x %d classes holds %d values, expected %d",
			v.Dims, v.Classes, len(v.Data), v.Dims.Voxels()*v.Classes)
	}
	return nil
}
