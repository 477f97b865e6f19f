// Package classifier provides distance sources for the ICM engine. None of
// them learn anything: a Table replays precomputed distances, a Gaussian
// scores intensities against caller-supplied class statistics.
package classifier

import (
	"fmt"
	"math"

	"mrficm/internal/models"
	"mrficm/pkg/mrf"
)

// Table serves distances from a precomputed voxel x class table. It is
// read-only and safe for concurrent use.
type Table struct {
	classes int
	voxels  int
	data    []float32
}

// NewTable wraps a distance volume without copying it.
func NewTable(v *models.DistanceVolume) (*Table, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", mrf.ErrInvalidArgument, err)
	}
	return &Table{classes: v.Classes, voxels: v.Dims.Voxels(), data: v.Data}, nil
}

// Classes returns the number of classes in the table.
func (t *Table) Classes() int {
	return t.classes
}

// Distance implements mrf.Classifier.
func (t *Table) Distance(voxel, class int) (float64, error) {
	if voxel < 0 || voxel >= t.voxels || class < 0 || class >= t.classes {
		return 0, fmt.Errorf("distance lookup (%d, %d) outside %d voxels x %d classes", voxel, class, t.voxels, t.classes)
	}
	return float64(t.data[voxel*t.classes+class]), nil
}

// InitialLabels assigns each voxel its nearest class, lowest id on ties.
func (t *Table) InitialLabels(dims mrf.Dims) (*models.LabelVolume, error) {
	if dims.Voxels() != t.voxels {
		return nil, fmt.Errorf("%w: table covers %d voxels, volume %s has %d",
			mrf.ErrInvalidArgument, t.voxels, dims, dims.Voxels())
	}
	return nearest(dims, t.classes, t.Distance)
}

// Gaussian scores an intensity x against class c as 0.5*((x-mean_c)/sd_c)^2.
type Gaussian struct {
	intensities []float32
	means       []float64
	stdDevs     []float64
	dims        mrf.Dims
}

// NewGaussian checks the class statistics against the intensity volume.
func NewGaussian(v *models.ScalarVolume, means, stdDevs []float64) (*Gaussian, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", mrf.ErrInvalidArgument, err)
	}
	if len(means) < 2 {
		return nil, fmt.Errorf("%w: need statistics for at least 2 classes, got %d", mrf.ErrInvalidArgument, len(means))
	}
	if len(means) != len(stdDevs) {
		return nil, fmt.Errorf("%w: %d means but %d standard deviations", mrf.ErrInvalidArgument, len(means), len(stdDevs))
	}
	for c, sd := range stdDevs {
		if !(sd > 0) || math.IsInf(sd, 0) {
			return nil, fmt.Errorf("%w: class %d standard deviation %v must be positive", mrf.ErrInvalidArgument, c, sd)
		}
		if math.IsNaN(means[c]) || math.IsInf(means[c], 0) {
			return nil, fmt.Errorf("%w: class %d mean %v is not finite", mrf.ErrInvalidArgument, c, means[c])
		}
	}
	return &Gaussian{
		intensities: v.Data,
		means:       append([]float64(nil), means...),
		stdDevs:     append([]float64(nil), stdDevs...),
		dims:        v.Dims,
	}, nil
}

// Classes returns the number of classes.
func (g *Gaussian) Classes() int {
	return len(g.means)
}

// Distance implements mrf.Classifier.
func (g *Gaussian) Distance(voxel, class int) (float64, error) {
	if voxel < 0 || voxel >= len(g.intensities) || class < 0 || class >= len(g.means) {
		return 0, fmt.Errorf("distance lookup (%d, %d) outside %d voxels x %d classes", voxel, class, len(g.intensities), len(g.means))
	}
	z := (float64(g.intensities[voxel]) - g.means[class]) / g.stdDevs[class]
	return 0.5 * z * z, nil
}

// InitialLabels is the first-pass classification without spatial prior.
func (g *Gaussian) InitialLabels() (*models.LabelVolume, error) {
	return nearest(g.dims, len(g.means), g.Distance)
}

func nearest(dims mrf.Dims, classes int, distance func(voxel, class int) (float64, error)) (*models.LabelVolume, error) {
	v := models.NewLabelVolume(dims)
	row := make([]float64, classes)
	for p := range v.Data {
		for c := range row {
			d, err := distance(p, c)
			if err != nil {
				return nil, err
			}
			row[c] = d
		}
		v.Data[p] = mrf.Label(mrf.ArgMin(row))
	}
	return v, nil
}
