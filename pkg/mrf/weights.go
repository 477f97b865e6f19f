package mrf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// KernelSize is the number of entries in a 3x3x3 neighbourhood kernel,
// centre included.
const KernelSize = 27

// CenterIndex is the kernel position of the voxel itself. Its weight never
// enters the penalty sum.
const CenterIndex = 13

// KernelIndex maps a relative neighbour position (each component in -1..1)
// to its kernel position. x varies fastest, matching the voxel layout.
func KernelIndex(dx, dy, dz int) int {
	return (dz+1)*9 + (dy+1)*3 + (dx + 1)
}

// WeightClasses groups the default kernel into four neighbour classes.
type WeightClasses struct {
	// Mid applies to the four in-plane axis neighbours (N, S, E, W).
	Mid float64 `yaml:"mid" toml:"mid"`

	// Edge applies to the four in-plane diagonal neighbours.
	Edge float64 `yaml:"edge" toml:"edge"`

	// Slice applies to the voxel at the same position in the previous and
	// next slice.
	Slice float64 `yaml:"slice" toml:"slice"`

	// Diag applies to the remaining 16 neighbours in the previous and next
	// slice.
	Diag float64 `yaml:"diag" toml:"diag"`
}

// DefaultWeightClasses returns the conventional magnitudes: every in-plane
// neighbour 1.7, the through-slice centre 1.5, the other through-slice
// neighbours 1.3.
func DefaultWeightClasses() WeightClasses {
	return WeightClasses{Mid: 1.7, Edge: 1.7, Slice: 1.5, Diag: 1.3}
}

// WeightModel holds the Potts coherence weights of the 3x3x3 neighbourhood.
// The zero value is not usable; construct with NewWeightModel.
type WeightModel struct {
	values [KernelSize]float64
}

// NewWeightModel returns a model initialised with the default table.
func NewWeightModel() *WeightModel {
	m := &WeightModel{}
	m.SetDefault()
	return m
}

// SetDefault resets the table to DefaultWeightClasses.
func (m *WeightModel) SetDefault() {
	// The defaults are nonnegative so this cannot fail.
	_ = m.SetClasses(DefaultWeightClasses())
}

// SetClasses builds the table from four neighbour classes. The result is
// symmetric under 180 degree rotation and has a zero centre.
func (m *WeightModel) SetClasses(c WeightClasses) error {
	for _, w := range []float64{c.Mid, c.Edge, c.Slice, c.Diag} {
		if err := checkWeight(w); err != nil {
			return err
		}
	}

	var table [KernelSize]float64
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				k := KernelIndex(dx, dy, dz)
				switch {
				case k == CenterIndex:
					table[k] = 0
				case dz == 0 && (dx == 0 || dy == 0):
					table[k] = c.Mid
				case dz == 0:
					table[k] = c.Edge
				case dx == 0 && dy == 0:
					table[k] = c.Slice
				default:
					table[k] = c.Diag
				}
			}
		}
	}
	m.values = table
	return nil
}

// SetWeights replaces the table with the 27 given values, ordered as
// KernelIndex. Nothing is changed if the input is rejected.
func (m *WeightModel) SetWeights(values []float64) error {
	return m.SetWeightsKernel(values, len(values))
}

// SetWeightsKernel is SetWeights with an explicit kernel volume, which must be
// KernelSize and agree with len(values).
func (m *WeightModel) SetWeightsKernel(values []float64, kernelSize int) error {
	if kernelSize != KernelSize {
		return fmt.Errorf("%w: kernel size %d, only %d (3x3x3) is supported",
			ErrInvalidArgument, kernelSize, KernelSize)
	}
	if len(values) != kernelSize {
		return fmt.Errorf("%w: got %d weights for a kernel of size %d",
			ErrInvalidArgument, len(values), kernelSize)
	}
	for i, w := range values {
		if err := checkWeight(w); err != nil {
			return fmt.Errorf("weight %d: %w", i, err)
		}
	}
	copy(m.values[:], values)
	return nil
}

// SetWeightsVector accepts the table as a dense vector of length 27.
func (m *WeightModel) SetWeightsVector(v mat.Vector) error {
	if v == nil {
		return fmt.Errorf("%w: nil weight vector", ErrInvalidArgument)
	}
	values := make([]float64, v.Len())
	for i := range values {
		values[i] = v.AtVec(i)
	}
	return m.SetWeights(values)
}

// Weights returns a copy of the 27-entry table.
func (m *WeightModel) Weights() []float64 {
	out := make([]float64, KernelSize)
	copy(out, m.values[:])
	return out
}

// At returns the weight at kernel position k.
func (m *WeightModel) At(k int) float64 {
	return m.values[k]
}

// NeighborSum is the total weight of the 26 neighbours, i.e. the penalty a
// voxel pays when it disagrees with its whole interior neighbourhood.
func (m *WeightModel) NeighborSum() float64 {
	return floats.Sum(m.values[:]) - m.values[CenterIndex]
}

// Clone returns an independent copy.
func (m *WeightModel) Clone() *WeightModel {
	c := *m
	return &c
}

func checkWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: weight %v is not finite", ErrInvalidArgument, w)
	}
	if w < 0 {
		return fmt.Errorf("%w: weight %v is negative", ErrInvalidArgument, w)
	}
	return nil
}
