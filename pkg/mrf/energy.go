package mrf

import "fmt"

// Energy returns the sum over all voxels of the cost of their current label:
// classifier distance plus the weight of disagreeing neighbours. Each
// disagreeing pair therefore contributes once from each side.
func Energy(g *Grid, w *WeightModel, c Classifier, numClasses int, labels []Label) (float64, error) {
	if len(labels) != g.Len() {
		return 0, fmt.Errorf("%w: %d labels for a %s volume", ErrInvalidArgument, len(labels), g.Dims())
	}

	for p, l := range labels {
		if int(l) >= numClasses {
			return 0, fmt.Errorf("%w: label %d at voxel %d exceeds %d classes", ErrInvalidArgument, l, p, numClasses)
		}
	}

	neighbors := make([]Neighbor, 0, KernelSize-1)
	agree := make([]float64, numClasses)
	sum := 0.0
	for p, l := range labels {
		neighbors = g.NeighborsOf(p, neighbors)
		total := agreement(neighbors, labels, w, agree)
		d, err := distance(c, p, int(l))
		if err != nil {
			return 0, err
		}
		sum += d + (total - agree[l])
	}
	return sum, nil
}
