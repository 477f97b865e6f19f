package classifier

import (
	"errors"
	"math"
	"testing"

	"mrficm/internal/models"
	"mrficm/pkg/mrf"
)

var cube = mrf.Dims{Width: 3, Height: 3, Depth: 3}

func TestTable(t *testing.T) {
	v := &models.DistanceVolume{Dims: cube, Classes: 3, Data: make([]float32, 81)}
	for p := 0; p < 27; p++ {
		v.Data[p*3+0] = 2
		v.Data[p*3+1] = float32(p % 3)
		v.Data[p*3+2] = 1
	}

	tbl, err := NewTable(v)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if tbl.Classes() != 3 {
		t.Errorf("Expected 3 classes, got %d", tbl.Classes())
	}

	d, err := tbl.Distance(4, 1)
	if err != nil || d != 1 {
		t.Errorf("Expected distance 1, got %f (%v)", d, err)
	}
	if _, err := tbl.Distance(27, 0); err == nil {
		t.Error("Expected error for an out-of-range voxel")
	}
	if _, err := tbl.Distance(0, 3); err == nil {
		t.Error("Expected error for an out-of-range class")
	}

	labels, err := tbl.InitialLabels(cube)
	if err != nil {
		t.Fatalf("InitialLabels failed: %v", err)
	}
	// p%3 == 0 -> class 1 (0), p%3 == 1 -> class 1 ties class 2, lowest wins, p%3 == 2 -> class 2
	want := []mrf.Label{1, 1, 2}
	for p, l := range labels.Data {
		if l != want[p%3] {
			t.Errorf("Voxel %d: expected %d, got %d", p, want[p%3], l)
		}
	}

	if _, err := tbl.InitialLabels(mrf.Dims{Width: 4, Height: 3, Depth: 3}); !errors.Is(err, mrf.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for mismatched dims, got %v", err)
	}

	v.Data = v.Data[:10]
	if _, err := NewTable(v); !errors.Is(err, mrf.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a short table, got %v", err)
	}
}

func TestGaussian(t *testing.T) {
	v := &models.ScalarVolume{Dims: cube, Data: make([]float32, 27)}
	for p := range v.Data {
		if p < 13 {
			v.Data[p] = 10
		} else {
			v.Data[p] = 95
		}
	}

	g, err := NewGaussian(v, []float64{10, 100}, []float64{5, 10})
	if err != nil {
		t.Fatalf("NewGaussian failed: %v", err)
	}

	d, _ := g.Distance(20, 1)
	if math.Abs(d-0.125) > 1e-12 {
		t.Errorf("Expected distance 0.125, got %f", d)
	}
	d, _ = g.Distance(0, 0)
	if d != 0 {
		t.Errorf("Expected distance 0 at the class mean, got %f", d)
	}

	labels, err := g.InitialLabels()
	if err != nil {
		t.Fatalf("InitialLabels failed: %v", err)
	}
	counts := labels.ClassCounts(2)
	if counts[0] != 13 || counts[1] != 14 {
		t.Errorf("Expected class counts [13 14], got %v", counts)
	}

	bad := []struct {
		name    string
		means   []float64
		stdDevs []float64
	}{
		{"one class", []float64{1}, []float64{1}},
		{"length mismatch", []float64{1, 2}, []float64{1}},
		{"zero deviation", []float64{1, 2}, []float64{1, 0}},
		{"nan mean", []float64{math.NaN(), 2}, []float64{1, 1}},
	}
	for _, tt := range bad {
		if _, err := NewGaussian(v, tt.means, tt.stdDevs); !errors.Is(err, mrf.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", tt.name, err)
		}
	}
}

// TestGaussianDrivesEngine checks the adapter satisfies mrf.Classifier
func TestGaussianDrivesEngine(t *testing.T) {
	v := &models.ScalarVolume{Dims: cube, Data: make([]float32, 27)}
	v.Data[13] = 100 // a bright outlier in an otherwise dark cube

	g, err := NewGaussian(v, []float64{0, 100}, []float64{40, 40})
	if err != nil {
		t.Fatal(err)
	}
	initial, err := g.InitialLabels()
	if err != nil {
		t.Fatal(err)
	}
	if initial.Data[13] != 1 {
		t.Fatalf("Expected the outlier to start as class 1, got %d", initial.Data[13])
	}

	e := mrf.NewEngine()
	_ = e.SetNumberOfClasses(g.Classes())
	_ = e.SetClassifier(g)
	if err := e.SetInitialLabels(initial.Dims, initial.Data); err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(t.Context())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Labels[13] != 0 {
		t.Errorf("Expected the prior to absorb the outlier, got label %d", res.Labels[13])
	}
}
