// Package labeling runs the ICM relabeling pipeline over volumes on disk or in
// memory.
//
// The pipeline consists of several steps:
// 1. Loading the classifier input and the starting labels
// 2. Negotiating the input extent the engine needs
// 3. Configuring the engine and iterating to convergence
// 4. Saving the relabeled volume
// 5. Calculating metrics
// 6. Optionally exporting label slices as PNG images
package labeling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"mrficm/internal/models"
	"mrficm/pkg/classifier"
	"mrficm/pkg/config"
	"mrficm/pkg/logging"
	"mrficm/pkg/mrf"
	"mrficm/pkg/visualization"
	"mrficm/pkg/volumeio"
)

// Metrics summarises a finished run.
type Metrics struct {
	// Iterations is the number of completed sweeps.
	Iterations int

	// ErrorRate is the changed fraction of the final sweep.
	ErrorRate float64

	// State is Converged or IterationLimitReached.
	State mrf.State

	// ChangedCounts holds the number of relabeled voxels per sweep.
	ChangedCounts []int

	// ChangedFraction is the share of voxels whose final label differs from
	// the starting label.
	ChangedFraction float64

	// ClassCounts is the number of voxels per class in the output.
	ClassCounts []int

	// Entropy is the Shannon entropy (nats) of the output class distribution.
	Entropy float64

	// InitialEnergy and FinalEnergy are the MRF energies before and after.
	InitialEnergy float64
	FinalEnergy   float64

	Duration time.Duration
}

// Params holds the pipeline inputs and outputs. In-memory volumes take
// precedence over the matching paths.
type Params struct {
	// LabelsPath is an optional starting label volume. Without one the
	// classifier's own nearest-class labels are used.
	LabelsPath string
	Labels     *models.LabelVolume

	// DistancesPath feeds the "table" classifier.
	DistancesPath string
	Distances     *models.DistanceVolume

	// IntensitiesPath feeds the "gaussian" classifier.
	IntensitiesPath string
	Intensities     *models.ScalarVolume

	// Region is the output region of interest. Nil means the whole volume.
	// The labels of the whole volume are produced either way.
	Region *mrf.Box

	// OutputPath receives the relabeled volume. Empty skips saving.
	OutputPath string

	// Config holds the engine, classifier and output settings. Nil means
	// config.DefaultConfig().
	Config *config.Config

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Labeler drives one relabeling run.
type Labeler struct {
	params *Params
	cfg    *config.Config
	base   zerolog.Logger
	log    zerolog.Logger

	dims       mrf.Dims
	numClasses int
	classifier mrf.Classifier
	initial    *models.LabelVolume

	result  *models.LabelVolume
	metrics Metrics
}

// NewLabeler creates a labeler for the given parameters.
func NewLabeler(params *Params) *Labeler {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := zerolog.Nop()
	if params.Logger != nil {
		log = *params.Logger
	}
	return &Labeler{
		params: params,
		cfg:    cfg,
		base:   log,
		log:    logging.Component(log, "labeling"),
	}
}

// Process runs the complete labeling pipeline.
func (l *Labeler) Process(ctx context.Context) error {
	start := time.Now()

	l.log.Info().Str("classifier", l.cfg.Classifier.Type).Msg("loading inputs")
	if err := l.loadInputs(); err != nil {
		return fmt.Errorf("failed to load inputs: %w", err)
	}

	requested := l.wholeVolume()
	if l.params.Region != nil {
		requested = *l.params.Region
	}
	extent, err := l.NegotiateExtent(requested)
	if err != nil {
		return err
	}
	l.log.Debug().
		Str("dims", l.dims.String()).
		Int("classes", l.numClasses).
		Interface("requested", requested).
		Interface("extent", extent).
		Msg("input extent negotiated")

	engine, err := l.newEngine()
	if err != nil {
		return fmt.Errorf("failed to configure engine: %w", err)
	}
	initialEnergy, err := engine.Energy()
	if err != nil {
		return fmt.Errorf("failed to evaluate initial energy: %w", err)
	}

	l.log.Info().Str("dims", l.dims.String()).Msg("running ICM")
	res, err := engine.Run(ctx)
	if err != nil {
		var runErr *mrf.RunError
		if errors.As(err, &runErr) {
			l.log.Error().Err(runErr.Err).Int("iterations", runErr.Iterations).Msg("ICM run aborted")
		}
		return fmt.Errorf("failed to relabel volume: %w", err)
	}
	l.result = &models.LabelVolume{Dims: res.Dims, Data: res.Labels}

	finalEnergy, err := engine.Energy()
	if err != nil {
		return fmt.Errorf("failed to evaluate final energy: %w", err)
	}

	if l.params.OutputPath != "" {
		opts, err := l.cfg.OutputOptions()
		if err != nil {
			return err
		}
		if err := volumeio.SaveLabels(l.params.OutputPath, l.result, opts); err != nil {
			return fmt.Errorf("failed to save labels: %w", err)
		}
		l.log.Info().Str("path", l.params.OutputPath).Msg("labels saved")
	}

	l.calculateMetrics(res, initialEnergy, finalEnergy)
	l.metrics.Duration = time.Since(start)

	if l.cfg.Output.SaveSlices {
		if err := l.saveSlices(); err != nil {
			// Slices are a by-product; the labels are already saved.
			l.log.Warn().Err(err).Msg("failed to export label slices")
		}
	}
	return nil
}

// NegotiateExtent returns the input region needed to produce the requested
// output region. The request is clamped to the volume and is an error if
// nothing of it remains. Any voxel's label can depend on every other voxel
// through repeated sweeps, so a valid request always grows to the whole
// volume, and the whole volume is also what Process writes. Valid after the
// inputs are loaded.
func (l *Labeler) NegotiateExtent(requested mrf.Box) (mrf.Box, error) {
	whole := l.wholeVolume()
	clamped := mrf.Box{
		MinX: max(requested.MinX, whole.MinX),
		MinY: max(requested.MinY, whole.MinY),
		MinZ: max(requested.MinZ, whole.MinZ),
		MaxX: min(requested.MaxX, whole.MaxX),
		MaxY: min(requested.MaxY, whole.MaxY),
		MaxZ: min(requested.MaxZ, whole.MaxZ),
	}
	if clamped.MinX > clamped.MaxX || clamped.MinY > clamped.MaxY || clamped.MinZ > clamped.MaxZ {
		return mrf.Box{}, fmt.Errorf("%w: requested region %+v lies outside the %s volume",
			mrf.ErrInvalidArgument, requested, l.dims)
	}
	return whole, nil
}

func (l *Labeler) wholeVolume() mrf.Box {
	return mrf.Box{
		MaxX: l.dims.Width - 1,
		MaxY: l.dims.Height - 1,
		MaxZ: l.dims.Depth - 1,
	}
}

// GetMetrics returns the metrics of the last successful Process.
func (l *Labeler) GetMetrics() Metrics {
	return l.metrics
}

// GetLabels returns the relabeled volume, or nil before a successful Process.
func (l *Labeler) GetLabels() *models.LabelVolume {
	return l.result
}

func (l *Labeler) loadInputs() error {
	switch l.cfg.Classifier.Type {
	case "table":
		v := l.params.Distances
		if v == nil {
			if l.params.DistancesPath == "" {
				return fmt.Errorf("%w: table classifier needs a distance volume", mrf.ErrNotConfigured)
			}
			var err error
			if v, err = volumeio.LoadDistances(l.params.DistancesPath); err != nil {
				return err
			}
		}
		t, err := classifier.NewTable(v)
		if err != nil {
			return err
		}
		l.dims, l.numClasses, l.classifier = v.Dims, t.Classes(), t
		if l.params.Labels == nil && l.params.LabelsPath == "" {
			if l.initial, err = t.InitialLabels(v.Dims); err != nil {
				return err
			}
		}

	case "gaussian":
		v := l.params.Intensities
		if v == nil {
			if l.params.IntensitiesPath == "" {
				return fmt.Errorf("%w: gaussian classifier needs an intensity volume", mrf.ErrNotConfigured)
			}
			var err error
			if v, err = volumeio.LoadScalars(l.params.IntensitiesPath); err != nil {
				return err
			}
		}
		g, err := classifier.NewGaussian(v, l.cfg.Classifier.Means, l.cfg.Classifier.StdDevs)
		if err != nil {
			return err
		}
		l.dims, l.numClasses, l.classifier = v.Dims, g.Classes(), g
		if l.params.Labels == nil && l.params.LabelsPath == "" {
			if l.initial, err = g.InitialLabels(); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("%w: unknown classifier type %q", mrf.ErrInvalidArgument, l.cfg.Classifier.Type)
	}

	if n := l.cfg.ICM.NumberOfClasses; n != 0 && n != l.numClasses {
		return fmt.Errorf("%w: configured %d classes but the classifier provides %d",
			mrf.ErrInvalidArgument, n, l.numClasses)
	}

	if l.initial == nil {
		l.initial = l.params.Labels
		if l.initial == nil {
			var err error
			if l.initial, err = volumeio.LoadLabels(l.params.LabelsPath); err != nil {
				return err
			}
		}
		if l.initial.Dims != l.dims {
			return fmt.Errorf("%w: label volume is %s but classifier input is %s",
				mrf.ErrInvalidArgument, l.initial.Dims, l.dims)
		}
	}
	return nil
}

func (l *Labeler) newEngine() (*mrf.Engine, error) {
	weights, err := l.cfg.WeightModel()
	if err != nil {
		return nil, err
	}

	e := mrf.NewEngine()
	steps := []func() error{
		func() error { return e.SetLogger(l.base) },
		func() error { return e.SetNumberOfClasses(l.numClasses) },
		func() error { return e.SetMaxIterations(l.cfg.ICM.MaxIterations) },
		func() error { return e.SetErrorTolerance(l.cfg.ICM.ErrorTolerance) },
		func() error { return e.SetWorkers(l.cfg.ICM.NumWorkers) },
		func() error { return e.SetExhaustive(l.cfg.ICM.Exhaustive) },
		func() error { return e.SetWeightModel(weights) },
		func() error { return e.SetClassifier(l.classifier) },
		func() error { return e.SetInitialLabels(l.dims, l.initial.Data) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (l *Labeler) calculateMetrics(res *mrf.Result, initialEnergy, finalEnergy float64) {
	changed := 0
	for i, lab := range res.Labels {
		if lab != l.initial.Data[i] {
			changed++
		}
	}

	counts := l.result.ClassCounts(l.numClasses)
	p := make([]float64, len(counts))
	for c, n := range counts {
		p[c] = float64(n) / float64(len(res.Labels))
	}

	l.metrics = Metrics{
		Iterations:      res.Iterations,
		ErrorRate:       res.ErrorRate,
		State:           res.State,
		ChangedCounts:   res.ChangedCounts,
		ChangedFraction: float64(changed) / float64(len(res.Labels)),
		ClassCounts:     counts,
		Entropy:         stat.Entropy(p),
		InitialEnergy:   initialEnergy,
		FinalEnergy:     finalEnergy,
	}
	l.log.Info().
		Int("iterations", res.Iterations).
		Stringer("state", res.State).
		Float64("changedFraction", l.metrics.ChangedFraction).
		Float64("energy", finalEnergy).
		Msg("labeling finished")
}

func (l *Labeler) saveSlices() error {
	viewer := visualization.NewViewer(l.result, l.numClasses)
	for _, axis := range []string{"x", "y", "z"} {
		if err := viewer.SaveSliceSequence(axis, l.cfg.Output.SlicesDir); err != nil {
			return fmt.Errorf("axis %s: %w", axis, err)
		}
	}
	l.log.Info().Str("dir", l.cfg.Output.SlicesDir).Msg("label slices exported")
	return nil
}
