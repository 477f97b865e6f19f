package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"mrficm/pkg/config"
	"mrficm/pkg/labeling"
	"mrficm/pkg/logging"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "mrficm.yaml", "Configuration file (.yaml or .toml)")
	labelsPath := flag.String("labels", "", "Initial label volume (default: nearest class per voxel)")
	distancesPath := flag.String("distances", "", "Per-voxel class distance volume (table classifier)")
	intensitiesPath := flag.String("intensities", "", "Intensity volume (gaussian classifier)")
	outputPath := flag.String("output", "labels.vol", "Output label volume")
	workers := flag.Int("workers", 0, "Number of goroutines per sweep (default: from config)")
	maxIterations := flag.Int("max-iterations", 0, "Iteration cap (default: from config)")
	tolerance := flag.Float64("tolerance", 0, "Changed-voxel fraction that counts as converged")
	slicesDir := flag.String("slices-dir", "", "Export PNG label slices along all axes to this directory")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	if *distancesPath == "" && *intensitiesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicitly set flags override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.ICM.NumWorkers = *workers
		case "max-iterations":
			cfg.ICM.MaxIterations = *maxIterations
		case "tolerance":
			cfg.ICM.ErrorTolerance = *tolerance
		case "slices-dir":
			cfg.Output.SaveSlices = true
			cfg.Output.SlicesDir = *slicesDir
		}
	})
	if *distancesPath == "" {
		cfg.Classifier.Type = "gaussian"
	} else if *intensitiesPath == "" {
		cfg.Classifier.Type = "table"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	labeler := labeling.NewLabeler(&labeling.Params{
		LabelsPath:      *labelsPath,
		DistancesPath:   *distancesPath,
		IntensitiesPath: *intensitiesPath,
		OutputPath:      *outputPath,
		Config:          cfg,
		Logger:          &logger,
	})

	if err := labeler.Process(ctx); err != nil {
		logger.Error().Err(err).Msg("labeling failed")
		closer.Close()
		os.Exit(1)
	}

	labels := labeler.GetLabels()
	metrics := labeler.GetMetrics()

	fmt.Printf("\nLabeling completed in %s (%s)\n", metrics.Duration.Round(time.Millisecond), metrics.State)
	fmt.Printf("Volume: %s, %s voxels, %d classes\n",
		labels.Dims, humanize.Comma(int64(labels.Dims.Voxels())), len(metrics.ClassCounts))
	if info, err := os.Stat(*outputPath); err == nil {
		fmt.Printf("Output labels saved to: %s (%s)\n", *outputPath, humanize.Bytes(uint64(info.Size())))
	}

	fmt.Printf("\nICM summary:\n")
	fmt.Printf("============\n")
	fmt.Printf("Iterations: %d (cap %d)\n", metrics.Iterations, cfg.ICM.MaxIterations)
	fmt.Printf("Final error rate: %.6f\n", metrics.ErrorRate)
	fmt.Printf("Voxels relabeled: %.2f%%\n", 100*metrics.ChangedFraction)
	fmt.Printf("Energy: %.4g -> %.4g\n", metrics.InitialEnergy, metrics.FinalEnergy)
	fmt.Printf("Label entropy: %.3f nats\n", metrics.Entropy)
	for c, n := range metrics.ClassCounts {
		fmt.Printf("- class %d: %s voxels\n", c, humanize.Comma(int64(n)))
	}

	if cfg.Output.SaveSlices {
		fmt.Printf("\nLabel slices saved to: %s\n", cfg.Output.SlicesDir)
	}
}
