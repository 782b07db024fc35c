package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"thermascan/pkg/config"
	"thermascan/pkg/export"
	"thermascan/pkg/ingest"
	"thermascan/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Path to stacked Landsat Level-2 GeoTIFF")
	outputDir := flag.String("output", "impact_score_results", "Output directory")
	configPath := flag.String("config", "thermascan.yaml", "Path to YAML configuration file")
	kThreshold := flag.Float64("k", 0, "Override residual threshold multiplier (0 = use config)")
	pixelSize := flag.Float64("pixel-size", 0, "Override pixel size in meters (0 = use config)")
	workers := flag.Int("workers", 0, "Override model-training worker count (0 = use config)")
	landsat5 := flag.Bool("landsat5", false, "Use the Landsat 5 band layout instead of Landsat 8/9")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file and exit")
	saveResults := flag.Bool("save", true, "Save result files to the output directory")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *kThreshold > 0 {
		cfg.Detector.KThreshold = *kThreshold
	}
	if *pixelSize > 0 {
		cfg.Raster.PixelSizeM = *pixelSize
	}
	if *workers > 0 {
		cfg.Detector.Forest.NumWorkers = *workers
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	mapping := ingest.Landsat8Mapping()
	if *landsat5 {
		mapping = ingest.Landsat5Mapping()
	}

	fmt.Println("================================")
	fmt.Println("THERMASCAN - THERMAL ANOMALY EXTRACTION AND IMPACT SCORING")
	fmt.Println("================================")

	fmt.Println("Loading scene...")
	dataset, meta, err := ingest.Load(*inputPath, mapping, cfg.Raster.PixelSizeM)
	if err != nil {
		log.Fatalf("Failed to load scene: %v", err)
	}

	run, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	startTime := time.Now()
	results, err := run.Run(dataset)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nAnalysis completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Model fit: R2 = %.4f, residual sigma = %.4f degC\n",
		results.TrainingStats.R2, results.TrainingStats.ResidualStd)
	fmt.Printf("Unified cores: %d hot, %d cold\n", results.HotCores, results.ColdCores)

	fmt.Println("\nTop anomalies by |IS|:")
	fmt.Println("ID    Type   IS        Severity  Area_m2      Continuity")
	for i, r := range results.Scores {
		if i >= 5 {
			break
		}
		fmt.Printf("%-5d %-6s %-9.3f %-9.3f %-12.1f %.3f\n",
			r.ID, r.Polarity, r.IS, r.Severity, r.AreaM2, r.Continuity)
	}
	if len(results.Scores) == 0 {
		fmt.Println("(no anomalies detected)")
	}

	if *saveResults {
		if err := export.SaveAll(*outputDir, results, meta); err != nil {
			log.Fatalf("Failed to save results: %v", err)
		}
	}
}
