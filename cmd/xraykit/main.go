package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"xraykit/pkg/analysis"
	"xraykit/pkg/config"
)

func main() {
	// Parse command line arguments
	modeNames := make([]string, len(analysis.Modes))
	for i, m := range analysis.Modes {
		modeNames[i] = string(m)
	}
	mode := flag.String("mode", "", "Analysis to run: "+strings.Join(modeNames, ", "))
	inputDir := flag.String("input", "", "Directory containing detector frames (PNG or JPEG)")
	outputDir := flag.String("output", "results", "Directory to write results to")
	configFile := flag.String("config", "", "YAML configuration file (default: built-in settings)")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this file and exit")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save intermediary results during processing")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *writeConfig)
		return
	}

	// Validate inputs
	if *inputDir == "" || *mode == "" {
		flag.Usage()
		os.Exit(1)
	}
	m, err := analysis.ParseMode(*mode)
	if err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *saveIntermediary {
		cfg.Output.SaveIntermediaryResults = true
	}

	fmt.Println("================================")
	fmt.Println("XRAYKIT: X-RAY DETECTOR DATA ANALYSIS")
	fmt.Printf("Technique: %s\n", m)
	fmt.Println("================================")

	runner := analysis.NewRunner(&analysis.Params{
		InputDir:  *inputDir,
		OutputDir: *outputDir,
		Mode:      m,
		NumCores:  *numCores,
		Config:    cfg,
	})

	startTime := time.Now()
	if err := runner.Process(); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nAnalysis completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Results saved to: %s\n\n", *outputDir)

	fmt.Println("Summary:")
	fmt.Println("=======================================")
	for _, e := range runner.Summary() {
		fmt.Printf("%s: %s\n", e.Key, e.Value)
	}

	if cfg.Output.SaveIntermediaryResults && m == analysis.ModeCDI {
		fmt.Println("\nIntermediate reconstructions saved to:")
		fmt.Printf("%s/intermediary/cdi\n", *outputDir)
	}
}
