// Package analysis runs one X-ray technique over a directory of detector
// frames and writes its results.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"xraykit/internal/models"
	"xraykit/pkg/cdi"
	"xraykit/pkg/config"
)

// ErrUnknownMode is returned for a technique other than those of Modes
var ErrUnknownMode = errors.New("unknown analysis mode")

// Mode selects the technique a Runner applies
type Mode string

const (
	// ModeCalibrate refines the beam center and sample distance from a
	// powder ring image
	ModeCalibrate Mode = "calibrate"

	// ModeDPC reconstructs phase from a reference frame followed by a
	// scan of Rows*Cols frames
	ModeDPC Mode = "dpc"

	// ModeCDI phases a diffraction pattern; several frames form a 3D
	// pattern
	ModeCDI Mode = "cdi"

	// ModeXSVS computes photon count statistics in ring ROIs
	ModeXSVS Mode = "xsvs"
)

// Modes lists the supported techniques
var Modes = []Mode{ModeCalibrate, ModeDPC, ModeCDI, ModeXSVS}

// ParseMode validates a technique name
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == strings.ToLower(s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
}

// Params holds the inputs of a Runner
type Params struct {
	// InputDir is the directory containing the detector frames. Frames are
	// ordered by the number in their file name.
	InputDir string

	// OutputDir receives the result images, tables and summary.txt
	OutputDir string

	// Mode is the technique to run
	Mode Mode

	// NumCores limits the number of frames decoded concurrently
	NumCores int

	// Config holds the technique settings
	Config *config.Config
}

// Entry is one line of the run summary
type Entry struct {
	Key   string
	Value string
}

// Runner loads frames and applies one technique to them
type Runner struct {
	// params stores the run configuration
	params *Params

	// frames holds the loaded detector frames in acquisition order
	frames models.FrameSet

	// rows and cols are the frame dimensions
	rows int
	cols int

	// summary collects the reported results in order
	summary []Entry
}

// NewRunner creates a runner. A nil Config uses the defaults and a
// non-positive NumCores uses every CPU.
func NewRunner(params *Params) *Runner {
	if params.Config == nil {
		params.Config = config.DefaultConfig()
	}
	if params.NumCores <= 0 {
		params.NumCores = runtime.NumCPU()
	}
	return &Runner{params: params}
}

// Process loads the frames, runs the technique and writes the results
func (r *Runner) Process() error {
	if _, err := ParseMode(string(r.params.Mode)); err != nil {
		return err
	}
	if err := os.MkdirAll(r.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// package progress logs are only shown in verbose mode
	if !r.params.Config.Output.Verbose {
		std, cdiOut := log.Writer(), cdi.Logger.Writer()
		log.SetOutput(io.Discard)
		cdi.Logger.SetOutput(io.Discard)
		defer func() {
			log.SetOutput(std)
			cdi.Logger.SetOutput(cdiOut)
		}()
	}

	fmt.Println("Step 1: Loading detector frames...")
	if err := r.loadFrames(); err != nil {
		return fmt.Errorf("failed to load frames: %w", err)
	}

	fmt.Printf("Step 2: Running %s analysis...\n", r.params.Mode)
	start := time.Now()
	var err error
	switch r.params.Mode {
	case ModeCalibrate:
		err = r.runCalibration()
	case ModeDPC:
		err = r.runDPC()
	case ModeCDI:
		err = r.runCDI()
	case ModeXSVS:
		err = r.runXSVS()
	}
	if err != nil {
		return fmt.Errorf("%s analysis failed: %w", r.params.Mode, err)
	}
	r.addSummary("processing_time", "%.3fs", time.Since(start).Seconds())

	fmt.Println("Step 3: Writing summary...")
	return r.writeSummary()
}

// loadFrames decodes every frame of the input directory, NumCores at a time
func (r *Runner) loadFrames() error {
	files, err := listFrames(r.params.InputDir)
	if err != nil {
		return err
	}

	type loadResult struct {
		index int
		image *models.Image
		err   error
	}
	resultChan := make(chan loadResult)
	sem := make(chan struct{}, r.params.NumCores)

	for i, name := range files {
		go func(index int, filename string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			img, err := loadImage(filepath.Join(r.params.InputDir, filename))
			if err != nil {
				resultChan <- loadResult{index: index, err: fmt.Errorf("failed to load image %s: %w", filename, err)}
				return
			}
			resultChan <- loadResult{index: index, image: imageToModel(img)}
		}(i, name)
	}

	frames := make(models.FrameSet, len(files))
	var firstErr error
	for range files {
		res := <-resultChan
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		frames[res.index] = models.Frame{Image: res.image, Index: res.index, Filename: files[res.index]}
	}
	if firstErr != nil {
		return firstErr
	}

	r.rows, r.cols = frames[0].Image.Shape()
	for _, f := range frames[1:] {
		if rows, cols := f.Image.Shape(); rows != r.rows || cols != r.cols {
			return fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", models.ErrShapeMismatch,
				f.Filename, rows, cols, frames[0].Filename, r.rows, r.cols)
		}
	}
	r.frames = frames

	fmt.Printf("Loaded %d frames with dimensions %dx%d\n", len(frames), r.cols, r.rows)
	r.addSummary("frames", "%d", len(frames))
	r.addSummary("frame_size", "%dx%d", r.rows, r.cols)
	return nil
}

// Frames returns the loaded frames
func (r *Runner) Frames() models.FrameSet {
	return r.frames
}

// Summary returns the reported results in the order they were produced
func (r *Runner) Summary() []Entry {
	return r.summary
}

func (r *Runner) addSummary(key, format string, args ...interface{}) {
	r.summary = append(r.summary, Entry{Key: key, Value: fmt.Sprintf(format, args...)})
}

// outputPath joins name onto the output directory
func (r *Runner) outputPath(name ...string) string {
	return filepath.Join(append([]string{r.params.OutputDir}, name...)...)
}

// writeSummary writes summary.txt as one "key: value" line per entry
func (r *Runner) writeSummary() error {
	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s\n", r.params.Mode)
	for _, e := range r.summary {
		fmt.Fprintf(&b, "%s: %s\n", e.Key, e.Value)
	}
	if err := os.WriteFile(r.outputPath("summary.txt"), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// intermediaryDir returns the directory for intermediary results, creating
// it on first use
func (r *Runner) intermediaryDir(stage string) (string, error) {
	dir := r.outputPath("intermediary", stage)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create intermediary directory: %w", err)
	}
	return dir, nil
}
