package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	atomicio "github.com/kushal-sa/HRP/internal/io"
	"github.com/kushal-sa/HRP/internal/simulation"
)

// Manifest describes one run directory
type Manifest struct {
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Scenario  string             `json:"scenario"`
	Generator string             `json:"generator"`
	Config    any                `json:"config"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Files     []string           `json:"files"`
}

// trajectoryLine is one line of trajectories.jsonl
type trajectoryLine struct {
	Allocator string `json:"allocator"`
	simulation.Trajectory
}

// Writer handles writing simulation artifacts to disk
type Writer struct {
	runID      string
	outputDir  string
	plots      bool
	assetNames []string
}

// NewWriter creates a writer for a fresh run directory under outputDir
func NewWriter(outputDir string) *Writer {
	runID := uuid.NewString()
	return &Writer{
		runID:     runID,
		outputDir: filepath.Join(outputDir, runID),
		plots:     true,
	}
}

// RunID returns the identifier stamped on the manifest
func (w *Writer) RunID() string {
	return w.runID
}

// OutputDir returns the run directory
func (w *Writer) OutputDir() string {
	return w.outputDir
}

// SetPlots enables or disables chart rendering
func (w *Writer) SetPlots(enabled bool) {
	w.plots = enabled
}

// SetAssetNames labels chart legends
func (w *Writer) SetAssetNames(names []string) {
	w.assetNames = names
}

// Write stores the summary, every trajectory and, when enabled, one weight
// chart per allocator, then the manifest listing them.
func (w *Writer) Write(m Manifest, result *simulation.Result, summary *Summary) (*Manifest, error) {
	m.RunID = w.runID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Files = nil

	if err := atomicio.WriteJSONAtomic(filepath.Join(w.outputDir, "summary.json"), summary); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	m.Files = append(m.Files, "summary.json")

	lines := make([]trajectoryLine, 0)
	for _, series := range result.Series {
		for _, traj := range series.Trajectories {
			lines = append(lines, trajectoryLine{Allocator: series.Allocator, Trajectory: traj})
		}
	}
	path := filepath.Join(w.outputDir, "trajectories.jsonl")
	if err := atomicio.WriteJSONLAtomic(path, len(lines), func(i int) any { return lines[i] }); err != nil {
		return nil, fmt.Errorf("failed to write trajectories: %w", err)
	}
	m.Files = append(m.Files, "trajectories.jsonl")

	if w.plots {
		for i := range summary.Allocators {
			a := &summary.Allocators[i]
			png, err := RenderWeights(a, w.assetNames)
			if errors.Is(err, ErrNoData) {
				log.Warn().Str("allocator", a.Allocator).Msg("No recorded weights, skipping chart")
				continue
			}
			if err != nil {
				return nil, err
			}
			name := "weights_" + strings.ToLower(a.Allocator) + ".png"
			if err := atomicio.WriteFileAtomic(filepath.Join(w.outputDir, name), png); err != nil {
				return nil, fmt.Errorf("failed to write chart: %w", err)
			}
			m.Files = append(m.Files, name)
		}
	}

	if err := atomicio.WriteJSONAtomic(filepath.Join(w.outputDir, "manifest.json"), m); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	log.Info().
		Str("run_id", w.runID).
		Str("dir", w.outputDir).
		Int("files", len(m.Files)+1).
		Msg("Artifacts written")
	return &m, nil
}
