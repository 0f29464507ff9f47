package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/fetch"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// TileStatus is the acquisition outcome of one tile.
type TileStatus string

const (
	TileOK     TileStatus = "ok"
	TileEmpty  TileStatus = "empty"
	TileFailed TileStatus = "failed"
)

// TileReport describes one tile of a run.
type TileReport struct {
	Name       string        `json:"name"`
	Extent     domain.Extent `json:"extent"`
	Status     TileStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// VariantReport describes one fill variant of a run.
type VariantReport struct {
	Method      domain.FillMethod    `json:"method"`
	FilledCells int                  `json:"filled_cells"`
	Fallback    string               `json:"fallback,omitempty"`
	Artifact    *domain.GridArtifact `json:"artifact,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// RunReport is the outcome of Pipeline.Run.
type RunReport struct {
	RunID    string            `json:"run_id"`
	Date     time.Time         `json:"date"`
	Status   catalog.RunStatus `json:"status"`
	Error    string            `json:"error,omitempty"`
	Tiles    []TileReport      `json:"tiles"`
	Merge    domain.MergeStats `json:"merge"`
	Variants []VariantReport   `json:"variants"`
	Elapsed  time.Duration     `json:"elapsed_ns"`
}

// TileCount returns how many tiles ended with status.
func (r *RunReport) TileCount(status TileStatus) int {
	n := 0
	for _, t := range r.Tiles {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Artifacts returns the persisted artifacts in variant order.
func (r *RunReport) Artifacts() []domain.GridArtifact {
	var out []domain.GridArtifact
	for _, v := range r.Variants {
		if v.Artifact != nil {
			out = append(out, *v.Artifact)
		}
	}
	return out
}

// ArtifactPaths returns the file paths of the persisted artifacts.
func (r *RunReport) ArtifactPaths() []string {
	arts := r.Artifacts()
	paths := make([]string, len(arts))
	for i, a := range arts {
		paths[i] = a.Path
	}
	return paths
}

// Summary renders the end-of-run text printed by the CLI.
func (r *RunReport) Summary() string {
	var b strings.Builder
	minutes := int(r.Elapsed / time.Minute)
	seconds := (r.Elapsed % time.Minute).Seconds()

	fmt.Fprintf(&b, "Run %s for %s: %s\n", r.RunID, r.Date.Format("2006-01-02"), r.Status)
	fmt.Fprintf(&b, "Tiles: %d ok, %d empty, %d failed\n",
		r.TileCount(TileOK), r.TileCount(TileEmpty), r.TileCount(TileFailed))
	for _, t := range r.Tiles {
		if t.Status == TileFailed {
			fmt.Fprintf(&b, "  %s: %s\n", t.Name, t.Error)
		}
	}
	for _, v := range r.Variants {
		switch {
		case v.Error != "":
			fmt.Fprintf(&b, "  %-8s not written: %s\n", v.Method, v.Error)
		case v.Fallback != "":
			fmt.Fprintf(&b, "  %-8s %s (fallback to original: %s)\n", v.Method, v.Artifact.Path, v.Fallback)
		default:
			fmt.Fprintf(&b, "  %-8s %s\n", v.Method, v.Artifact.Path)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "Completed in %d minutes and %.2f seconds\n", minutes, seconds)
	return b.String()
}

func tileStatus(r fetch.TileResult) TileStatus {
	switch {
	case !r.OK():
		return TileFailed
	case r.Grid.Empty():
		return TileEmpty
	default:
		return TileOK
	}
}

func tileReports(results []fetch.TileResult) []TileReport {
	out := make([]TileReport, len(results))
	for i, r := range results {
		out[i] = TileReport{
			Name:       r.Tile.Name,
			Extent:     r.Tile.Extent,
			Status:     tileStatus(r),
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}
