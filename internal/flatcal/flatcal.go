// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package flatcal orchestrates the full flat-calibration run: scan flats
// and darks (internal/scan, backed by internal/meta), match each
// exposure group to a calibration frame (internal/darkmatch), and
// integrate matched groups into master-flat XISF files
// (internal/engine). Grounded on cmd/nightlight/main.go's run shape
// (flag-driven single-pass pipeline reporting a summary at the end),
// generalized into a library entry point: the CLI front end itself is
// out of scope, so this package exposes Run as the collaborator a future
// front end would call.
package flatcal

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mlnoga/flatcal/internal/darkmatch"
	"github.com/mlnoga/flatcal/internal/engine"
	"github.com/mlnoga/flatcal/internal/meta"
	"github.com/mlnoga/flatcal/internal/scan"
)

// Config is the full ProcessingConfiguration record: every recognized
// option from the external-interfaces table, flattened into one struct
// since the run has no use for per-source overrides.
type Config struct {
	Rejection engine.Config
	DarkMatch darkmatch.Config
	Scan      ScanConfig
}

// ScanConfig carries the scan-time knobs that are not engine- or
// matcher-specific.
type ScanConfig struct {
	// Parallelism bounds concurrent header reads during metadata
	// collection; DefaultParallelism() is used when zero.
	Parallelism int
	// OutputRootOverride replaces "<base>_processed" for every job when
	// non-empty.
	OutputRootOverride string
}

// DefaultConfig returns every option at its documented default.
func DefaultConfig() Config {
	return Config{
		Rejection: engine.DefaultConfig(),
		DarkMatch: darkmatch.DefaultConfig(),
	}
}

// GroupDiagnostic records the matching and integration outcome of one
// exposure group, the per-group diagnostic record named in the external
// interfaces.
type GroupDiagnostic struct {
	SourceDir   string   `json:"source_dir"`
	Exposure    float64  `json:"exposure"`
	ExposureKey string   `json:"exposure_key"`
	FrameCount  int      `json:"frame_count"`
	Matched     bool     `json:"matched"`
	DarkPath    string   `json:"dark_path,omitempty"`
	MatchKind   string   `json:"match_kind,omitempty"`
	Optimize    bool     `json:"optimize"`
	OutputPath  string   `json:"output_path,omitempty"`
	Skipped     bool     `json:"skipped"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Report is the run-wide summary: counts, dark-temperature statistics,
// duration and warnings, plus the per-group diagnostics. It renders both
// textually (String) and structurally (it is itself JSON-emittable via
// encoding/json, per the external interfaces' "structured form suitable
// for JSON emission").
type Report struct {
	GroupsProcessed int               `json:"groups_processed"`
	GroupsSucceeded int               `json:"groups_succeeded"`
	GroupsFailed    int               `json:"groups_failed"`
	GroupsSkipped   int               `json:"groups_skipped"`
	UniqueDarksUsed int               `json:"unique_darks_used"`
	DarkTempMin     float64           `json:"dark_temp_min,omitempty"`
	DarkTempMax     float64           `json:"dark_temp_max,omitempty"`
	HasDarkTempStat bool              `json:"has_dark_temp_stat"`
	Duration        time.Duration     `json:"duration_ns"`
	Warnings        []string          `json:"warnings,omitempty"`
	Groups          []GroupDiagnostic `json:"groups"`
}

// String renders the textual summary form.
func (r *Report) String() string {
	s := fmt.Sprintf("processed %d groups: %d succeeded, %d failed, %d skipped; %d unique darks used; duration %s",
		r.GroupsProcessed, r.GroupsSucceeded, r.GroupsFailed, r.GroupsSkipped, r.UniqueDarksUsed, r.Duration)
	if r.HasDarkTempStat {
		s += fmt.Sprintf("; dark temperature range %.1f..%.1fC", r.DarkTempMin, r.DarkTempMax)
	}
	for _, w := range r.Warnings {
		s += "\nwarning: " + w
	}
	return s
}

// Run scans flatRoots and darkRoots, matches every valid exposure group
// to a calibration frame, and integrates matched groups into master-flat
// files. It returns a Report summarizing the run even when some groups
// fail; a non-nil error is only returned for run-wide conditions (here,
// context cancellation observed before any work started).
func Run(ctx context.Context, flatRoots, darkRoots []string, cfg Config, logWriter io.Writer) (*Report, error) {
	start := time.Now()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	parallelism := cfg.Scan.Parallelism
	if parallelism <= 0 {
		parallelism = meta.DefaultParallelism()
	}

	cache := meta.NewCache()

	darks := scan.ScanDarks(ctx, darkRoots, cache, parallelism, nil, logWriter)
	scan.BackfillTemperature(darks, medianOf)

	jobs := scan.ScanFlats(ctx, flatRoots, cache, parallelism, cfg.Scan.OutputRootOverride, nil, logWriter)

	report := &Report{}
	usedDarks := make(map[string]bool)
	var tempMin, tempMax float64
	haveTemp := false
	for _, d := range darks {
		if !d.HasTemperature {
			continue
		}
		if !haveTemp || d.Temperature < tempMin {
			tempMin = d.Temperature
		}
		if !haveTemp || d.Temperature > tempMax {
			tempMax = d.Temperature
		}
		haveTemp = true
	}
	report.DarkTempMin, report.DarkTempMax, report.HasDarkTempStat = tempMin, tempMax, haveTemp

	var mu sync.Mutex
	for _, job := range jobs {
		if ctx.Err() != nil {
			report.Warnings = append(report.Warnings, "run cancelled before all groups were processed")
			report.Duration = time.Since(start)
			return report, nil
		}
		if len(job.Groups) == 0 {
			continue
		}

		groupConcurrency := groupParallelism(job, logWriter)
		sem := make(chan struct{}, groupConcurrency)
		var wg sync.WaitGroup
		for _, group := range job.Groups {
			wg.Add(1)
			sem <- struct{}{}
			go func(group scan.ExposureGroup) {
				defer wg.Done()
				defer func() { <-sem }()

				diag := GroupDiagnostic{
					SourceDir:   job.SourceDir,
					Exposure:    group.Exposure,
					ExposureKey: meta.ExposureKey(group.Exposure),
					FrameCount:  len(group.Paths),
				}

				match, hasMatch := darkmatch.Match(&group, darks, cfg.DarkMatch)
				diag.Matched = hasMatch
				if hasMatch {
					diag.DarkPath = match.Dark.Path
					diag.MatchKind = match.Kind
					diag.Optimize = match.Optimize
					diag.Warnings = append(diag.Warnings, match.Warnings...)
				}

				outPath, err := engine.ProcessGroup(ctx, job, group, match, hasMatch, cfg.Rejection, logWriter)

				mu.Lock()
				defer mu.Unlock()
				report.GroupsProcessed++
				switch {
				case err != nil:
					diag.Error = err.Error()
					report.GroupsFailed++
				case outPath == "":
					diag.Skipped = true
					report.GroupsSkipped++
					fmt.Fprintf(logWriter, "skipping exposure group %s in %s: no calibration match\n", diag.ExposureKey, job.SourceDir)
				default:
					diag.OutputPath = outPath
					report.GroupsSucceeded++
					if hasMatch {
						usedDarks[match.Dark.Path] = true
					}
				}
				report.Groups = append(report.Groups, diag)
			}(group)
		}
		wg.Wait()
	}

	report.UniqueDarksUsed = len(usedDarks)
	report.Duration = time.Since(start)
	sort.Slice(report.Groups, func(i, j int) bool {
		if report.Groups[i].SourceDir != report.Groups[j].SourceDir {
			return report.Groups[i].SourceDir < report.Groups[j].SourceDir
		}
		return report.Groups[i].ExposureKey < report.Groups[j].ExposureKey
	})
	return report, nil
}

// groupParallelism bounds how many of job's exposure groups are
// calibrated concurrently, sized from a probe of the job's first frame's
// footprint via engine.SuggestGroupParallelism. A probe failure (bad or
// unreadable file; the matching ProcessGroup call will report the real
// error) falls back to sequential processing.
func groupParallelism(job scan.DirectoryJob, logWriter io.Writer) int {
	maxGroupSize := 0
	var probePath string
	for _, g := range job.Groups {
		if len(g.Paths) > maxGroupSize {
			maxGroupSize = len(g.Paths)
		}
		if probePath == "" && len(g.Paths) > 0 {
			probePath = g.Paths[0]
		}
	}
	if probePath == "" {
		return 1
	}
	numPixels, err := engine.ProbeNumPixels(probePath, logWriter)
	if err != nil {
		return 1
	}
	parallelism := engine.SuggestGroupParallelism(numPixels, maxGroupSize, 0)
	if parallelism < 1 {
		return 1
	}
	return parallelism
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	cp := append([]float64(nil), values...)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}

