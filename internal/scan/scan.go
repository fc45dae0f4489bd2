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

// Package scan walks a forest of directories breadth-first, grouping
// flats by exposure and cataloging darks. Grounded on the teacher's
// warning-log-not-abort treatment of per-file failures (internal/read.go)
// and on stack.go's running-progress-percentage reporting style,
// generalized from a single-stack progress bar to a directory-level
// progress channel.
package scan

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlnoga/flatcal/internal/meta"
)

var reservedNames = map[string]bool{
	"_darkmasters":     true,
	"_calibratedflats": true,
	"masters":          true,
	"_processed":       true,
}

var supportedExts = map[string]bool{
	".fits": true,
	".fit":  true,
	".xisf": true,
}

func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return reservedNames[strings.ToLower(name)]
}

// ExposureGroup is a bag of frame paths sharing one rounded exposure.
type ExposureGroup struct {
	Exposure    float64
	Paths       []string // sorted case-insensitively
	Representative *meta.Metadata

	Binning     string
	HasBinning  bool
	Gain        float64
	HasGain     bool
	Offset      float64
	HasOffset   bool
	Temperature float64
	HasTemperature bool
}

// IsValid reports whether the group meets the minimum-3-files floor.
func (g *ExposureGroup) IsValid() bool {
	return len(g.Paths) >= 3
}

// DirectoryJob is a unit of work per leaf directory of flats.
type DirectoryJob struct {
	SourceDir string
	BaseRoot  string
	OutputRoot string
	RelativeDir string
	Groups    []ExposureGroup // valid groups only
}

// DarkFrame is a calibration candidate cataloged from a dark library.
type DarkFrame struct {
	Path        string
	Type        meta.FrameType
	Exposure    float64
	Binning     string
	Gain        float64
	HasGain     bool
	Offset      float64
	HasOffset   bool
	Temperature float64
	HasTemperature bool
	UserSelected bool
}

// ProgressEvent reports running scan counts after each visited directory.
type ProgressEvent struct {
	Dirs      int
	Files     int
	ByExt     map[string]int
	CurrentPath string
}

type walkState struct {
	dirs, files int
	byExt       map[string]int
}

func (s *walkState) emit(progress chan<- ProgressEvent, path string) {
	if progress == nil {
		return
	}
	snap := make(map[string]int, len(s.byExt))
	for k, v := range s.byExt {
		snap[k] = v
	}
	select {
	case progress <- ProgressEvent{Dirs: s.dirs, Files: s.files, ByExt: snap, CurrentPath: path}:
	default:
		// consumers are expected to be fast or lossy; drop on backpressure.
	}
}

// walkBreadthFirst visits every directory reachable from roots
// breadth-first, calling visit(dir, files) with the supported-extension
// files directly contained in dir. Directories whose leaf name is
// skip-worthy are pruned without recursing. Inaccessible directories log
// a warning and yield no entries, matching the scanner's access-denied
// contract.
func walkBreadthFirst(ctx context.Context, roots []string, logWriter io.Writer, progress chan<- ProgressEvent,
	visit func(dir string, files []string)) {

	state := &walkState{byExt: make(map[string]int)}
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			fmt.Fprintf(logWriter, "warning: cannot read directory %s: %v\n", dir, err)
			continue
		}
		state.dirs++

		var files []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				if skipDir(name) {
					continue
				}
				queue = append(queue, filepath.Join(dir, name))
				continue
			}
			ext := strings.ToLower(filepath.Ext(name))
			if !supportedExts[ext] {
				continue
			}
			files = append(files, filepath.Join(dir, name))
			state.files++
			state.byExt[ext]++
		}
		state.emit(progress, dir)
		if len(files) > 0 {
			visit(dir, files)
		}
	}
}

// findRoot returns the root from roots that is a prefix of dir (the
// longest such match), used to compute BaseRoot/RelativeDir for a
// DirectoryJob.
func findRoot(roots []string, dir string) string {
	best := ""
	for _, r := range roots {
		if (dir == r || strings.HasPrefix(dir, r+string(filepath.Separator))) && len(r) > len(best) {
			best = r
		}
	}
	if best == "" {
		return dir
	}
	return best
}

// ScanFlats walks roots for flat-candidate directories, grouping files by
// 3-decimal exposure key within each directory and discarding groups
// below the validity floor. Frames whose type is dark- or bias-class are
// left out of the groups. outputRootOverride, if non-empty, replaces
// the default "<base>_processed" output root for every emitted job.
func ScanFlats(ctx context.Context, roots []string, cache *meta.Cache, parallelism int,
	outputRootOverride string, progress chan<- ProgressEvent, logWriter io.Writer) []DirectoryJob {

	var jobs []DirectoryJob
	walkBreadthFirst(ctx, roots, logWriter, progress, func(dir string, files []string) {
		var candidates []string
		for _, f := range files {
			if strings.HasPrefix(strings.ToLower(filepath.Base(f)), "masterflat_") {
				continue
			}
			candidates = append(candidates, f)
		}
		if len(candidates) == 0 {
			return
		}

		records := cache.ReadBatch(ctx, candidates, parallelism, logWriter)
		var flats []*meta.Metadata
		for _, m := range records {
			if m.Type.IsDarkClass() || m.Type.IsBiasClass() {
				continue
			}
			flats = append(flats, m)
		}
		groups := groupByExposure(flats)

		var valid []ExposureGroup
		for _, g := range groups {
			if g.IsValid() {
				valid = append(valid, g)
			}
		}
		if len(valid) == 0 {
			return
		}

		base := findRoot(roots, dir)
		rel, _ := filepath.Rel(base, dir)
		outRoot := outputRootOverride
		if outRoot == "" {
			outRoot = base + "_processed"
		}
		jobs = append(jobs, DirectoryJob{
			SourceDir:   dir,
			BaseRoot:    base,
			OutputRoot:  outRoot,
			RelativeDir: rel,
			Groups:      valid,
		})
	})
	return jobs
}

func groupByExposure(records []*meta.Metadata) []ExposureGroup {
	byKey := make(map[string]*ExposureGroup)
	var order []string
	for _, m := range records {
		key := m.ExposureKey()
		g, ok := byKey[key]
		if !ok {
			g = &ExposureGroup{Exposure: m.Exposure, Representative: m}
			if m.Binning != "" {
				g.Binning, g.HasBinning = m.Binning, true
			}
			if m.HasGain {
				g.Gain, g.HasGain = m.Gain, true
			}
			if m.HasOffset {
				g.Offset, g.HasOffset = m.Offset, true
			}
			if m.HasTemperature {
				g.Temperature, g.HasTemperature = m.Temperature, true
			}
			byKey[key] = g
			order = append(order, key)
		}
		g.Paths = append(g.Paths, m.Path)
	}
	sort.Strings(order)
	out := make([]ExposureGroup, 0, len(order))
	for _, k := range order {
		g := byKey[k]
		sort.Slice(g.Paths, func(i, j int) bool {
			return strings.ToLower(g.Paths[i]) < strings.ToLower(g.Paths[j])
		})
		out = append(out, *g)
	}
	return out
}

// ScanDarks walks roots for dark/bias calibration candidates, cataloging
// any frame whose type is a dark-class type with a present exposure, or a
// bias-class type (exposure defaults to 0).
func ScanDarks(ctx context.Context, roots []string, cache *meta.Cache, parallelism int,
	progress chan<- ProgressEvent, logWriter io.Writer) []DarkFrame {

	var catalog []DarkFrame
	walkBreadthFirst(ctx, roots, logWriter, progress, func(dir string, files []string) {
		records := cache.ReadBatch(ctx, files, parallelism, logWriter)
		for _, m := range records {
			df, ok := toDarkFrame(m)
			if ok {
				catalog = append(catalog, df)
			}
		}
	})
	return catalog
}

func toDarkFrame(m *meta.Metadata) (DarkFrame, bool) {
	switch {
	case m.Type.IsDarkClass() && m.HasExposure:
		return DarkFrame{
			Path: m.Path, Type: m.Type, Exposure: m.Exposure,
			Binning: m.Binning, Gain: m.Gain, HasGain: m.HasGain,
			Offset: m.Offset, HasOffset: m.HasOffset,
			Temperature: m.Temperature, HasTemperature: m.HasTemperature,
		}, true
	case m.Type.IsBiasClass():
		exp := 0.0
		if m.HasExposure {
			exp = m.Exposure
		}
		return DarkFrame{
			Path: m.Path, Type: m.Type, Exposure: exp,
			Binning: m.Binning, Gain: m.Gain, HasGain: m.HasGain,
			Offset: m.Offset, HasOffset: m.HasOffset,
			Temperature: m.Temperature, HasTemperature: m.HasTemperature,
		}, true
	}
	return DarkFrame{}, false
}

// BackfillTemperature imputes the median temperature of darks sharing the
// same binning for every cataloged dark lacking one, in two passes
// (collect donors, then impute) to avoid order-dependence among catalog
// entries.
func BackfillTemperature(darks []DarkFrame, medianFn func([]float64) float64) {
	donorsByBinning := make(map[string][]float64)
	for _, d := range darks {
		if d.HasTemperature {
			donorsByBinning[d.Binning] = append(donorsByBinning[d.Binning], d.Temperature)
		}
	}
	medians := make(map[string]float64, len(donorsByBinning))
	for bin, temps := range donorsByBinning {
		medians[bin] = medianFn(temps)
	}
	for i := range darks {
		if darks[i].HasTemperature {
			continue
		}
		if v, ok := medians[darks[i].Binning]; ok {
			darks[i].Temperature = v
			darks[i].HasTemperature = true
		}
	}
}
