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

// Package engine is the integration engine: for each valid exposure
// group it calibrates, normalizes, rejects, combines and rescales a
// stack of flats into one master-flat XISF file. The combine step's
// winsorized sigma clip is grounded on internal/ops/stack/stack.go's
// StackWinsorSigma, reimplemented against this system's exact numeric
// rules (a fixed +-5 sigma winsorizing clamp distinct from the
// low/high rejection sigma, sample variance via gonum/stat.MeanVariance
// instead of the teacher's population variance, no Star-weighting).
package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlnoga/flatcal/internal/darkmatch"
	"github.com/mlnoga/flatcal/internal/fits"
	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/meta"
	"github.com/mlnoga/flatcal/internal/scan"
	"github.com/mlnoga/flatcal/internal/stats"
	"github.com/mlnoga/flatcal/internal/xerrs"
	"github.com/mlnoga/flatcal/internal/xisf"
)

// Config carries the integration-engine-relevant processing options.
type Config struct {
	LowSigma  float64 // rejection.low_sigma, default 5.0
	HighSigma float64 // rejection.high_sigma, default 5.0
	// DeleteCalibrated is accepted for configuration-record compatibility.
	// This engine never writes intermediate calibrated frames to disk, so
	// there is nothing for it to clean up.
	DeleteCalibrated bool
	RequireDarks     bool
}

// DefaultConfig returns the engine defaults named in the processing
// configuration table.
func DefaultConfig() Config {
	return Config{LowSigma: 5.0, HighSigma: 5.0}
}

const winsorClampSigma = 5.0
const winsorConvergence = 1e-15
const maxWinsorIterations = 10
const minKept = 3
const flooredEpsilon = 1e-15

// GroupResult is the outcome of integrating one exposure group.
type GroupResult struct {
	Group      scan.ExposureGroup
	OutputPath string
	Match      darkmatch.Result
	HasMatch   bool
	Err        error
}

// ProcessGroup runs the eight-step pipeline for one exposure group and
// writes a master-flat XISF file under job's output root, returning its
// path. hasMatch=false and cfg.RequireDarks=false causes the group to be
// skipped (empty path, nil error); cfg.RequireDarks=true causes it to fail
// instead.
func ProcessGroup(ctx context.Context, job scan.DirectoryJob, group scan.ExposureGroup,
	match darkmatch.Result, hasMatch bool, cfg Config, logWriter io.Writer) (string, error) {

	if ctx.Err() != nil {
		return "", xerrs.New(xerrs.Cancelled, job.SourceDir, ctx.Err())
	}
	if !hasMatch {
		if cfg.RequireDarks {
			return "", xerrs.New(xerrs.NoMatchingDark, job.SourceDir, fmt.Errorf("no dark match for exposure group %s", meta.ExposureKey(group.Exposure)))
		}
		return "", nil
	}

	// 1. order frames: group.Paths is already sorted case-insensitively by the scanner.
	paths := group.Paths

	// 2. load dark, optionally exposure-scaled.
	dark, err := loadImage(match.Dark.Path, logWriter)
	if err != nil {
		return "", err
	}
	if match.Optimize && match.Dark.Exposure > 0 {
		scaleFactor := group.Exposure / match.Dark.Exposure
		for i := range dark.Pixels {
			dark.Pixels[i] *= scaleFactor
		}
	}

	if ctx.Err() != nil {
		return "", xerrs.New(xerrs.Cancelled, job.SourceDir, ctx.Err())
	}

	// 3. calibrate each flat.
	calibrated := make([]*imgdata.ImageData, 0, len(paths))
	for _, p := range paths {
		flat, err := loadImage(p, logWriter)
		if err != nil {
			return "", err
		}
		if !flat.SameGeometry(dark) {
			return "", xerrs.New(xerrs.BadGeometry, p, fmt.Errorf("flat %s does not match dark geometry", flat.DimensionsToString()))
		}
		for i := range flat.Pixels {
			flat.Pixels[i] -= dark.Pixels[i]
		}
		calibrated = append(calibrated, flat)
	}

	if ctx.Err() != nil {
		return "", xerrs.New(xerrs.Cancelled, job.SourceDir, ctx.Err())
	}

	// 4. multiplicative normalization by each frame's own median.
	medians := make([]float64, len(calibrated))
	for i, img := range calibrated {
		med := stats.ExactMedian(img.Pixels)
		medians[i] = med
		if math.Abs(med) >= flooredEpsilon {
			for j := range img.Pixels {
				img.Pixels[j] /= med
			}
		}
	}
	referenceMedian := medians[0]

	// 5. equalize-fluxes factors for rejection testing only.
	frameMeans := make([]float64, len(calibrated))
	for i, img := range calibrated {
		frameMeans[i] = mean(img.Pixels)
	}
	factors := make([]float64, len(calibrated))
	for i := range calibrated {
		if math.Abs(frameMeans[i]) < flooredEpsilon {
			factors[i] = 1
		} else {
			factors[i] = frameMeans[0] / frameMeans[i]
		}
	}

	// 6. combine.
	n := len(calibrated)
	numPixels := calibrated[0].NumPixels()
	result := make([]float64, numPixels)
	normCol := make([]float64, n)
	equalCol := make([]float64, n)
	for idx := 0; idx < numPixels; idx++ {
		for i, img := range calibrated {
			normCol[i] = img.Pixels[idx]
			equalCol[i] = img.Pixels[idx] * factors[i]
		}
		result[idx] = combineColumn(normCol, equalCol, n, cfg)
	}

	// 7. rescale by the reference median.
	for i := range result {
		result[i] *= referenceMedian
	}

	out := imgdata.New(calibrated[0].Width, calibrated[0].Height, calibrated[0].Channels)
	out.Pixels = result
	for k, v := range calibrated[0].Keywords {
		out.Keywords[k] = v
	}
	out.Keywords["IMAGETYP"] = imgdata.Keyword{Value: "Master Flat"}

	// 8. emit.
	filename := deriveFilename(job.SourceDir, group, out.Keywords)
	outDir := filepath.Join(job.OutputRoot, job.RelativeDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", xerrs.New(xerrs.Internal, outDir, err)
	}
	outPath := filepath.Join(outDir, filename)
	if err := xisf.Write(outPath, out); err != nil {
		return "", err
	}
	return outPath, nil
}

func mean(data []float64) float64 {
	sum := 0.0
	for _, d := range data {
		sum += d
	}
	return sum / float64(len(data))
}

// ProbeNumPixels loads path and returns its pixel count, for callers that
// need an image's footprint before deciding how many groups to process
// concurrently (see SuggestGroupParallelism).
func ProbeNumPixels(path string, logWriter io.Writer) (int, error) {
	img, err := loadImage(path, logWriter)
	if err != nil {
		return 0, err
	}
	return img.NumPixels(), nil
}

// loadImage dispatches to the FITS or XISF reader by extension, the same
// tagged-variant dispatch the metadata reader uses.
func loadImage(path string, logWriter io.Writer) (*imgdata.ImageData, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xisf":
		return xisf.Read(path)
	default:
		return fits.Read(path, logWriter)
	}
}
