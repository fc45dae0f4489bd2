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

package flatcal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/mlnoga/flatcal/internal/fits"
	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xisf"
)

func writeConstantFITS(t *testing.T, path string, value, exptime float64, imagetyp string) {
	t.Helper()
	img := imgdata.New(4, 4, 1)
	for i := range img.Pixels {
		img.Pixels[i] = value
	}
	img.Keywords["EXPTIME"] = imgdata.Keyword{Value: fmt.Sprintf("%g", exptime)}
	img.Keywords["IMAGETYP"] = imgdata.Keyword{Value: imagetyp}
	if err := fits.Write(path, img); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunEndToEndProducesOneMaster(t *testing.T) {
	flatRoot := t.TempDir()
	darkRoot := t.TempDir()
	outRoot := t.TempDir()

	for i := 1; i <= 3; i++ {
		writeConstantFITS(t, filepath.Join(flatRoot, fmt.Sprintf("flat_%03d.fits", i)), 0.5, 1.5, "Flat")
	}
	for i := 1; i <= 3; i++ {
		writeConstantFITS(t, filepath.Join(darkRoot, fmt.Sprintf("masterdark_%03d.fits", i)), 0.1, 1.5, "Master Dark")
	}

	cfg := DefaultConfig()
	cfg.Scan.OutputRootOverride = outRoot
	report, err := Run(context.Background(), []string{flatRoot}, []string{darkRoot}, cfg, io.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GroupsProcessed != 1 || report.GroupsSucceeded != 1 || report.GroupsFailed != 0 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(report.Groups) != 1 || report.Groups[0].OutputPath == "" {
		t.Fatalf("expected one written group, got %+v", report.Groups)
	}

	out, err := xisf.Read(report.Groups[0].OutputPath)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	// normalized 1.0, rescaled by the calibrated median 0.5-0.1 and stored as Float32.
	want := float64(float32(0.5 - float64(float32(0.1))))
	for i, v := range out.Pixels {
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("pixel %d = %v, want %v", i, v, want)
		}
	}

	// The report must marshal to JSON, per the structured-form contract.
	if _, err := json.Marshal(report); err != nil {
		t.Fatalf("marshal report: %v", err)
	}
}

func TestRunSkipsUnmatchedGroupWithoutFailure(t *testing.T) {
	flatRoot := t.TempDir()
	for i := 1; i <= 3; i++ {
		writeConstantFITS(t, filepath.Join(flatRoot, fmt.Sprintf("flat_%03d.fits", i)), 0.5, 1.5, "Flat")
	}

	cfg := DefaultConfig()
	report, err := Run(context.Background(), []string{flatRoot}, nil, cfg, io.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GroupsSkipped != 1 || report.GroupsFailed != 0 {
		t.Fatalf("expected one skipped group, got %+v", report)
	}
}

func TestRunFailsUnmatchedGroupWhenDarksRequired(t *testing.T) {
	flatRoot := t.TempDir()
	for i := 1; i <= 3; i++ {
		writeConstantFITS(t, filepath.Join(flatRoot, fmt.Sprintf("flat_%03d.fits", i)), 0.5, 1.5, "Flat")
	}

	cfg := DefaultConfig()
	cfg.Rejection.RequireDarks = true
	report, err := Run(context.Background(), []string{flatRoot}, nil, cfg, io.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GroupsFailed != 1 {
		t.Fatalf("expected one failed group, got %+v", report)
	}
}

// A directory passed only as a dark-library root is cataloged for
// matching but never scanned for flat jobs, since ScanFlats is only ever
// run over the caller-designated flat-base roots.
func TestRunDarkOnlyDirectoryNeverProducesFlatJob(t *testing.T) {
	darkRoot := t.TempDir()
	for i := 1; i <= 3; i++ {
		writeConstantFITS(t, filepath.Join(darkRoot, fmt.Sprintf("dark_%03d.fits", i)), 0.1, 1.0, "Dark")
	}

	report, err := Run(context.Background(), nil, []string{darkRoot}, DefaultConfig(), io.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GroupsProcessed != 0 {
		t.Fatalf("dark-only root must not yield any flat groups, got %+v", report)
	}
}
