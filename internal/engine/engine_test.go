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

package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlnoga/flatcal/internal/darkmatch"
	"github.com/mlnoga/flatcal/internal/fits"
	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/meta"
	"github.com/mlnoga/flatcal/internal/scan"
	"github.com/mlnoga/flatcal/internal/xisf"
)

func writeConstantFITS(t *testing.T, path string, value float64, exptime float64, imagetyp string) {
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

func writeConstantXISF(t *testing.T, path string, value float64, exptime float64, imagetyp string) {
	t.Helper()
	img := imgdata.New(4, 4, 1)
	for i := range img.Pixels {
		img.Pixels[i] = value
	}
	img.Keywords["EXPTIME"] = imgdata.Keyword{Value: fmt.Sprintf("%g", exptime)}
	img.Keywords["IMAGETYP"] = imgdata.Keyword{Value: imagetyp}
	if err := xisf.Write(path, img); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Scenario 1: three constant-0.5 flats at 1.5s calibrated against a
// constant-0.1 masterdark normalize to 1.0 and are rescaled by the first
// frame's median, so every master pixel sits at the calibrated level 0.4
// (Float32-rounded), named MasterFlat_<today>_UNKNOWN_Bin1_1.5s.xisf.
func TestProcessGroupConstantFlatsYieldCalibratedLevelMaster(t *testing.T) {
	root := t.TempDir()
	outRoot := t.TempDir()

	paths := make([]string, 3)
	for i := range paths {
		p := filepath.Join(root, fmt.Sprintf("flat_%03d.fits", i+1))
		writeConstantFITS(t, p, 0.5, 1.5, "Flat")
		paths[i] = p
	}
	darkPath := filepath.Join(root, "masterdark_1.5s.xisf")
	writeConstantXISF(t, darkPath, 0.1, 1.5, "Master Dark")

	job := scan.DirectoryJob{
		SourceDir:   root,
		BaseRoot:    root,
		OutputRoot:  outRoot,
		RelativeDir: ".",
	}
	group := scan.ExposureGroup{Exposure: 1.5, Paths: paths}
	dark := scan.DarkFrame{Path: darkPath, Type: meta.MasterDark, Exposure: 1.5}
	match := darkmatch.Result{Dark: &dark, Optimize: false, Kind: "exact"}

	outPath, err := ProcessGroup(context.Background(), job, group, match, true, DefaultConfig(), io.Discard)
	if err != nil {
		t.Fatalf("ProcessGroup: %v", err)
	}

	wantName := fmt.Sprintf("MasterFlat_%s_UNKNOWN_Bin1_1.5s.xisf", time.Now().UTC().Format("2006-01-02"))
	if filepath.Base(outPath) != wantName {
		t.Errorf("output name = %q, want %q", filepath.Base(outPath), wantName)
	}

	out, err := xisf.Read(outPath)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	// the dark is stored as Float32, and so is the master.
	want := float64(float32(0.5 - float64(float32(0.1))))
	for i, v := range out.Pixels {
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("pixel %d = %v, want %v", i, v, want)
		}
	}
	if out.Keywords["IMAGETYP"].Value != "Master Flat" {
		t.Errorf("IMAGETYP = %q, want Master Flat", out.Keywords["IMAGETYP"].Value)
	}
}

// Dark-scale linearity: an optimize-scaled dark is multiplied by
// flat_exp/dark_exp before subtraction, for constant frames.
func TestProcessGroupDarkScaleLinearity(t *testing.T) {
	root := t.TempDir()

	paths := make([]string, 3)
	for i := range paths {
		p := filepath.Join(root, fmt.Sprintf("flat_%03d.fits", i+1))
		writeConstantFITS(t, p, 0.5, 2.0, "Flat")
		paths[i] = p
	}
	// a 1s dark at 0.1/s scales to 0.2 at 2s, leaving a calibrated level of 0.3.
	shortDarkPath := filepath.Join(root, "masterdark_1.0s.xisf")
	writeConstantXISF(t, shortDarkPath, 0.1, 1.0, "Master Dark")

	job := scan.DirectoryJob{SourceDir: root, BaseRoot: root, OutputRoot: t.TempDir(), RelativeDir: "."}
	group := scan.ExposureGroup{Exposure: 2.0, Paths: paths}
	shortDark := scan.DarkFrame{Path: shortDarkPath, Type: meta.MasterDark, Exposure: 1.0}
	scaledMatch := darkmatch.Result{Dark: &shortDark, Optimize: true, Kind: "near-optimize"}

	scaledOut, err := ProcessGroup(context.Background(), job, group, scaledMatch, true, DefaultConfig(), io.Discard)
	if err != nil {
		t.Fatalf("ProcessGroup (scaled): %v", err)
	}
	scaled, err := xisf.Read(scaledOut)
	if err != nil {
		t.Fatalf("read scaled master: %v", err)
	}
	// the master is rescaled by the calibrated median and stored as Float32.
	want := float64(float32(0.5 - 2*float64(float32(0.1))))
	for i, v := range scaled.Pixels {
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("scaled pixel %d = %v, want %v", i, v, want)
		}
	}
}

func TestProcessGroupNoMatchSkipsWithoutError(t *testing.T) {
	job := scan.DirectoryJob{SourceDir: t.TempDir(), OutputRoot: t.TempDir(), RelativeDir: "."}
	group := scan.ExposureGroup{Exposure: 1.5}
	cfg := DefaultConfig()
	cfg.RequireDarks = false

	outPath, err := ProcessGroup(context.Background(), job, group, darkmatch.Result{}, false, cfg, io.Discard)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outPath != "" {
		t.Errorf("expected empty output path, got %q", outPath)
	}
}

func TestProcessGroupNoMatchFailsWhenRequired(t *testing.T) {
	job := scan.DirectoryJob{SourceDir: t.TempDir(), OutputRoot: t.TempDir(), RelativeDir: "."}
	group := scan.ExposureGroup{Exposure: 1.5}
	cfg := DefaultConfig()
	cfg.RequireDarks = true

	_, err := ProcessGroup(context.Background(), job, group, darkmatch.Result{}, false, cfg, io.Discard)
	if err == nil {
		t.Fatal("expected an error when darks are required and no match exists")
	}
}

func TestProcessGroupRejectsMismatchedGeometry(t *testing.T) {
	root := t.TempDir()
	flatPath := filepath.Join(root, "flat_001.fits")
	writeConstantFITS(t, flatPath, 0.5, 1.0, "Flat")
	darkPath := filepath.Join(root, "masterdark_1.0s.xisf")

	img := imgdata.New(8, 8, 1) // mismatched geometry
	for i := range img.Pixels {
		img.Pixels[i] = 0.1
	}
	if err := xisf.Write(darkPath, img); err != nil {
		t.Fatalf("write dark: %v", err)
	}

	job := scan.DirectoryJob{SourceDir: root, OutputRoot: t.TempDir(), RelativeDir: "."}
	group := scan.ExposureGroup{Exposure: 1.0, Paths: []string{flatPath, flatPath, flatPath}}
	dark := scan.DarkFrame{Path: darkPath, Type: meta.MasterDark, Exposure: 1.0}
	match := darkmatch.Result{Dark: &dark, Kind: "exact"}

	_, err := ProcessGroup(context.Background(), job, group, match, true, DefaultConfig(), io.Discard)
	if err == nil {
		t.Fatal("expected a geometry mismatch error")
	}
}
