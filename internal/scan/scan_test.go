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

package scan

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mlnoga/flatcal/internal/fits"
	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/meta"
)

func writeTestFrame(t *testing.T, path string, exptime float64, imagetyp string) {
	t.Helper()
	img := imgdata.New(4, 4, 1)
	for i := range img.Pixels {
		img.Pixels[i] = 0.5
	}
	img.Keywords["EXPTIME"] = imgdata.Keyword{Value: strconv.FormatFloat(exptime, 'g', -1, 64)}
	img.Keywords["IMAGETYP"] = imgdata.Keyword{Value: imagetyp}
	if err := fits.Write(path, img); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanFlatsGroupingAndFiltering(t *testing.T) {
	root := t.TempDir()
	for i := 1; i <= 3; i++ {
		writeTestFrame(t, filepath.Join(root, flatName(i)), 1.5, "Flat")
	}
	// a flat at a different exposure, too few to form a valid group
	writeTestFrame(t, filepath.Join(root, "flat_other_001.fits"), 3.0, "Flat")
	// a previously produced master must be filtered out
	writeTestFrame(t, filepath.Join(root, "masterflat_bin1.fits"), 1.5, "Master Flat")

	cache := meta.NewCache()
	jobs := ScanFlats(context.Background(), []string{root}, cache, 4, "", nil, io.Discard)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if len(job.Groups) != 1 {
		t.Fatalf("expected 1 valid group, got %d", len(job.Groups))
	}
	g := job.Groups[0]
	if !g.IsValid() || len(g.Paths) != 3 {
		t.Fatalf("expected valid 3-file group, got %d paths", len(g.Paths))
	}
	for _, p := range g.Paths {
		if strings.HasPrefix(strings.ToLower(filepath.Base(p)), "masterflat_") {
			t.Errorf("group must not contain masterflat_ file: %s", p)
		}
	}
	// case-insensitive ascending order
	for i := 1; i < len(g.Paths); i++ {
		if strings.ToLower(g.Paths[i-1]) > strings.ToLower(g.Paths[i]) {
			t.Errorf("paths not sorted case-insensitively: %v", g.Paths)
		}
	}
}

func flatName(i int) string {
	return "flat_00" + strconv.Itoa(i) + ".fits"
}

func TestScanSkipsReservedDirectories(t *testing.T) {
	root := t.TempDir()
	reserved := filepath.Join(root, "_processed")
	if err := os.MkdirAll(reserved, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		writeTestFrame(t, filepath.Join(reserved, flatName(i)), 2.0, "Flat")
	}
	cache := meta.NewCache()
	jobs := ScanFlats(context.Background(), []string{root}, cache, 4, "", nil, io.Discard)
	if len(jobs) != 0 {
		t.Fatalf("expected reserved subtree to be skipped, got %d jobs", len(jobs))
	}
}

func TestScanDarksCatalogsDarkAndBiasOnly(t *testing.T) {
	root := t.TempDir()
	writeTestFrame(t, filepath.Join(root, "dark_001.fits"), 1.0, "Dark")
	writeTestFrame(t, filepath.Join(root, "dark_002.fits"), 1.0, "Dark")
	writeTestFrame(t, filepath.Join(root, "dark_003.fits"), 1.0, "Dark")
	writeTestFrame(t, filepath.Join(root, "masterbias.fits"), 0, "Bias")
	writeTestFrame(t, filepath.Join(root, "light_001.fits"), 30, "Light")

	cache := meta.NewCache()
	catalog := ScanDarks(context.Background(), []string{root}, cache, 4, nil, io.Discard)
	if len(catalog) != 4 {
		t.Fatalf("expected 4 cataloged darks/biases, got %d", len(catalog))
	}
	for _, d := range catalog {
		if d.Type == meta.Light {
			t.Errorf("light frame must not be cataloged as dark: %s", d.Path)
		}
	}

	// the same directory must never yield a flat job for the dark-only tree
	flatJobs := ScanFlats(context.Background(), []string{root}, cache, 4, "", nil, io.Discard)
	if len(flatJobs) != 0 {
		t.Fatalf("dark-only directory must not produce flat jobs, got %d", len(flatJobs))
	}
}

func TestScanMasterFlatNeverCatalogedAsDarkOrFlat(t *testing.T) {
	root := t.TempDir()
	writeTestFrame(t, filepath.Join(root, "masterFlat_BIN-1_mono.fits"), 1.5, "Master Flat")

	cache := meta.NewCache()
	flatJobs := ScanFlats(context.Background(), []string{root}, cache, 4, "", nil, io.Discard)
	if len(flatJobs) != 0 {
		t.Fatalf("expected no flat jobs, got %d", len(flatJobs))
	}
	catalog := ScanDarks(context.Background(), []string{root}, cache, 4, nil, io.Discard)
	if len(catalog) != 0 {
		t.Fatalf("expected master flat not cataloged as dark, got %d entries", len(catalog))
	}
}
