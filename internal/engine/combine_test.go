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
	"math"
	"testing"
)

func TestWinsorSigmaClipInfiniteSigmaReturnsMean(t *testing.T) {
	norm := []float64{1, 2, 3, 4, 5, 100}
	equal := append([]float64(nil), norm...)
	got := winsorSigmaClip(norm, equal, math.Inf(1), math.Inf(1))
	want := mean([]float64{1, 2, 3, 4, 5, 100})
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v want %v", got, want)
	}
}

// A single-pass mean/sample-sigma test can only ever flag one outlier
// among n identical inliers once (n-1)/sqrt(n) exceeds the rejection
// threshold (the Grubbs bound); for sigma=5 that requires n >= 27. A
// six-frame column (as in a minimal literal example) cannot mathematically
// cross a 5-sigma threshold this way, regardless of how extreme the
// outlier is: see DESIGN.md's combine-winsorization entry.
func TestWinsorSigmaClipRejectsSingleOutlier(t *testing.T) {
	n := 30
	norm := make([]float64, n)
	for i := range norm {
		norm[i] = 1
	}
	norm[n-1] = 1000
	equal := append([]float64(nil), norm...)
	got := winsorSigmaClip(norm, equal, 5.0, 5.0)
	want := 1.0 // mean of the 29 non-outlier values
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestPercentileClipDropsExtremes(t *testing.T) {
	// n=5: drop floor(5*0.2)=1 smallest, floor(5*0.1)=0 largest.
	norm := []float64{10, 20, 30, 40, 50}
	equal := append([]float64(nil), norm...)
	got := percentileClip(norm, equal)
	want := (20.0 + 30.0 + 40.0 + 50.0) / 4.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestCombineColumnDispatchesOnStackSize(t *testing.T) {
	two := []float64{1, 3}
	if got := combineColumn(append([]float64(nil), two...), append([]float64(nil), two...), 2, DefaultConfig()); got != 2 {
		t.Errorf("n<3 must use plain mean, got %v", got)
	}
}
