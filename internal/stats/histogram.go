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

// Package stats provides the exact-median estimator used by the
// integration engine to keep peak memory bounded on multi-megapixel
// pixel columns. Grounded on the bucket-then-refine shape of the
// teacher's histogram binning, generalized from an approximate
// fixed-bin-center estimate to an exact median: the bin containing the
// median is resolved by sorting only that bin's members.
package stats

import (
	"github.com/mlnoga/flatcal/internal/qsort"
)

const medianBins = 1 << 20 // 2^20 buckets, per the three-pass refinement contract

// ExactMedian returns the exact median of data via a three-pass
// histogram refinement: pass 1 finds min/max, pass 2 buckets values into
// medianBins bins and locates the bin(s) containing the median rank(s),
// pass 3 sorts only the bin(s) needed to resolve the median exactly. No
// sampling approximation is involved; the result equals the median of a
// fully sorted copy of data.
//
// data must be non-empty.
func ExactMedian(data []float64) float64 {
	n := len(data)
	if n == 1 {
		return data[0]
	}

	min, max := data[0], data[0]
	for _, d := range data {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	if max == min {
		return min
	}

	counts := make([]int, medianBins)
	scale := float64(medianBins-1) / (max - min)
	binOf := func(v float64) int {
		idx := int((v - min) * scale)
		if idx < 0 {
			idx = 0
		}
		if idx >= medianBins {
			idx = medianBins - 1
		}
		return idx
	}
	for _, d := range data {
		counts[binOf(d)]++
	}

	// rank(s) of the median element(s), 0-based, in sorted order
	lowRank := (n - 1) / 2
	highRank := n / 2 // equals lowRank when n is odd

	lowBin, cum := -1, 0
	for i, c := range counts {
		if cum+c > lowRank && lowBin < 0 {
			lowBin = i
		}
		if cum+c > highRank {
			return resolveMedian(data, min, max, scale, lowBin, i, lowRank, highRank)
		}
		cum += c
	}
	// highRank falls in the last bin if the loop above never returned
	return resolveMedian(data, min, max, scale, lowBin, medianBins-1, lowRank, highRank)
}

// resolveMedian sorts only the bin(s) spanning [lowBin, highBin] and
// returns the median value from that sorted slice. For an even-length
// input whose two middle ranks land in different bins, the low element
// is the max of all preceding bins, found here by sorting lowBin too.
func resolveMedian(data []float64, min, max, scale float64, lowBin, highBin, lowRank, highRank int) float64 {
	binOf := func(v float64) int {
		idx := int((v - min) * scale)
		if idx < 0 {
			idx = 0
		}
		if idx >= medianBins {
			idx = medianBins - 1
		}
		return idx
	}

	if lowBin == highBin {
		members := gatherBin(data, binOf, lowBin)
		qsort.QSortFloat64(members)
		// recompute this bin's starting rank by recounting bins before it
		before := countBefore(data, binOf, lowBin)
		lo := members[lowRank-before]
		hi := members[highRank-before]
		return (lo + hi) / 2
	}

	// low and high ranks fall in different bins: resolve each separately.
	lowMembers := gatherBin(data, binOf, lowBin)
	qsort.QSortFloat64(lowMembers)
	beforeLow := countBefore(data, binOf, lowBin)
	lo := lowMembers[lowRank-beforeLow]

	if lowRank == highRank {
		return lo
	}

	highMembers := gatherBin(data, binOf, highBin)
	qsort.QSortFloat64(highMembers)
	beforeHigh := countBefore(data, binOf, highBin)
	hi := highMembers[highRank-beforeHigh]
	return (lo + hi) / 2
}

func gatherBin(data []float64, binOf func(float64) int, bin int) []float64 {
	out := make([]float64, 0)
	for _, d := range data {
		if binOf(d) == bin {
			out = append(out, d)
		}
	}
	return out
}

func countBefore(data []float64, binOf func(float64) int, bin int) int {
	n := 0
	for _, d := range data {
		if binOf(d) < bin {
			n++
		}
	}
	return n
}

// Histogram buckets data into len(bins) equal-width buckets between min
// and max. It is separate from the median path and has no caller in this
// module.
func Histogram(data []float64, min, max float64, bins []int) {
	for i := range bins {
		bins[i] = 0
	}
	if max <= min {
		return
	}
	scale := float64(len(bins)-1) / (max - min)
	for _, d := range data {
		idx := int((d - min) * scale)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(bins) {
			idx = len(bins) - 1
		}
		bins[idx]++
	}
}
