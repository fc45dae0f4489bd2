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
	"sort"

	"gonum.org/v1/gonum/stat"
)

// combineColumn reduces one pixel column (n values across the ordered
// frame stack) to a single output value, dispatching on stack size per
// the combine step's three regimes. norm and equal are scratch buffers
// of length n; both are invalidated by this call.
func combineColumn(norm, equal []float64, n int, cfg Config) float64 {
	switch {
	case n < 3:
		return mean(norm)
	case n < 6:
		return percentileClip(norm, equal)
	default:
		return winsorSigmaClip(norm, equal, cfg.LowSigma, cfg.HighSigma)
	}
}

// percentileClip sorts the column by equalized value, drops floor(n*0.20)
// smallest and floor(n*0.10) largest (keeping everything if that would
// leave fewer than one survivor), and averages the surviving original
// normalized values.
func percentileClip(norm, equal []float64) float64 {
	n := len(norm)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return equal[idx[i]] < equal[idx[j]] })

	lowDrop := int(0.20 * float64(n))
	highDrop := int(0.10 * float64(n))
	if n-lowDrop-highDrop < 1 {
		lowDrop, highDrop = 0, 0
	}

	sum, count := 0.0, 0
	for _, i := range idx[lowDrop : n-highDrop] {
		sum += norm[i]
		count++
	}
	return sum / float64(count)
}

// winsorSigmaClip implements the per-column iterative rejection: up to
// maxWinsorIterations rounds of (a) compute mean/sample-sigma over
// included equalized values, (b) winsorize a copy at +-winsorClampSigma
// to get a robust sigma_w, (c) reject included values outside
// [mean-lowSigma*sigma_w, mean+highSigma*sigma_w]. Stops early when sigma
// or sigma_w underflow, or a round rejects nothing. Falls back to the
// median of the original column if every value is eventually rejected
// (should not occur given the minKept floor, but the contract requires a
// defined result).
func winsorSigmaClip(norm, equal []float64, lowSigma, highSigma float64) float64 {
	n := len(norm)
	activeNorm := append([]float64(nil), norm...)
	activeEqual := append([]float64(nil), equal...)
	winsorized := make([]float64, n)

	for iter := 0; iter < maxWinsorIterations && len(activeEqual) > 0; iter++ {
		m, variance := stat.MeanVariance(activeEqual, nil)
		sigma := math.Sqrt(variance)

		winsorized = winsorized[:len(activeEqual)]
		copy(winsorized, activeEqual)
		lowClamp := m - winsorClampSigma*sigma
		highClamp := m + winsorClampSigma*sigma
		for i, w := range winsorized {
			if w < lowClamp {
				winsorized[i] = lowClamp
			} else if w > highClamp {
				winsorized[i] = highClamp
			}
		}
		_, wVariance := stat.MeanVariance(winsorized, nil)
		sigmaW := math.Sqrt(wVariance)

		if sigma < winsorConvergence || sigmaW < winsorConvergence {
			break
		}

		lowBound := m - lowSigma*sigmaW
		highBound := m + highSigma*sigmaW

		toReject := 0
		for _, v := range activeEqual {
			if v < lowBound || v > highBound {
				toReject++
			}
		}
		if toReject == 0 {
			break
		}
		if len(activeEqual)-toReject < minKept {
			break
		}

		for i := 0; i < len(activeEqual); {
			if activeEqual[i] < lowBound || activeEqual[i] > highBound {
				last := len(activeEqual) - 1
				activeEqual[i] = activeEqual[last]
				activeEqual = activeEqual[:last]
				activeNorm[i] = activeNorm[last]
				activeNorm = activeNorm[:last]
				continue
			}
			i++
		}
	}

	if len(activeNorm) == 0 {
		return sortedMedian(norm)
	}
	return mean(activeNorm)
}

func sortedMedian(data []float64) float64 {
	cp := append([]float64(nil), data...)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}
