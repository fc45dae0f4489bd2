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

package stats

import (
	"sort"
	"testing"

	"github.com/valyala/fastrand"
)

func sortedMedian(data []float64) float64 {
	cp := append([]float64(nil), data...)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}

func TestExactMedianRandom(t *testing.T) {
	rng := fastrand.RNG{}
	for trial := 0; trial < 200; trial++ {
		n := 1 + int(rng.Uint32n(500))
		data := make([]float64, n)
		for i := range data {
			data[i] = float64(rng.Uint32n(1000)) - 500
		}
		got := ExactMedian(data)
		want := sortedMedian(data)
		if got != want {
			t.Fatalf("trial %d: n=%d got %v want %v", trial, n, got, want)
		}
	}
}

func TestExactMedianAdversarial(t *testing.T) {
	cases := [][]float64{
		{1},
		{1, 2},
		{2, 1},
		{5, 5, 5, 5},
		{1, 1, 1, 1, 1, 1, 1, 1, 1, 2},
		{-1e9, 0, 1e9},
		{0, 0, 0, 1},
	}
	for _, c := range cases {
		got := ExactMedian(c)
		want := sortedMedian(c)
		if got != want {
			t.Errorf("case %v: got %v want %v", c, got, want)
		}
	}
}

func TestExactMedianAllEqual(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = 42
	}
	if got := ExactMedian(data); got != 42 {
		t.Fatalf("got %v want 42", got)
	}
}
