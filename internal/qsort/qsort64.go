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

package qsort

// QSortFloat64 sorts a in place by repeated Hoare partitioning, used for
// the exact-median refinement where pixel data is carried at full
// ImageData (float64) precision. Array must not contain IEEE NaN.
func QSortFloat64(a []float64) {
	if len(a) > 1 {
		index := QPartitionFloat64(a)
		QSortFloat64(a[:index+1])
		QSortFloat64(a[index+1:])
	}
}

// QPartitionFloat64 partitions a around its middle-element pivot using
// the Hoare scheme, returning the left partition's end index.
func QPartitionFloat64(a []float64) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// QSelectFloat64 returns the k-th smallest element of a (1-indexed) via
// quickselect, partially reordering a in the process.
func QSelectFloat64(a []float64, k int) float64 {
	left, right := 0, len(a)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}
