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
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// bytesPerPixelPlane is the per-frame in-memory footprint: one float64
// sample per pixel, matching ImageData.Pixels.
const bytesPerPixelPlane = 8

// SuggestGroupParallelism estimates how many exposure groups of the given
// pixel count can be integrated concurrently within a memory budget,
// adapted from internal/batch.go:PrepareBatches's available-frames
// calculation (frames-per-stMemory-MiB) to this engine's per-group
// footprint instead of per-frame: a group in flight holds its whole
// calibrated stack (groupSize images) plus the dark plus the result
// buffer at once.
//
// memoryBudgetMiB <= 0 uses all physical memory reported by the OS.
func SuggestGroupParallelism(numPixels, groupSize int, memoryBudgetMiB int64) int {
	if numPixels <= 0 || groupSize <= 0 {
		return 1
	}
	budget := memoryBudgetMiB
	if budget <= 0 {
		budget = int64(memory.TotalMemory() / 1024 / 1024)
	}
	bytesPerGroup := int64(numPixels) * bytesPerPixelPlane * int64(groupSize+2) // stack + dark + result
	if bytesPerGroup <= 0 {
		return 1
	}
	availableGroups := (budget * 1024 * 1024) / bytesPerGroup
	if availableGroups < 1 {
		availableGroups = 1
	}

	cpuParallelism := int64(runtime.GOMAXPROCS(0))
	if cpuid.CPU.Cache.L3 > 0 && cpuid.CPU.Cache.L3 < 4*1024*1024 {
		// small-L3 parts see diminishing returns from oversubscribing the
		// per-group working set; keep one group per physical core cluster.
		cpuParallelism = int64(cpuid.CPU.PhysicalCores)
		if cpuParallelism < 1 {
			cpuParallelism = 1
		}
	}

	if availableGroups < cpuParallelism {
		return int(availableGroups)
	}
	return int(cpuParallelism)
}
