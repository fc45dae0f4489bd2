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

package meta

import (
	"context"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/mlnoga/flatcal/internal/xerrs"
)

type cacheKey struct {
	path  string
	size  int64
	mtime int64
}

// Cache memoizes Metadata by (path, size, mtime-ticks), the process-wide
// state explicitly owned by the caller: created at run start, consulted
// and populated during scans, dropped at run end. No size limit is
// enforced; callers processing bounded directory trees do not need one.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Metadata
}

// NewCache returns an empty metadata cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Metadata)}
}

// Read returns a cached Metadata for path if its (size, mtime) are
// unchanged, otherwise reads and caches a fresh one. A stat failure
// yields a fallback record built from the filename, matching the
// codec's single-bad-file-does-not-abort-a-batch contract.
func (c *Cache) Read(path string, logWriter io.Writer) (*Metadata, error) {
	info, statErr := os.Stat(path)
	var key cacheKey
	if statErr == nil {
		key = cacheKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
		c.mu.Lock()
		if m, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return m, nil
		}
		c.mu.Unlock()
	}

	m, err := Read(path, logWriter)
	if statErr != nil {
		return m, xerrs.New(xerrs.NotFound, path, statErr)
	}
	c.mu.Lock()
	c.entries[key] = m
	c.mu.Unlock()
	return m, err
}

// DefaultParallelism is the default read_batch degree: cores * 4.
func DefaultParallelism() int {
	return runtime.GOMAXPROCS(0) * 4
}

// ReadBatch executes bounded-parallel cached reads over paths, degree
// parallelism (DefaultParallelism() if <= 0). Individual failures are
// logged and contribute their fallback record; the batch itself never
// aborts on a single bad file. Order of the returned slice matches
// paths. Grounded on OpParallel's semaphore-gated fan-out
// (internal/ops/operator.go), adapted to return per-item results instead
// of folding into a single output.
func (c *Cache) ReadBatch(ctx context.Context, paths []string, parallelism int, logWriter io.Writer) []*Metadata {
	if parallelism <= 0 {
		parallelism = DefaultParallelism()
	}
	results := make([]*Metadata, len(paths))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, p := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			m, err := c.Read(p, logWriter)
			if err != nil {
				io.WriteString(logWriter, "warning: metadata read failed for "+p+": "+err.Error()+"\n")
			}
			results[i] = m
		}(i, p)
	}
	wg.Wait()
	for i, r := range results {
		if r == nil {
			results[i] = &Metadata{Path: paths[i], Type: Unknown}
		}
	}
	return results
}
