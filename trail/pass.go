package trail

import (
	"runtime"
	"sync"
)

// minRowsPerBand keeps tiny targets on a single goroutine.
const minRowsPerBand = 32

// runPass runs fn over horizontal bands of [0, rows) in parallel and waits for
// all of them, the software stand-in for a fragment pass draw call.
func runPass(rows int, fn func(y0, y1 int)) {
	if rows <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if maxWorkers := rows / minRowsPerBand; workers > maxWorkers {
		workers = maxWorkers
	}
	if workers <= 1 {
		fn(0, rows)
		return
	}

	band := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += band {
		y1 := y0 + band
		if y1 > rows {
			y1 = rows
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
