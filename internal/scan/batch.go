package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BatchResult is the outcome of one document of a batch, at its original position.
type BatchResult struct {
	Index  int
	Source string
	Result *Result
	Err    error
}

// Status returns "success", "warning" (receipt FAILED) or "error" (pipeline error).
func (b BatchResult) Status() string {
	switch {
	case b.Err != nil || b.Result == nil:
		return "error"
	case b.Result.Failed():
		return "warning"
	default:
		return "success"
	}
}

// ProgressFunc is called once per finished document, serialized.
type ProgressFunc func(done, total int, result BatchResult)

type job struct {
	index int
	req   Request
}

// ScanBatch scans reqs with a pool of workers. Results keep the order of reqs.
func (p *Pipeline) ScanBatch(ctx context.Context, reqs []Request, workers int, progress ProgressFunc) []BatchResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	jobs := make(chan job, len(reqs))
	results := make([]BatchResult, len(reqs))

	var mu sync.Mutex
	done := 0

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				p.log.Debug().
					Int("worker", workerID).
					Str("source", j.req.Source).
					Int("index", j.index+1).
					Msg("Worker scanning document")

				res, err := p.Scan(ctx, j.req)
				br := BatchResult{Index: j.index, Source: j.req.Source, Result: res, Err: err}
				results[j.index] = br

				mu.Lock()
				done++
				if progress != nil {
					progress(done, len(reqs), br)
				}
				mu.Unlock()
			}
		}(w)
	}

	for i, req := range reqs {
		jobs <- job{index: i, req: req}
	}
	close(jobs)
	wg.Wait()

	return results
}

var documentExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".tif": true, ".tiff": true,
	".pdf": true, ".html": true, ".htm": true,
}

// FindDocuments walks folder and returns receipt and invoice files in lexical order.
func FindDocuments(folder string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && documentExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
