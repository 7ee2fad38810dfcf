package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// transferJob is one unit of work for the transfer pool. run carries the
// whole transfer: tracker transitions, the provider call, and baseline
// bookkeeping.
type transferJob struct {
	opID string
	run  func(ctx context.Context) error
}

// transferResult pairs a job with its outcome.
type transferResult struct {
	opID  string
	err   error
	index int
}

// transferPool runs transfer jobs across a bounded set of workers. Results
// come back in submission order. The job payload is a closure, so uploads
// and downloads share one scheduler.
type transferPool struct {
	workers int
	logger  *slog.Logger
}

func newTransferPool(workers int, logger *slog.Logger) *transferPool {
	if workers <= 0 {
		workers = 1
	}
	return &transferPool{workers: workers, logger: logger}
}

// execute submits a batch of jobs and waits for all to complete. If the
// context is cancelled, queued jobs are reported with ctx.Err() without
// running.
func (p *transferPool) execute(ctx context.Context, jobs []transferJob) []transferResult {
	if len(jobs) == 0 {
		return []transferResult{}
	}

	type indexedJob struct {
		job   transferJob
		index int
	}

	jobsChan := make(chan indexedJob, len(jobs))
	resultsChan := make(chan transferResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range jobsChan {
				select {
				case <-ctx.Done():
					resultsChan <- transferResult{opID: ij.job.opID, err: ctx.Err(), index: ij.index}
					continue
				default:
				}

				err := ij.job.run(ctx)
				if err != nil {
					p.logger.Warn("transfer job failed", "operation", ij.job.opID, "error", err)
				}
				resultsChan <- transferResult{opID: ij.job.opID, err: err, index: ij.index}
			}
		}()
	}

	for i, job := range jobs {
		jobsChan <- indexedJob{job: job, index: i}
	}
	close(jobsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]transferResult, 0, len(jobs))
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})
	return results
}
