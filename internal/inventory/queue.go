package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/pantry-tracker/internal/scanning"
)

// JobStatus is where a quick-scan job is in its lifecycle
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSuccess    JobStatus = "success"
	JobError      JobStatus = "error"
)

// ErrQueueFull is returned when too many jobs are waiting
var ErrQueueFull = errors.New("scan queue is full")

// ScanJob is one captured image waiting for, or done with, analysis
type ScanJob struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       JobStatus `json:"status"`
	ProductName  string    `json:"productName,omitempty"`
	ExpiryDate   string    `json:"expiryDate,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ScanQueue analyzes captured images one at a time in the background, so a
// user can keep capturing while earlier shots are processed.
type ScanQueue struct {
	scanner     scanning.Scanner
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	jobs    []*ScanJob
	images  map[string]scanning.Image
	pending chan string

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewScanQueue creates a queue holding at most capacity waiting jobs
func NewScanQueue(scanner scanning.Scanner, capacity int) *ScanQueue {
	return NewScanQueueWithDeps(scanner, capacity, &uuidGenerator{}, &defaultTimeSource{})
}

// NewScanQueueWithDeps creates a queue with custom dependencies for testing
func NewScanQueueWithDeps(scanner scanning.Scanner, capacity int, idGen IDGenerator, timeSrc TimeSource) *ScanQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &ScanQueue{
		scanner:     scanner,
		idGenerator: idGen,
		timeSource:  timeSrc,
		images:      make(map[string]scanning.Image),
		pending:     make(chan string, capacity),
	}
}

// Start runs the worker until ctx is done or Stop is called
func (q *ScanQueue) Start(ctx context.Context) {
	ctx, q.stop = context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-q.pending:
				q.process(ctx, id)
			}
		}
	}()
}

// Stop ends the worker after the current job
func (q *ScanQueue) Stop() {
	if q.stop != nil {
		q.stop()
	}
	q.wg.Wait()
}

// Enqueue adds a job for img and returns it in the queued state
func (q *ScanQueue) Enqueue(name string, img scanning.Image) (ScanJob, error) {
	job := &ScanJob{
		ID:        q.idGenerator.Generate(),
		Name:      name,
		Status:    JobQueued,
		CreatedAt: q.timeSource.Now(),
	}
	if job.Name == "" {
		job.Name = fmt.Sprintf("Scan %s", job.CreatedAt.Format("15:04:05"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.pending <- job.ID:
	default:
		return ScanJob{}, ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	q.images[job.ID] = img
	return *job, nil
}

func (q *ScanQueue) process(ctx context.Context, id string) {
	q.mu.Lock()
	job := q.find(id)
	img, ok := q.images[id]
	if job == nil || !ok {
		// removed while waiting
		q.mu.Unlock()
		return
	}
	job.Status = JobProcessing
	q.mu.Unlock()

	data, err := q.scanner.ScanProduct(ctx, []scanning.Image{img}, scanning.QuickScanPrompt)

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.images, id)
	if job = q.find(id); job == nil {
		return
	}
	if err != nil {
		slog.Error("Quick scan failed", "job_id", id, "name", job.Name, "error", err)
		job.Status = JobError
		job.ErrorMessage = err.Error()
		return
	}
	job.Status = JobSuccess
	job.ProductName = data.ProductName
	job.ExpiryDate = data.ExpiryDate
	slog.Info("Quick scan finished", "job_id", id, "product", data.ProductName, "expiry", data.ExpiryDate)
}

func (q *ScanQueue) find(id string) *ScanJob {
	for _, job := range q.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// Jobs returns a snapshot of all jobs in submission order
func (q *ScanQueue) Jobs() []ScanJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]ScanJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Job returns one job
func (q *ScanQueue) Job(id string) (ScanJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.find(id)
	if job == nil {
		return ScanJob{}, fmt.Errorf("%w: scan job %s", ErrNotFound, id)
	}
	return *job, nil
}

// Remove forgets a job. A queued job is skipped by the worker.
func (q *ScanQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	delete(q.images, id)
}
