// Package sim implements a local stand-in for the document-processing
// job endpoints. Jobs advance through their family's states on timers,
// which makes it a usable target for the jobwatch CLI and for tests
// without the real OCR and pipeline backends.
package sim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reqhub/jobwatch/internal/ocr"
	"github.com/reqhub/jobwatch/internal/pipeline"
)

// Family tags a simulated job with the endpoint family it belongs to.
type Family string

const (
	FamilyOCR      Family = "ocr"
	FamilyPipeline Family = "pipeline"
)

// Job is one simulated unit of work.
type Job struct {
	ID             string
	Family         Family
	OrganizationID string
	PipelineID     string
	Files          []string
	Status         string
	Result         map[string]any
	Error          map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StoreConfig configures the in-memory job store.
type StoreConfig struct {
	// StageDelay is how long a job spends in each non-terminal state.
	StageDelay time.Duration
	// FailEvery fails every Nth created job; 0 disables failures.
	FailEvery int
	Logger    *slog.Logger
}

// Store holds simulated jobs and uploads and advances job states in the
// background.
type Store struct {
	stageDelay time.Duration
	failEvery  int
	logger     *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	uploads map[string]string
	created int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stageDelay := cfg.StageDelay
	if stageDelay <= 0 {
		stageDelay = 3 * time.Second
	}

	return &Store{
		stageDelay: stageDelay,
		failEvery:  cfg.FailEvery,
		logger:     logger,
		jobs:       make(map[string]*Job),
		uploads:    make(map[string]string),
		done:       make(chan struct{}),
	}
}

// SaveUpload records an uploaded file and returns its reference.
func (s *Store) SaveUpload(filename string) string {
	ref := uuid.New().String()

	s.mu.Lock()
	s.uploads[ref] = filename
	s.mu.Unlock()

	return ref
}

// CreateTask creates one OCR task in STARTING state and schedules its
// advancement.
func (s *Store) CreateTask(filename string) *Job {
	job := s.create(&Job{
		Family: FamilyOCR,
		Files:  []string{filename},
		Status: string(ocr.StatusStarting),
	})

	s.advanceLater(job.ID, string(ocr.StatusProcessing), s.stageDelay)
	if s.shouldFail(job) {
		s.failLater(job.ID, string(ocr.StatusFailed), "simulated OCR failure", 2*s.stageDelay)
	} else {
		s.completeLater(job.ID, string(ocr.StatusSucceeded), map[string]any{
			"file":  filename,
			"pages": 1,
			"text":  "simulated extraction output",
		}, 2*s.stageDelay)
	}

	return job
}

// CreateRun creates one pipeline run in RUNNING state and schedules its
// advancement.
func (s *Store) CreateRun(pipelineID, organizationID string, files []string) *Job {
	job := s.create(&Job{
		Family:         FamilyPipeline,
		OrganizationID: organizationID,
		PipelineID:     pipelineID,
		Files:          files,
		Status:         string(pipeline.StateRunning),
	})

	if s.shouldFail(job) {
		s.failLater(job.ID, string(pipeline.StateFailed), "simulated pipeline failure", s.stageDelay)
	} else {
		s.completeLater(job.ID, string(pipeline.StateDone), map[string]any{
			"pipeline": pipelineID,
			"files":    len(files),
			"summary":  "simulated pipeline output",
		}, s.stageDelay)
	}

	return job
}

// Get returns a copy of the job, so callers never race with the
// advancement timers.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Close cancels pending advancement timers and waits for them.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Store) create(job *Job) *Job {
	job.ID = uuid.New().String()
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt

	s.mu.Lock()
	s.created++
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("Simulated job created",
		slog.String("job_id", job.ID),
		slog.String("family", string(job.Family)),
		slog.String("status", job.Status),
	)

	copied := *job
	return &copied
}

// shouldFail decides the job's fate at creation time.
func (s *Store) shouldFail(job *Job) bool {
	if s.failEvery <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created%s.failEvery == 0
}

func (s *Store) advanceLater(id, status string, after time.Duration) {
	s.transitionLater(id, after, func(job *Job) {
		job.Status = status
	})
}

func (s *Store) completeLater(id, status string, result map[string]any, after time.Duration) {
	s.transitionLater(id, after, func(job *Job) {
		job.Status = status
		job.Result = result
	})
}

func (s *Store) failLater(id, status, message string, after time.Duration) {
	s.transitionLater(id, after, func(job *Job) {
		job.Status = status
		job.Error = map[string]any{"message": message}
	})
}

func (s *Store) transitionLater(id string, after time.Duration, apply func(*Job)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(after)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.done:
			return
		}

		s.mu.Lock()
		job, ok := s.jobs[id]
		var status string
		if ok {
			apply(job)
			job.UpdatedAt = time.Now().UTC()
			status = job.Status
		}
		s.mu.Unlock()

		if ok {
			s.logger.Debug("Simulated job advanced",
				slog.String("job_id", id),
				slog.String("status", status),
			)
		}
	}()
}
