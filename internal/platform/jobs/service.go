package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	JobRollupRebuild = "rollup_rebuild"

	historySize = 20
)

// RollupRebuilder recomputes performance rollups for every open cycle.
type RollupRebuilder interface {
	RebuildRollups(ctx context.Context) (int, error)
}

type Run struct {
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

type Service struct {
	rebuilder RollupRebuilder
	interval  time.Duration
	queue     chan job

	mu   sync.Mutex
	runs []Run
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(rebuilder RollupRebuilder, interval time.Duration) *Service {
	return &Service{
		rebuilder: rebuilder,
		interval:  interval,
		queue:     make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.interval > 0 {
		go s.scheduleRebuilds(ctx, s.interval)
	}
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

// RebuildRollups runs the rollup rebuild synchronously.
func (s *Service) RebuildRollups(ctx context.Context) (any, error) {
	return s.RunNow(ctx, JobRollupRebuild, s.rebuild)
}

// History returns the most recent runs, newest last.
func (s *Service) History() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Run(nil), s.runs...)
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	run := Run{Type: j.Type, Status: "running", StartedAt: time.Now().UTC()}
	details, err := j.Run(ctx)
	run.Status = "completed"
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	}
	run.Details = details
	run.CompletedAt = time.Now().UTC()

	s.mu.Lock()
	s.runs = append(s.runs, run)
	if len(s.runs) > historySize {
		s.runs = s.runs[len(s.runs)-historySize:]
	}
	s.mu.Unlock()
	return details, err
}

func (s *Service) rebuild(ctx context.Context) (any, error) {
	count, err := s.rebuilder.RebuildRollups(ctx)
	return map[string]any{"rollups": count}, err
}

func (s *Service) scheduleRebuilds(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Enqueue(JobRollupRebuild, s.rebuild)
		}
	}
}
