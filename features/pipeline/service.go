package pipeline

import (
	"context"
	"encoding/json"

	"bhoomi/internal/ingest"
	"bhoomi/internal/rag"
)

const DefaultRunsLimit = 20

type Orchestrator interface {
	Status() rag.Status
	StartRebuild(ctx context.Context) error
}

// RebuildRequester queues a rebuild for another process to pick up.
type RebuildRequester interface {
	RequestRebuild(ctx context.Context, reason string) error
}

type Service struct {
	orch      Orchestrator
	requester RebuildRequester
	repo      Repository
}

// NewService wires the pipeline feature. requester and repo may be nil.
func NewService(o Orchestrator, requester RebuildRequester, repo Repository) *Service {
	return &Service{orch: o, requester: requester, repo: repo}
}

func (s *Service) Status() rag.Status {
	return s.orch.Status()
}

// Rebuild queues a rebuild when a broker is configured, else starts one in
// the background. It reports whether the request was queued.
func (s *Service) Rebuild(ctx context.Context, reason string) (bool, error) {
	if s.requester != nil {
		if err := s.requester.RequestRebuild(ctx, reason); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, s.orch.StartRebuild(context.WithoutCancel(ctx))
}

// Runs lists recent ingestion runs, newest first. Without a database it
// returns only the last run kept in memory.
func (s *Service) Runs(ctx context.Context, limit int) ([]Run, error) {
	if s.repo == nil {
		status := s.orch.Status()
		if status.Report != nil {
			run, err := toRun(status.Report, nil)
			if err != nil {
				return nil, err
			}
			run.Error = status.LastError
			return []Run{*run}, nil
		}
		return []Run{}, nil
	}
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	return s.repo.List(ctx, limit)
}

// SaveRun persists a pipeline report.
func (s *Service) SaveRun(ctx context.Context, report *ingest.Report, runErr error) error {
	if s.repo == nil {
		return nil
	}
	run, err := toRun(report, runErr)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, run)
}

func (s *Service) CountFailed(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.CountFailed(ctx)
}

func toRun(r *ingest.Report, runErr error) (*Run, error) {
	skipped, err := json.Marshal(r.Skipped)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:            r.RunID,
		Root:          r.Root,
		Loaded:        r.Loaded,
		Documents:     r.Documents,
		Chunks:        r.Chunks,
		Records:       r.Records,
		FailedBatches: r.FailedBatches,
		Skipped:       skipped,
		DurationMs:    r.DurationMs,
		StartedAt:     r.StartedAt,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run, nil
}
