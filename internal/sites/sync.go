package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// SyncSummary captures aggregate details about a synchronization run.
type SyncSummary struct {
	Units     int
	Enabled   int
	Upserted  int
	Removed   int
	Shadowed  int
	Skipped   int
	Delivered bool
}

// Syncer pushes the state of the unit root to change targets, either once
// or continuously while watching.
type Syncer struct {
	manager    *Manager
	dispatcher Dispatcher
	logger     *slog.Logger

	mu   sync.Mutex
	last []Unit
}

// NewSyncer constructs a Syncer over the manager's unit root.
func NewSyncer(manager *Manager, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{manager: manager, logger: logger}
}

// RegisterTarget adds a consumer for change sets.
func (s *Syncer) RegisterTarget(target ChangeTarget) {
	s.dispatcher.Register(target)
}

// Synchronize scans the unit root, loads every unit body and delivers the
// complete set to all targets. Units seen by a previous run but now gone are
// sent as deletions.
func (s *Syncer) Synchronize(ctx context.Context) (SyncSummary, error) {
	inv, err := s.manager.Inventory(ctx)
	if err != nil {
		return SyncSummary{}, err
	}
	s.logger.Info("Collected units to synchronize", "count", len(inv.Units))

	revisions, err := s.loadRevisions(ctx, inv.Units)
	if err != nil {
		return SyncSummary{}, err
	}

	s.mu.Lock()
	diff := DiffInventories(s.last, inv.Units)
	s.mu.Unlock()

	changes := ChangeSet{Upserts: revisions, Deletions: diff.Removed}
	summary := SyncSummary{
		Units:    len(inv.Units),
		Enabled:  len(inv.Enabled()),
		Upserted: len(revisions),
		Removed:  len(diff.Removed),
		Shadowed: len(inv.Shadowed),
		Skipped:  len(inv.Skipped),
	}

	if err := s.dispatcher.ApplyChanges(ctx, changes); err != nil {
		return summary, fmt.Errorf("dispatch changes: %w", err)
	}
	summary.Delivered = s.dispatcher.Len() > 0

	s.mu.Lock()
	s.last = inv.Units
	s.mu.Unlock()

	s.logger.Info("Synchronization complete", "units", summary.Units, "enabled", summary.Enabled, "removed", summary.Removed, "targets", s.dispatcher.Len())
	return summary, nil
}

// loadRevisions reads unit bodies with a bounded pool of workers. Units that
// vanish between the scan and the read are dropped.
func (s *Syncer) loadRevisions(ctx context.Context, units []Unit) ([]Revision, error) {
	if len(units) == 0 {
		return nil, nil
	}

	workerCount := runtime.NumCPU()
	if workerCount < 1 {
		workerCount = 1
	}

	results := make([]*Revision, len(units))
	sem := make(chan struct{}, workerCount)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	setFirstErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for i, unit := range units {
		if ctxErr := ctx.Err(); ctxErr != nil {
			setFirstErr(ctxErr)
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			rev, err := s.manager.Read(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					s.logger.Debug("Unit disappeared before it could be read", "identifier", id)
					return
				}
				setFirstErr(fmt.Errorf("load unit %s: %w", id, err))
				return
			}
			results[i] = &rev
		}(i, unit.Identifier)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	revisions := make([]Revision, 0, len(results))
	for _, rev := range results {
		if rev != nil {
			revisions = append(revisions, *rev)
		}
	}
	return revisions, nil
}

// applyDiff loads the changed units and delivers the diff.
func (s *Syncer) applyDiff(ctx context.Context, next []Unit) error {
	s.mu.Lock()
	diff := DiffInventories(s.last, next)
	s.mu.Unlock()

	if diff.IsEmpty() {
		return nil
	}

	revisions, err := s.loadRevisions(ctx, diff.Changed)
	if err != nil {
		return err
	}
	if err := s.dispatcher.ApplyChanges(ctx, ChangeSet{Upserts: revisions, Deletions: diff.Removed}); err != nil {
		return fmt.Errorf("dispatch changes: %w", err)
	}

	s.mu.Lock()
	s.last = next
	s.mu.Unlock()

	s.logger.Info("Applied unit changes", "changed", len(diff.Changed), "removed", len(diff.Removed))
	return nil
}
