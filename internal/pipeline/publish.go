package pipeline

import (
	"context"

	"github.com/yanun0323/logs"

	"marketcore/internal/model"
	"marketcore/internal/ring"
)

// publish moves fused snapshots and results to the output streams and sinks.
// Slow consumers lose items instead of stalling the monitor.
func (s *Service) publish(ctx context.Context) error {
	idle := ring.Idle{Spins: 8}
	for {
		worked := false
		if snap, ok := s.snapshots.TryPop(); ok {
			s.deliverSnapshot(ctx, snap)
			worked = true
		}
		if results, ok := s.results.TryPop(); ok {
			s.deliverResults(ctx, results)
			worked = true
		}

		if worked {
			idle.Reset()
			continue
		}
		if !idle.Wait(ctx) {
			return nil
		}
	}
}

func (s *Service) deliverSnapshot(ctx context.Context, snap model.NormalizedSnapshot) {
	select {
	case s.snapshotOut <- snap:
	default:
		s.health.StagingDropped(classSnapshotStream, 1)
	}
	for _, sink := range s.snapshotSinks {
		if err := sink.PublishSnapshot(ctx, snap); err != nil {
			logs.Warnf("publish snapshot %s, err: %+v", snap.Symbol, err)
		}
	}
}

func (s *Service) deliverResults(ctx context.Context, results []model.ConsistencyResult) {
	for _, r := range results {
		select {
		case s.resultOut <- r:
		default:
			s.health.StagingDropped(classResultStream, 1)
		}
	}
	for _, sink := range s.resultSinks {
		if err := sink.SaveResults(ctx, results); err != nil {
			logs.Warnf("save %d consistency results, err: %+v", len(results), err)
		}
	}
}
