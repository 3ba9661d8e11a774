package pipeline

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"marketcore/internal/affinity"
	"marketcore/internal/model"
	"marketcore/internal/ring"
)

// drainBatch bounds how many items of one class are handled before the other class gets a turn.
const drainBatch = 256

func (s *Service) process(ctx context.Context) error {
	if len(s.opt.ProcessCPUs) != 0 {
		release := affinity.PinOrWarn("processor", s.opt.ProcessCPUs)
		defer release()
	}

	idle := ring.Idle{}
	for {
		worked := false
		for range drainBatch {
			ev, ok := s.updates.TryPop()
			if !ok {
				break
			}
			s.apply(ev)
			worked = true
		}
		for range drainBatch {
			tr, ok := s.trades.TryPop()
			if !ok {
				break
			}
			s.forwardTrade(tr)
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

func (s *Service) apply(ev *model.Event) {
	start := time.Now()
	ref := s.reference(ev.Symbol)
	bidMask := s.bids.Levels(ev.Bids.Prices, ev.Bids.Quantities, ref)
	askMask := s.asks.Levels(ev.Asks.Prices, ev.Asks.Quantities, ref)

	res := s.engine.Apply(ev, bidMask, askMask)
	s.health.ObserveProcess(time.Since(start))

	if res.Gap {
		logs.Warnf("%s %s sequence gap before %d", ev.Exchange, ev.Symbol, ev.Sequence)
	}
	if res.Crossed {
		logs.Debugf("%s %s book crossed after sequence %d", ev.Exchange, ev.Symbol, ev.Sequence)
	}
}

func (s *Service) forwardTrade(tr model.Trade) {
	select {
	case s.tradeOut <- tr:
	default:
		s.health.StagingDropped(classTradeStream, 1)
	}
}
