package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// CallStateReader reads the telephony hook state recorded by `netgate call`.
type CallStateReader interface {
	CallState() (domain.TelephonyState, int64, error)
}

// StoreTelephonySource implements domain.TelephonySource by polling the
// recorded call state. Every revision change is delivered once, in order.
type StoreTelephonySource struct {
	reader   CallStateReader
	interval time.Duration
	logger   *zap.Logger
}

// NewStoreTelephonySource creates a polling telephony source.
func NewStoreTelephonySource(reader CallStateReader, interval time.Duration, logger *zap.Logger) *StoreTelephonySource {
	return &StoreTelephonySource{
		reader:   reader,
		interval: interval,
		logger:   logger,
	}
}

// Subscribe starts polling and calls fn on each new state. The state present
// at subscription time is delivered first so a call already in progress is
// not missed.
func (s *StoreTelephonySource) Subscribe(ctx context.Context, fn func(domain.TelephonyState)) (func(), error) {
	state, rev, err := s.reader.CallState()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(state)
		s.poll(ctx, rev, fn)
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (s *StoreTelephonySource) poll(ctx context.Context, last int64, fn func(domain.TelephonyState)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, rev, err := s.reader.CallState()
		if err != nil {
			s.logger.Debug("failed to read call state", zap.Error(err))
			continue
		}
		if rev == last {
			continue
		}
		last = rev
		s.logger.Debug("telephony state recorded",
			zap.Stringer("state", state),
			zap.Int64("revision", rev))
		fn(state)
	}
}

var _ domain.TelephonySource = (*StoreTelephonySource)(nil)
