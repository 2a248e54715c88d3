package sse

import (
	"log/slog"
	"sync"
	"time"
)

// KeepAliveStrategy decides when keep-alive pings are written to an idle stream.
type KeepAliveStrategy interface {
	// Start begins sending pings through writer. The returned channel closes
	// when the strategy stops, including after a failed write.
	Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{}

	// Stop terminates the strategy. Safe to call more than once.
	Stop()
}

// KeepAliveWriter writes one keep-alive message.
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// TickerKeepAlive sends pings at a fixed interval.
type TickerKeepAlive struct {
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewTickerKeepAlive creates a ticker-based keep-alive strategy
func NewTickerKeepAlive(interval time.Duration) *TickerKeepAlive {
	return &TickerKeepAlive{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start implements KeepAliveStrategy.
func (k *TickerKeepAlive) Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	ticker := time.NewTicker(k.interval)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					logger.Warn("keep-alive write failed, stopping", "error", err)
					return
				}
			case <-k.done:
				return
			}
		}
	}()

	return stopped
}

// Stop implements KeepAliveStrategy.
func (k *TickerKeepAlive) Stop() {
	k.once.Do(func() { close(k.done) })
}
