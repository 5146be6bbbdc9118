package session

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/route-beacon/risotto/internal/collector"
	"github.com/route-beacon/risotto/internal/sink"
)

// Listener accepts BMP TCP connections and spawns one Handler per
// connection, grounded on the accept-loop-plus-per-connection-goroutine
// shape common across the pack's TCP servers (spec.md §4, "one
// listener, one goroutine per connected router").
type Listener struct {
	addr        string
	index       *collector.Index
	sink        sink.Sink
	idleTimeout time.Duration
	logger      *zap.Logger

	listening atomic.Bool
}

// NewListener builds a Listener bound to addr, not yet accepting
// connections until Run is called.
func NewListener(addr string, index *collector.Index, sk sink.Sink, idleTimeout time.Duration, logger *zap.Logger) *Listener {
	return &Listener{
		addr:        addr,
		index:       index,
		sink:        sk,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Listening reports whether the listener is currently bound and
// accepting connections, satisfying httpd.ListenerStatus.
func (l *Listener) Listening() bool {
	return l.listening.Load()
}

// Run binds the listener and accepts connections until ctx is
// canceled, at which point it stops accepting and waits for every
// in-flight session handler to finish draining before returning.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.listening.Store(true)
	defer l.listening.Store(false)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.logger.Info("bmp listener accepting connections", zap.String("addr", l.addr))

	var g errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Error("bmp listener: accept failed", zap.Error(err))
			continue
		}

		g.Go(func() error {
			h, err := NewHandler(conn, l.index, l.sink, l.idleTimeout, l.logger)
			if err != nil {
				l.logger.Error("bmp listener: rejecting connection", zap.Error(err))
				conn.Close()
				return nil
			}
			if err := h.Run(ctx); err != nil {
				l.logger.Warn("bmp session ended", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
