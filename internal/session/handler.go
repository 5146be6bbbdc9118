// Package session drives one BMP TCP connection end to end: framing,
// decoding, collector bookkeeping, and handing normalized records to
// the configured sink (spec.md §4, "one session handler per
// connected router").
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/route-beacon/risotto/internal/bgp"
	"github.com/route-beacon/risotto/internal/bmp"
	"github.com/route-beacon/risotto/internal/collector"
	"github.com/route-beacon/risotto/internal/metrics"
	"github.com/route-beacon/risotto/internal/normalize"
	"github.com/route-beacon/risotto/internal/sink"
)

// readBufferSize is the chunk size read from the connection between
// framing passes. A BMP message can span many reads; Framer buffers
// whatever arrives until a complete message is available.
const readBufferSize = 64 * 1024

// peerCapabilities is the AS4 negotiation outcome learned from a
// peer's PEER UP message, needed to decode AS_PATH/AGGREGATOR in its
// subsequent Route Monitoring messages (RFC 6793).
type peerCapabilities struct {
	as4 bool
}

// Handler owns one router's BMP TCP connection for its lifetime: it
// frames incoming bytes, decodes BMP/BGP messages, maintains the
// per-connection peer capability table, and drives the collector index
// and sink on its behalf.
type Handler struct {
	conn        net.Conn
	router      collector.RouterKey
	index       *collector.Index
	sink        sink.Sink
	idleTimeout time.Duration
	logger      *zap.Logger

	framer *bmp.Framer
	peers  map[collector.PeerKey]peerCapabilities
}

// NewHandler builds a Handler for an accepted connection. The router
// key is derived from the connection's remote address, per spec.md §3
// ("router is identified by its monitoring-connection source
// address").
func NewHandler(conn net.Conn, index *collector.Index, sk sink.Sink, idleTimeout time.Duration, logger *zap.Logger) (*Handler, error) {
	rk, err := routerKeyFromConn(conn)
	if err != nil {
		return nil, err
	}
	return &Handler{
		conn:        conn,
		router:      rk,
		index:       index,
		sink:        sk,
		idleTimeout: idleTimeout,
		logger:      logger.With(zap.String("router", rk.Addr.String()), zap.Uint16("port", rk.Port)),
		framer:      bmp.NewFramer(),
		peers:       make(map[collector.PeerKey]peerCapabilities),
	}, nil
}

func routerKeyFromConn(conn net.Conn) (collector.RouterKey, error) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return collector.RouterKey{}, fmt.Errorf("session: unexpected remote address type %T", conn.RemoteAddr())
	}
	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return collector.RouterKey{}, fmt.Errorf("session: invalid remote address %v", tcpAddr.IP)
	}
	return collector.RouterKey{Addr: addr.Unmap(), Port: uint16(tcpAddr.Port)}, nil
}

// Run reads and processes messages until the connection closes, the
// context is canceled, or a fatal framing/decode error occurs. On any
// of those, every peer still active on this router is drained and a
// synthetic withdraw is emitted for each prefix it had announced
// (spec.md §4.2, "treat all active peers as DOWN").
func (h *Handler) Run(ctx context.Context) error {
	defer h.conn.Close()

	metrics.RouterSessions.Inc()
	defer metrics.RouterSessions.Dec()

	err := h.readLoop(ctx)
	h.drainRouter(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Handler) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if h.idleTimeout > 0 {
			if err := h.conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
				return fmt.Errorf("session: setting read deadline: %w", err)
			}
		}

		n, err := h.conn.Read(buf)
		if n > 0 {
			msgs, ferr := h.framer.Feed(buf[:n])
			for _, raw := range msgs {
				if derr := h.handleMessage(ctx, raw); derr != nil {
					metrics.DecodeErrorsTotal.WithLabelValues("message").Inc()
					return derr
				}
			}
			if ferr != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("framing").Inc()
				return fmt.Errorf("session: framing: %w", ferr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: read: %w", err)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, raw []byte) error {
	msg, err := bmp.Decode(raw)
	if err != nil {
		return fmt.Errorf("session: decoding bmp message: %w", err)
	}
	metrics.BMPMessagesTotal.WithLabelValues(bmpTypeName(msg.Type)).Inc()

	switch msg.Type {
	case bmp.MsgTypePeerUpNotification:
		return h.handlePeerUp(ctx, msg)
	case bmp.MsgTypePeerDownNotification:
		return h.handlePeerDown(ctx, msg)
	case bmp.MsgTypeRouteMonitoring:
		return h.handleRouteMonitoring(ctx, msg)
	case bmp.MsgTypeInitiation, bmp.MsgTypeTermination, bmp.MsgTypeStatisticsReport, bmp.MsgTypeRouteMirroring:
		return nil
	default:
		h.logger.Debug("session: unknown bmp message type", zap.Uint8("type", msg.Type))
		return nil
	}
}

func (h *Handler) peerKey(msg bmp.Message) collector.PeerKey {
	return collector.PeerKey{
		Distinguisher: msg.Peer.PeerDistinguisher,
		Type:          msg.Peer.PeerType,
		Flags:         msg.Peer.Flags,
		Address:       msg.Peer.PeerAddress,
		ASN:           msg.Peer.PeerAS,
		BGPID:         msg.Peer.PeerBGPID,
	}
}

func (h *Handler) handlePeerUp(ctx context.Context, msg bmp.Message) error {
	up, err := bmp.ParsePeerUp(msg.Body)
	if err != nil {
		return fmt.Errorf("session: parsing peer up: %w", err)
	}

	pk := h.peerKey(msg)
	meta := collector.PeerMeta{
		IsPostPolicy: msg.Peer.IsPostPolicy(),
		IsAdjRibOut:  msg.Peer.IsAdjRibOut(),
		IsIPv6:       msg.Peer.IsIPv6,
		PeerUpNanos:  time.Now().UnixNano(),
	}
	h.peers[pk] = peerCapabilities{as4: up.AS4()}

	drained := h.index.NoteUp(h.router, pk, meta)
	metrics.PeerUp.WithLabelValues(h.router.Addr.String()).Inc()
	return h.emitSyntheticWithdraws(ctx, pk, drained)
}

func (h *Handler) handlePeerDown(ctx context.Context, msg bmp.Message) error {
	if _, err := bmp.ParsePeerDown(msg.Body); err != nil {
		return fmt.Errorf("session: parsing peer down: %w", err)
	}

	pk := h.peerKey(msg)
	delete(h.peers, pk)

	drained := h.index.NoteDown(h.router, pk)
	metrics.PeerUp.WithLabelValues(h.router.Addr.String()).Dec()
	return h.emitSyntheticWithdraws(ctx, pk, drained)
}

func (h *Handler) handleRouteMonitoring(ctx context.Context, msg bmp.Message) error {
	pk := h.peerKey(msg)
	caps, ok := h.peers[pk]
	if !ok {
		// Route Monitoring for a peer that hasn't sent PEER UP on this
		// connection: drop and count rather than decode with a
		// fabricated (as4=false) capability set, per spec.md §4.2/§7
		// ("before the first PEER UP for a PeerKey, ROUTE MONITORING
		// for that peer is dropped (counted)"). This must hold even
		// when state management is disabled: only the enabled index
		// happens to drop such an update (ObserveAnnounce returns false
		// for an unknown peer), while the disabled index reports "emit"
		// for every prefix.
		metrics.DecodeErrorsTotal.WithLabelValues("update_before_up").Inc()
		h.logger.Debug("session: route monitoring before peer up, dropping", zap.Uint32("peer_asn", msg.Peer.PeerAS))
		return nil
	}

	msgType, err := bgp.MessageType(msg.Body)
	if err != nil {
		return fmt.Errorf("session: bgp message type: %w", err)
	}
	if msgType != bgp.MsgTypeUpdate {
		return nil
	}

	body, err := bgp.Body(msg.Body)
	if err != nil {
		return fmt.Errorf("session: bgp body: %w", err)
	}

	events, err := bgp.ParseUpdate(body, caps.as4)
	if err != nil {
		return fmt.Errorf("session: parsing bgp update: %w", err)
	}

	recvNs := time.Now().UnixNano()
	for _, ev := range events {
		if ev.SAFIDropped {
			afi, safi := ev.Attributes.MPUnreachAFI, ev.Attributes.MPUnreachSAFI
			if ev.Announced {
				afi, safi = ev.Attributes.MPReachAFI, ev.Attributes.MPReachSAFI
			}
			metrics.DecodeErrorsTotal.WithLabelValues("mp_safi_unsupported").Inc()
			h.logger.Debug("session: unsupported MP-BGP SAFI, dropping NLRI",
				zap.Uint16("afi", afi), zap.Uint8("safi", safi), zap.Bool("announced", ev.Announced))
			continue
		}

		var emit bool
		var kind string
		if ev.Announced {
			emit = h.index.ObserveAnnounce(h.router, pk, ev.Prefix)
			kind = "announce"
		} else {
			emit = h.index.ObserveWithdraw(h.router, pk, ev.Prefix)
			kind = "withdraw"
		}
		if !emit {
			continue
		}

		update := normalize.FromRouteEvent(h.router, pk, recvNs, msg.Peer.TimestampNanos(), ev, false)
		if err := h.produce(ctx, kind, update); err != nil {
			// The sink did not take this record: undo its index change.
			if ev.Announced {
				h.index.ObserveWithdraw(h.router, pk, ev.Prefix)
			} else {
				h.index.ObserveAnnounce(h.router, pk, ev.Prefix)
			}
			return err
		}
	}
	return nil
}

// emitSyntheticWithdraws produces one synthetic withdraw per drained
// prefix. A fatal sink error aborts the connection, per spec.md §7:
// leaving later prefixes unproduced is acceptable (the connection is
// about to be torn down and every active peer on it drained again by
// Handler.Run's close path), but silently dropping one while the
// connection stays open is not.
func (h *Handler) emitSyntheticWithdraws(ctx context.Context, pk collector.PeerKey, prefixes []bgp.Prefix) error {
	recvNs := time.Now().UnixNano()
	for _, prefix := range prefixes {
		update := normalize.SyntheticWithdraw(h.router, pk, prefix, recvNs)
		if err := h.produce(ctx, "synthetic", update); err != nil {
			return err
		}
	}
	return nil
}

// drainRouter emits one synthetic withdraw per prefix the router's
// peers still held announced, on disconnect or fatal codec error
// (spec.md §4.2, §7's "treat all active peers as DOWN"). It produces
// against a background context rather than the (possibly already
// canceled) connection context: this is the session's last chance to
// flush withdraws that the shared index has already committed to, and
// a canceled ctx must not turn that into a silent drop.
func (h *Handler) drainRouter(_ context.Context) {
	drained, peerCount := h.index.DrainRouter(h.router)
	if peerCount > 0 {
		// Per drained peer, not Set(0): a concurrent reconnecting
		// session for the same router address may already have
		// incremented this gauge by the time this goroutine's drain
		// runs, and Set(0) would stomp that value instead of only
		// retiring the peers this handler owned.
		metrics.PeerUp.WithLabelValues(h.router.Addr.String()).Sub(float64(peerCount))
	}
	if len(drained) == 0 {
		return
	}
	recvNs := time.Now().UnixNano()
	for _, pp := range drained {
		update := normalize.SyntheticWithdraw(h.router, pp.Peer, pp.Prefix, recvNs)
		if err := h.produce(context.Background(), "synthetic", update); err != nil {
			h.logger.Error("session: producing drain withdraw", zap.Error(err))
		}
	}
}

// produce hands one normalized record to the sink, retrying transient
// errors with bounded exponential backoff while the read loop (and, by
// extension, the router's TCP connection) blocks — spec.md §5, §7, §9:
// "the design chooses block-on-sink rather than dropping updates; this
// is load-bearing for correctness of dedup." A FatalError aborts the
// retry immediately and is returned to the caller, which tears the
// connection down without mutating the index for the failed record.
func (h *Handler) produce(ctx context.Context, kind string, update normalize.Update) error {
	key, value := update.Key(), normalize.Encode(update)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the sink accepts it or ctx is canceled

	op := func() error {
		err := h.sink.Produce(ctx, key, value)
		if err == nil {
			return nil
		}
		if sink.IsFatal(err) {
			metrics.SinkProduceErrorsTotal.WithLabelValues("fatal").Inc()
			return backoff.Permanent(err)
		}
		metrics.SinkProduceErrorsTotal.WithLabelValues("transient").Inc()
		h.logger.Warn("session: transient sink error, retrying", zap.Error(err))
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if ctx.Err() != nil && !sink.IsFatal(err) {
			return fmt.Errorf("session: sink produce canceled: %w", ctx.Err())
		}
		return fmt.Errorf("session: fatal sink error: %w", err)
	}
	metrics.BGPUpdatesTotal.WithLabelValues(kind).Inc()
	return nil
}

func bmpTypeName(t uint8) string {
	switch t {
	case bmp.MsgTypeRouteMonitoring:
		return "route_monitoring"
	case bmp.MsgTypeStatisticsReport:
		return "statistics_report"
	case bmp.MsgTypePeerDownNotification:
		return "peer_down"
	case bmp.MsgTypePeerUpNotification:
		return "peer_up"
	case bmp.MsgTypeInitiation:
		return "initiation"
	case bmp.MsgTypeTermination:
		return "termination"
	case bmp.MsgTypeRouteMirroring:
		return "route_mirroring"
	default:
		return "unknown"
	}
}
