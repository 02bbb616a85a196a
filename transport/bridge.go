package transport

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"ringnet/core"
)

// dialTimeout/dialKeepAlive/maxIdleConnsPerGateway/idleConnTTL size the TCP
// reachability probe DialGateway runs before the libp2p dial (see pool.go).
const (
	dialTimeout            = 5 * time.Second
	dialKeepAlive          = 30 * time.Second
	maxIdleConnsPerGateway = 4
	idleConnTTL            = 60 * time.Second
)

// bridge.go is the libp2p-backed core.ConnectionBridge used at runtime,
// grounded on the teacher's core/network.go (NewNode's host/pubsub/mdns/NAT
// wiring, HandlePeerFound, DialSeed) and core/peer_management.go's
// stream-per-message SendAsync pattern. Where network.go multiplexed
// broadcast gossip over pubsub topics, Bridge instead opens one libp2p
// stream per join-ring message on a dedicated protocol, because the
// join-ring wire protocol is point-to-point request/response, not gossip.
const joinProtocol = protocol.ID("/ringnet/join/1.0.0")

type inboundMessage struct {
	from core.PeerId
	msg  core.Message
}

// Bridge implements core.ConnectionBridge over a libp2p host. It also runs
// gossipsub (for future broadcast needs outside the join-ring protocol)
// and mDNS discovery, matching the ambient shape of the teacher's Node.
type Bridge struct {
	host host.Host
	ps   *pubsub.PubSub
	nat  *NATManager
	self core.PeerId

	cancel context.CancelFunc

	registry *peerRegistry
	recv     chan inboundMessage
	pool     *ConnPool
	log      *logrus.Entry
}

var _ core.ConnectionBridge = (*Bridge)(nil)
var _ mdns.Notifee = (*Bridge)(nil)

// NewBridge starts a libp2p host listening on listenAddr, attempts NAT
// traversal, and registers an mDNS discovery service tagged discoveryTag
// (SPEC_FULL.md §4.3).
func NewBridge(ctx context.Context, listenAddr, discoveryTag string) (*Bridge, error) {
	bctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(bctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: create pubsub: %w", err)
	}

	b := &Bridge{
		host:     h,
		ps:       ps,
		self:     core.PeerId(h.ID().String()),
		cancel:   cancel,
		registry: newPeerRegistry(),
		recv:     make(chan inboundMessage, 256),
		pool:     NewConnPool(NewDialer(dialTimeout, dialKeepAlive), maxIdleConnsPerGateway, idleConnTTL),
		log:      logrus.WithField("component", "transport"),
	}

	if natMgr, err := NewNATManager(); err == nil {
		if port, err := parsePort(listenAddr); err == nil {
			if err := natMgr.Map(port); err != nil {
				b.log.Warnf("NAT mapping failed: %v", err)
			}
		}
		b.nat = natMgr
	} else {
		b.log.Warnf("NAT discovery failed: %v", err)
	}

	h.SetStreamHandler(joinProtocol, b.handleStream)

	if _, err := mdns.NewMdnsService(h, discoveryTag, b); err != nil {
		b.log.Warnf("mdns discovery failed: %v", err)
	}

	return b, nil
}

// Self returns the local peer's identifier.
func (b *Bridge) Self() core.PeerId { return b.self }

// HandlePeerFound implements mdns.Notifee: remember the discovered peer's
// address so a later Send can reach it, without eagerly connecting
// (SPEC_FULL.md §4.3 leaves connection decisions to the join protocol).
func (b *Bridge) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == b.host.ID() {
		return
	}
	b.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.AddressTTL)
	pid := core.PeerId(info.ID.String())
	b.registry.remember(pid, info)
	b.log.WithField("peer", pid).Debug("discovered peer via mdns")
}

// DialGateway connects to a configured gateway multiaddr, per
// SPEC_FULL.md §6's gateways config field. It first probes the gateway's
// TCP reachability through the connection pool: a configured gateway that
// is simply down fails fast with a plain dial error instead of paying for
// a full libp2p handshake attempt first.
func (b *Bridge) DialGateway(ctx context.Context, addr string) (core.PeerId, error) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", fmt.Errorf("transport: invalid gateway address: %w", err)
	}
	if hostPort, err := tcpHostPort(addr); err == nil {
		conn, err := b.pool.Acquire(ctx, hostPort)
		if err != nil {
			return "", fmt.Errorf("transport: gateway unreachable: %w", err)
		}
		b.pool.Release(conn)
	}
	if err := b.host.Connect(ctx, *pi); err != nil {
		return "", fmt.Errorf("transport: dial gateway: %w", err)
	}
	pid := core.PeerId(pi.ID.String())
	b.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	b.registry.remember(pid, *pi)
	return pid, nil
}

// AddConnection is advisory bookkeeping; the libp2p host already owns the
// physical connection lifecycle.
func (b *Bridge) AddConnection(peerID core.PeerId, isOutbound bool) {
	b.registry.markConnected(peerID, isOutbound)
}

// DropConnection closes the libp2p connection to peerID, if any.
func (b *Bridge) DropConnection(peerID core.PeerId) {
	b.registry.forget(peerID)
	if pid, err := peer.Decode(string(peerID)); err == nil {
		_ = b.host.Network().ClosePeer(pid)
	}
}

// Send opens a fresh stream, writes the encoded message, and closes the
// write side (one stream per message, matching the teacher's SendAsync).
func (b *Bridge) Send(ctx context.Context, peerID core.PeerId, msg core.Message) error {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return &core.TransportError{Kind: core.EncodingError, Peer: peerID, Err: err}
	}

	s, err := b.host.NewStream(ctx, pid, joinProtocol)
	if err != nil {
		return &core.TransportError{Kind: core.PeerUnreachable, Peer: peerID, Err: err}
	}
	defer s.Close()

	encoded := core.EncodeMessage(msg)
	if _, err := s.Write(encoded); err != nil {
		return &core.TransportError{Kind: core.PeerUnreachable, Peer: peerID, Err: err}
	}
	return s.CloseWrite()
}

// Recv blocks until a message has been decoded from some inbound stream,
// or ctx is done.
func (b *Bridge) Recv(ctx context.Context) (core.PeerId, core.Message, error) {
	select {
	case m := <-b.recv:
		return m.from, m.msg, nil
	case <-ctx.Done():
		return "", nil, &core.TransportError{Kind: core.Timeout, Peer: b.self, Err: ctx.Err()}
	}
}

// Close tears down the host, NAT mapping, connection pool and background
// context.
func (b *Bridge) Close() error {
	b.cancel()
	b.pool.Close()
	if b.nat != nil {
		_ = b.nat.Unmap()
	}
	return b.host.Close()
}

// tcpHostPort extracts a dialable "host:port" from a libp2p multiaddr
// string carrying an ip4/ip6 and tcp component, in the same manual
// segment-walking style as nat.go's parsePort.
func tcpHostPort(addr string) (string, error) {
	parts := strings.Split(addr, "/")
	var host, port string
	for i := 0; i < len(parts)-1; i++ {
		switch parts[i] {
		case "ip4", "ip6", "dns4", "dns6":
			host = parts[i+1]
		case "tcp":
			port = parts[i+1]
		}
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("no tcp host:port in %s", addr)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid tcp port in %s: %w", addr, err)
	}
	return host + ":" + port, nil
}

func (b *Bridge) handleStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		b.log.WithError(err).Warn("reading inbound stream failed")
		return
	}
	msg, err := core.DecodeMessage(data)
	if err != nil {
		b.log.WithError(err).Warn("decoding inbound message failed")
		return
	}
	from := core.PeerId(s.Conn().RemotePeer().String())
	select {
	case b.recv <- inboundMessage{from: from, msg: msg}:
	default:
		b.log.Warn("inbound queue full, dropping message")
	}
}
