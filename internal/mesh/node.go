package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	DefaultMdnsTag = "syncbeats-mdns"
	connectTimeout = 10 * time.Second
)

type NodeConfig struct {
	ListenPort int
	Bootstrap  []string
	MdnsTag    string
	// LogLevel applies to the libp2p subsystems.
	LogLevel string
	Logger   *slog.Logger
}

// Node is a Transport over a libp2p host with gossipsub. Peers on the local
// network are found through mDNS; others through bootstrap addresses.
type Node struct {
	host   host.Host
	ps     *pubsub.PubSub
	mdns   mdns.Service
	logger *slog.Logger

	disconnected chan string
	closeOnce    sync.Once
}

type mdnsNotifee struct {
	h      host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := n.h.Connect(ctx, pi); err != nil {
		n.logger.Debug("failed to connect to discovered peer", "peer", pi.ID.String(), "error", err)
		return
	}
	n.logger.Info("connected to discovered peer", "peer", pi.ID.String())
}

func quietLibp2p(level string) {
	if level == "" {
		level = "error"
	}
	for _, subsystem := range []string{"swarm2", "pubsub", "mdns", "basichost", "net/identify"} {
		_ = logging.SetLogLevel(subsystem, level)
	}
}

func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MdnsTag == "" {
		cfg.MdnsTag = DefaultMdnsTag
	}
	quietLibp2p(cfg.LogLevel)

	bootstrap, err := ParseBootstrap(cfg.Bootstrap)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to start gossipsub: %w", err)
	}

	n := &Node{
		host:         h,
		ps:           ps,
		logger:       cfg.Logger,
		disconnected: make(chan string, 64),
	}

	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(net network.Network, conn network.Conn) {
			remote := conn.RemotePeer()
			if net.Connectedness(remote) == network.Connected {
				return
			}
			select {
			case n.disconnected <- remote.String():
			default:
				n.logger.Warn("dropped peer disconnect notification", "peer", remote.String())
			}
		},
	})

	n.mdns = mdns.NewMdnsService(h, cfg.MdnsTag, &mdnsNotifee{h: h, logger: cfg.Logger})
	if err := n.mdns.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to start mdns: %w", err)
	}

	for _, pi := range bootstrap {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := h.Connect(connectCtx, pi)
		cancel()
		if err != nil {
			n.logger.Warn("failed to connect to bootstrap peer", "peer", pi.ID.String(), "error", err)
			continue
		}
		n.logger.Info("connected to bootstrap peer", "peer", pi.ID.String())
	}

	return n, nil
}

// ParseBootstrap parses peer multiaddrs of the form
// /ip4/1.2.3.4/tcp/4001/p2p/<peer id>.
func ParseBootstrap(addrs []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bootstrap address %q: %w", s, err)
		}
		pi, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bootstrap peer %q: %w", s, err)
		}
		infos = append(infos, *pi)
	}

	return infos, nil
}

func (n *Node) ID() string {
	return n.host.ID().String()
}

// Addrs returns the dialable addresses of the node, suitable for the
// bootstrap list of another peer.
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(maddrs))
	for _, a := range maddrs {
		addrs = append(addrs, a.String())
	}

	return addrs
}

func (n *Node) Disconnected() <-chan string {
	return n.disconnected
}

func (n *Node) Join(name string) (Topic, error) {
	t, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", name, err)
	}

	sub, err := t.Subscribe()
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", name, err)
	}

	return &nodeTopic{topic: t, sub: sub, self: n.host.ID()}, nil
}

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = errors.Join(n.mdns.Close(), n.host.Close())
	})

	return err
}

type nodeTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	self  peer.ID
}

func (t *nodeTopic) Publish(ctx context.Context, data []byte) error {
	return t.topic.Publish(ctx, data)
}

func (t *nodeTopic) Next(ctx context.Context) (Message, error) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return Message{}, ErrTransportClosed
			}
			return Message{}, err
		}
		if msg.GetFrom() == t.self {
			continue
		}

		return Message{From: msg.GetFrom().String(), Data: msg.Data}, nil
	}
}

func (t *nodeTopic) Close() error {
	t.sub.Cancel()
	// Close fails while the cancellation is in flight; the host releases
	// the topic on shutdown then.
	_ = t.topic.Close()
	return nil
}
