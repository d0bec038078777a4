package indexer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/ccoin/shieldpool/pkg/field"
)

// CommitmentTopic is the single gossip topic indexer replicas use to
// announce newly-ingested commitments to each other. It is a best-effort
// convergence aid: a received announcement goes through the same
// CommitmentIndex.Ingest as webhook and poll data, so only Ingest's index
// checks apply to it; it is not cross-checked against the marker store.
const CommitmentTopic = "shieldpool/commitments"

// GossipConfig configures the libp2p side of replica-to-replica fan-out.
type GossipConfig struct {
	ListenAddrs    []string
	BootstrapPeers []string
	EnableMDNS     bool
}

// DefaultGossipConfig returns sane local-development defaults.
func DefaultGossipConfig() *GossipConfig {
	return &GossipConfig{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/9100"},
		EnableMDNS:  true,
	}
}

// CommitmentAnnouncement is the wire payload gossiped on CommitmentTopic.
type CommitmentAnnouncement struct {
	Commitment      field.Element
	Index           uint64
	EncryptedOutput []byte
}

func encodeAnnouncement(a CommitmentAnnouncement) []byte {
	le := a.Commitment.EncodeLE()
	buf := make([]byte, 0, field.Size+8+4+len(a.EncryptedOutput))
	buf = append(buf, le[:]...)
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], a.Index)
	buf = append(buf, idx[:]...)
	var ln [4]byte
	binary.LittleEndian.PutUint32(ln[:], uint32(len(a.EncryptedOutput)))
	buf = append(buf, ln[:]...)
	buf = append(buf, a.EncryptedOutput...)
	return buf
}

func decodeAnnouncement(b []byte) (CommitmentAnnouncement, error) {
	if len(b) < field.Size+8+4 {
		return CommitmentAnnouncement{}, fmt.Errorf("indexer: gossip payload too short")
	}
	var le [field.Size]byte
	copy(le[:], b[:field.Size])
	commitment, err := field.DecodeLE(le)
	if err != nil {
		return CommitmentAnnouncement{}, err
	}
	off := field.Size
	index := binary.LittleEndian.Uint64(b[off:])
	off += 8
	outLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+outLen {
		return CommitmentAnnouncement{}, fmt.Errorf("indexer: gossip payload truncated")
	}
	output := make([]byte, outLen)
	copy(output, b[off:off+outLen])
	return CommitmentAnnouncement{Commitment: commitment, Index: index, EncryptedOutput: output}, nil
}

// Gossip is one indexer replica's libp2p pubsub participant.
type Gossip struct {
	mu sync.RWMutex

	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGossip starts a libp2p host, joins CommitmentTopic, and (optionally)
// enables local mDNS discovery and dials the configured bootstrap peers.
func NewGossip(ctx context.Context, cfg *GossipConfig) (*Gossip, error) {
	if cfg == nil {
		cfg = DefaultGossipConfig()
	}
	gctx, cancel := context.WithCancel(ctx)

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("indexer: generate gossip identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, len(cfg.ListenAddrs))
	for i, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("indexer: invalid gossip listen address %q: %w", addr, err)
		}
		listenAddrs[i] = ma
	}

	h, err := libp2p.New(libp2p.Identity(priv), libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("indexer: create gossip host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(gctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("indexer: create gossipsub: %w", err)
	}

	topic, err := ps.Join(CommitmentTopic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("indexer: join commitment topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("indexer: subscribe to commitment topic: %w", err)
	}

	g := &Gossip{host: h, pubsub: ps, topic: topic, sub: sub, ctx: gctx, cancel: cancel}

	for _, addr := range cfg.BootstrapPeers {
		if err := g.connect(addr); err != nil {
			logrus.WithError(err).WithField("peer", addr).Warn("indexer: gossip bootstrap peer unreachable")
		}
	}
	if cfg.EnableMDNS {
		if err := mdns.NewMdnsService(h, "shieldpool-indexer", &mdnsNotifee{gossip: g}).Start(); err != nil {
			logrus.WithError(err).Warn("indexer: mDNS discovery failed to start")
		}
	}

	return g, nil
}

func (g *Gossip) connect(addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return err
	}
	return g.host.Connect(g.ctx, *info)
}

type mdnsNotifee struct {
	gossip *Gossip
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.gossip.host.ID() {
		return
	}
	if err := m.gossip.host.Connect(m.gossip.ctx, pi); err != nil {
		logrus.WithError(err).WithField("peer", pi.ID.String()).Debug("indexer: mDNS peer connect failed")
	}
}

// Announce publishes a just-ingested commitment to peer replicas.
func (g *Gossip) Announce(a CommitmentAnnouncement) error {
	return g.topic.Publish(g.ctx, encodeAnnouncement(a))
}

// Listen runs until the context is cancelled, calling onAnnouncement for
// every message received from a peer (messages the local host published
// are skipped). Intended to run in its own goroutine.
func (g *Gossip) Listen(onAnnouncement func(CommitmentAnnouncement)) {
	for {
		msg, err := g.sub.Next(g.ctx)
		if err != nil {
			if g.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == g.host.ID() {
			continue
		}
		ann, err := decodeAnnouncement(msg.Data)
		if err != nil {
			logrus.WithError(err).Warn("indexer: dropping malformed gossip announcement")
			continue
		}
		onAnnouncement(ann)
	}
}

// Close tears down the gossip host and its subscription.
func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	return g.host.Close()
}
