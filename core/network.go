package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	rendezvous "github.com/libp2p/go-libp2p-rendezvous"
	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	routediscovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"
)

// Protocol identifiers, versioned per §6.
const (
	ProtoStream = protocol.ID("/calimero/stream/1.0.0")
	ProtoBlob   = protocol.ID("/calimero/blob/1.0.0")
)

// DefaultPort is the default TCP/QUIC port reserved for Calimero nodes (§6).
const DefaultPort = 4001

// NetworkEventKind discriminates the flat NetworkEvent shape emitted on the
// dispatcher (§4.6).
type NetworkEventKind int

const (
	EvtSubscribed NetworkEventKind = iota
	EvtUnsubscribed
	EvtMessage
	EvtStreamOpened
	EvtBlobRequested
	EvtReachabilityChanged
)

// NetworkEvent is the outward event shape of the Network Core: a flat
// struct with a Kind discriminator instead of an interface hierarchy, so
// NetworkEventDispatcher stays a single method (§4.6, §9).
type NetworkEvent struct {
	Kind         NetworkEventKind
	Topic        string
	From         PeerId
	Id           string
	Bytes        []byte
	Peer         PeerId
	Protocol     protocol.ID
	Reachability Reachability
	Stream       rawStream // set for EvtStreamOpened / EvtBlobRequested; the raw, not-yet-authenticated stream
}

// NetworkEventDispatcher is the fire-and-forget outward event sink of the
// Network Core (§4.6, §9). Dispatch returns false when the sink is
// backpressured, letting the loop drop rather than block.
type NetworkEventDispatcher interface {
	Dispatch(NetworkEvent) bool
}

// ChanDispatcher is the production dispatcher: a bounded channel matching
// §4.10's event broadcast capacity guidance.
type ChanDispatcher struct {
	ch chan NetworkEvent
}

func NewChanDispatcher(buffer int) *ChanDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChanDispatcher{ch: make(chan NetworkEvent, buffer)}
}

func (d *ChanDispatcher) Dispatch(e NetworkEvent) bool {
	select {
	case d.ch <- e:
		return true
	default:
		return false
	}
}

func (d *ChanDispatcher) Events() <-chan NetworkEvent { return d.ch }

// RecordingDispatcher is the in-memory test double (§9).
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []NetworkEvent
}

func (d *RecordingDispatcher) Dispatch(e NetworkEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return true
}

func (d *RecordingDispatcher) Events() []NetworkEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]NetworkEvent(nil), d.events...)
}

// NetworkConfig configures the Network Core (§6).
type NetworkConfig struct {
	ListenAddrs         []string
	BootstrapPeers      []string
	MDNSEnabled         bool
	DiscoveryTag        string
	RendezvousPeer      string // optional bootstrap peer acting as rendezvous point (§4.7)
	RendezvousNamespace string
	RelayEnabled        bool
}

type commandKind int

const (
	cmdDial commandKind = iota
	cmdBootstrap
	cmdSubscribe
	cmdUnsubscribe
	cmdPublish
	cmdOpenStream
	cmdPeerCount
	cmdMeshPeerCount
	cmdMeshPeers
	cmdAnnounceBlob
	cmdQueryBlob
	cmdAdvertiseRendezvous
)

// command is one public operation delivered into the event loop via
// message passing, completed through a one-shot reply channel (§4.6).
type command struct {
	kind  commandKind
	reply any
	args  any
}

// NetworkCore is the single-process event loop coordinating libp2p's
// pubsub, DHT, mDNS, rendezvous, Identify, ping, relay, hole-punching and
// AutoNAT sub-behaviors plus direct streams (§4.6). All mutable loop state
// (topics, subscriptions) is touched only from run; public methods only
// send a command and block on a one-shot reply channel, so no internal
// mutex is ever held across an external I/O await. Supersedes the
// teacher's Node/NewNode in the same file.
type NetworkCore struct {
	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	rdv    discovery.Discovery
	pinger *ping.PingService
	nat    *NATManager
	disc   *DiscoveryState

	dispatch  NetworkEventDispatcher
	blobCache BlobSource

	cfg NetworkConfig
	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command

	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// BlobSource is the narrow capability NetworkCore needs to serve blob
// requests locally; the Node Runtime's blob cache implements it (§4.10).
type BlobSource interface {
	GetBlob(id BlobId) ([]byte, bool)
}

// NewNetworkCore builds a Calimero libp2p host, joins gossipsub, wires NAT
// traversal and DHT/rendezvous discovery, and starts the command-loop
// goroutine (§4.6).
func NewNetworkCore(identity *NodeIdentity, cfg NetworkConfig, disc *DiscoveryState, dispatch NetworkEventDispatcher, blobCache BlobSource, log *logrus.Logger) (*NetworkCore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	opts := []libp2p.Option{
		libp2p.Identity(identity.Priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	}
	if cfg.RelayEnabled {
		opts = append(opts, libp2p.EnableRelay(), libp2p.EnableRelayService())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network core: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network core: create pubsub: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.ProtocolPrefix(protocol.ID("/calimero")))
	if err != nil {
		log.Warnf("network core: dht init failed: %v", err)
		kad = nil
	}

	n := &NetworkCore{
		host:      h,
		pubsub:    ps,
		dht:       kad,
		disc:      disc,
		dispatch:  dispatch,
		blobCache: blobCache,
		cfg:       cfg,
		log:       log.WithField("component", "network_core"),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan command, 64),
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		pinger:    ping.NewPingService(h),
	}

	if kad != nil {
		n.rdv = routediscovery.NewRoutingDiscovery(kad)
	}
	if cfg.RendezvousPeer != "" {
		if pi, err := peer.AddrInfoFromString(cfg.RendezvousPeer); err == nil {
			n.rdv = rendezvous.NewRendezvousDiscovery(h, pi.ID, nil)
		} else {
			log.Warnf("network core: invalid rendezvous peer %s: %v", cfg.RendezvousPeer, err)
		}
	}

	if natMgr, err := NewNATManager(); err == nil {
		n.nat = natMgr
		if port, perr := firstTCPPort(cfg.ListenAddrs); perr == nil {
			if merr := natMgr.Map(port); merr != nil {
				log.Warnf("network core: nat port mapping failed: %v", merr)
			} else {
				log.WithFields(logrus.Fields{"external_ip": natMgr.ExternalIP().String(), "port": port}).
					Info("network core: mapped external port via nat")
				n.dispatch.Dispatch(NetworkEvent{Kind: EvtReachabilityChanged, Reachability: ReachabilityPublic})
			}
		}
	} else {
		log.Warnf("network core: nat discovery failed: %v", err)
	}

	h.SetStreamHandler(ProtoStream, n.handleIncomingStream)
	h.SetStreamHandler(ProtoBlob, n.handleIncomingBlobStream)

	n.subscribeReachabilityEvents()

	if cfg.MDNSEnabled {
		mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{n: n})
	}

	for _, addr := range cfg.BootstrapPeers {
		if err := n.dialSeed(addr); err != nil {
			log.Warnf("network core: bootstrap dial %s: %v", addr, err)
		}
	}

	go n.run()
	return n, nil
}

// subscribeReachabilityEvents forwards AutoNAT's local-reachability
// classification to the dispatcher as EvtReachabilityChanged events (§4.6
// AutoNAT sub-behavior, §4.7 reachability); it does not update the
// Discovery state.
func (n *NetworkCore) subscribeReachabilityEvents() {
	sub, err := n.host.EventBus().Subscribe(new(event.EvtLocalReachabilityChanged))
	if err != nil {
		n.log.Warnf("subscribe reachability events: %v", err)
		return
	}
	go func() {
		for {
			select {
			case <-n.ctx.Done():
				sub.Close()
				return
			case evt, ok := <-sub.Out():
				if !ok {
					return
				}
				rc := evt.(event.EvtLocalReachabilityChanged)
				var r Reachability
				switch rc.Reachability {
				case network.ReachabilityPublic:
					r = ReachabilityPublic
				case network.ReachabilityPrivate:
					r = ReachabilityPrivate
				default:
					r = ReachabilityUnknown
				}
				n.log.WithField("reachability", rc.Reachability.String()).Info("local reachability changed")
				n.dispatch.Dispatch(NetworkEvent{Kind: EvtReachabilityChanged, Reachability: r})
			}
		}
	}()
}

type mdnsNotifee struct{ n *NetworkCore }

// HandlePeerFound implements mdns.Notifee: connect to a discovered peer,
// ignoring the local host (§4.6).
func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.n.host.ID() {
		return
	}
	if err := m.n.host.Connect(m.n.ctx, info); err != nil {
		m.n.log.Warnf("mdns connect %s: %v", info.ID, err)
		return
	}
	m.n.disc.SetConnState(PeerIdFromLibp2p(info.ID), ConnConnected)
}

func (n *NetworkCore) dialSeed(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid bootstrap addr %s: %w", addr, err)
	}
	if err := n.host.Connect(n.ctx, *pi); err != nil {
		return err
	}
	n.disc.SetConnState(PeerIdFromLibp2p(pi.ID), ConnConnected)
	return nil
}

// run is the single cooperatively-scheduled loop processing commands.
// Sub-behavior callbacks (stream handlers, mDNS, pubsub message pumps) run
// on their own goroutines spawned elsewhere and only ever touch
// NetworkCore state by sending a command here or writing to the
// dispatcher, keeping all mutable loop state single-owner (§4.6, §5).
func (n *NetworkCore) run() {
	for {
		select {
		case <-n.ctx.Done():
			return
		case c := <-n.cmds:
			n.handleCommand(c)
		}
	}
}

func (n *NetworkCore) handleCommand(c command) {
	switch c.kind {
	case cmdPublish:
		a := c.args.(publishArgs)
		c.reply.(chan publishReply) <- n.doPublish(a.topic, a.data)
	case cmdSubscribe:
		a := c.args.(string)
		c.reply.(chan subscribeReply) <- n.doSubscribe(a)
	case cmdUnsubscribe:
		a := c.args.(string)
		n.doUnsubscribe(a)
		c.reply.(chan struct{}) <- struct{}{}
	case cmdDial:
		a := c.args.(string)
		c.reply.(chan error) <- n.doDial(a)
	case cmdBootstrap:
		c.reply.(chan error) <- n.doBootstrap()
	case cmdOpenStream:
		a := c.args.(openStreamArgs)
		c.reply.(chan openStreamReply) <- n.doOpenStream(a)
	case cmdPeerCount:
		c.reply.(chan int) <- len(n.host.Network().Peers())
	case cmdMeshPeerCount:
		a := c.args.(string)
		c.reply.(chan int) <- len(n.meshPeersFor(a))
	case cmdMeshPeers:
		a := c.args.(string)
		c.reply.(chan []PeerId) <- n.meshPeersFor(a)
	case cmdAnnounceBlob:
		a := c.args.(BlobId)
		c.reply.(chan error) <- n.doAnnounceBlob(a)
	case cmdQueryBlob:
		a := c.args.(BlobId)
		c.reply.(chan []PeerId) <- n.doQueryBlob(a)
	case cmdAdvertiseRendezvous:
		c.reply.(chan error) <- n.doAdvertiseRendezvous()
	}
}

type publishArgs struct {
	topic string
	data  []byte
}
type publishReply struct {
	id  string
	err error
}

func (n *NetworkCore) doPublish(topic string, data []byte) publishReply {
	t, err := n.joinTopic(topic)
	if err != nil {
		return publishReply{err: err}
	}
	if err := t.Publish(n.ctx, data); err != nil {
		return publishReply{err: fmt.Errorf("%w: %v", ErrBackpressureRejected, err)}
	}
	return publishReply{id: fmt.Sprintf("%s:%d", topic, len(data))}
}

func (n *NetworkCore) joinTopic(topic string) (*pubsub.Topic, error) {
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

type subscribeReply struct {
	ok  bool
	err error
}

func (n *NetworkCore) doSubscribe(topic string) subscribeReply {
	if _, ok := n.subs[topic]; ok {
		return subscribeReply{ok: true}
	}
	t, err := n.joinTopic(topic)
	if err != nil {
		return subscribeReply{err: err}
	}
	sub, err := t.Subscribe()
	if err != nil {
		return subscribeReply{err: fmt.Errorf("subscribe %s: %w", topic, err)}
	}
	n.subs[topic] = sub
	go n.pumpTopic(topic, sub)
	n.dispatch.Dispatch(NetworkEvent{Kind: EvtSubscribed, Topic: topic})
	return subscribeReply{ok: true}
}

// pumpTopic delivers gossip messages to the dispatcher. pubsub.Subscription
// already serializes delivery per-topic, so a single pump goroutine per
// topic preserves that order end to end (§4.6, §5).
func (n *NetworkCore) pumpTopic(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		n.dispatch.Dispatch(NetworkEvent{
			Kind:  EvtMessage,
			Topic: topic,
			From:  PeerIdFromLibp2p(msg.GetFrom()),
			Id:    fmt.Sprintf("%x", msg.ID),
			Bytes: msg.Data,
		})
	}
}

func (n *NetworkCore) doUnsubscribe(topic string) {
	if sub, ok := n.subs[topic]; ok {
		sub.Cancel()
		delete(n.subs, topic)
		n.dispatch.Dispatch(NetworkEvent{Kind: EvtUnsubscribed, Topic: topic})
	}
}

func (n *NetworkCore) doDial(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRoute, err)
	}
	n.disc.SetConnState(PeerIdFromLibp2p(pi.ID), ConnDialing)
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *pi); err != nil {
		return fmt.Errorf("%w: %v", ErrNoRoute, err)
	}
	n.disc.SetConnState(PeerIdFromLibp2p(pi.ID), ConnConnected)
	return nil
}

func (n *NetworkCore) doBootstrap() error {
	if n.dht == nil {
		return fmt.Errorf("network core: dht unavailable")
	}
	return n.dht.Bootstrap(n.ctx)
}

func (n *NetworkCore) doAdvertiseRendezvous() error {
	if n.rdv == nil || n.cfg.RendezvousNamespace == "" {
		return fmt.Errorf("network core: rendezvous not configured")
	}
	_, err := n.rdv.Advertise(n.ctx, n.cfg.RendezvousNamespace)
	return err
}

type openStreamArgs struct {
	peer     PeerId
	ctxId    ContextId
	self     *NodeIdentity
	selfPeer PeerId
}
type openStreamReply struct {
	stream *AuthenticatedStream
	err    error
}

func (n *NetworkCore) doOpenStream(a openStreamArgs) openStreamReply {
	pid, err := a.peer.Libp2p()
	if err != nil {
		return openStreamReply{err: fmt.Errorf("%w: %v", ErrNoRoute, err)}
	}
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	s, err := n.host.NewStream(ctx, pid, ProtoStream)
	if err != nil {
		return openStreamReply{err: fmt.Errorf("%w: %v", ErrRefused, err)}
	}
	auth, _, err := Handshake(s, a.self, a.selfPeer, a.peer, a.ctxId, n.disc, true)
	if err != nil {
		s.Close()
		return openStreamReply{err: err}
	}
	return openStreamReply{stream: auth}
}

func (n *NetworkCore) meshPeersFor(topic string) []PeerId {
	t, ok := n.topics[topic]
	if !ok {
		return nil
	}
	ids := t.ListPeers()
	out := make([]PeerId, len(ids))
	for i, id := range ids {
		out[i] = PeerIdFromLibp2p(id)
	}
	return out
}

func (n *NetworkCore) doAnnounceBlob(id BlobId) error {
	if n.dht == nil {
		return fmt.Errorf("network core: dht unavailable")
	}
	c, err := blobIdToCid(id)
	if err != nil {
		return err
	}
	return n.dht.Provide(n.ctx, c, true)
}

func (n *NetworkCore) doQueryBlob(id BlobId) []PeerId {
	if n.dht == nil {
		return nil
	}
	c, err := blobIdToCid(id)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	var out []PeerId
	for pi := range n.dht.FindProvidersAsync(ctx, c, 20) {
		out = append(out, PeerIdFromLibp2p(pi.ID))
	}
	return out
}

// handleIncomingStream accepts a direct stream and dispatches
// StreamOpened; the request/response dispatch to a protocol handler reads
// the raw network.Stream from the event (§4.5, §4.8).
func (n *NetworkCore) handleIncomingStream(s network.Stream) {
	remote := PeerIdFromLibp2p(s.Conn().RemotePeer())
	n.disc.SetConnState(remote, ConnConnected)
	if !n.dispatch.Dispatch(NetworkEvent{Kind: EvtStreamOpened, Peer: remote, Protocol: ProtoStream, Stream: s}) {
		s.Close()
	}
}

func (n *NetworkCore) handleIncomingBlobStream(s network.Stream) {
	remote := PeerIdFromLibp2p(s.Conn().RemotePeer())
	if !n.dispatch.Dispatch(NetworkEvent{Kind: EvtBlobRequested, Peer: remote, Protocol: ProtoBlob, Stream: s}) {
		s.Close()
	}
}

// --- Public operations (§4.6) ----------------------------------------------

func (n *NetworkCore) Publish(topic string, data []byte) (string, error) {
	reply := make(chan publishReply, 1)
	n.cmds <- command{kind: cmdPublish, reply: reply, args: publishArgs{topic: topic, data: data}}
	r := <-reply
	return r.id, r.err
}

func (n *NetworkCore) Subscribe(topic string) error {
	reply := make(chan subscribeReply, 1)
	n.cmds <- command{kind: cmdSubscribe, reply: reply, args: topic}
	r := <-reply
	return r.err
}

func (n *NetworkCore) Unsubscribe(topic string) {
	reply := make(chan struct{}, 1)
	n.cmds <- command{kind: cmdUnsubscribe, reply: reply, args: topic}
	<-reply
}

func (n *NetworkCore) Dial(addr string) error {
	reply := make(chan error, 1)
	n.cmds <- command{kind: cmdDial, reply: reply, args: addr}
	return <-reply
}

func (n *NetworkCore) Bootstrap() error {
	reply := make(chan error, 1)
	n.cmds <- command{kind: cmdBootstrap, reply: reply}
	return <-reply
}

func (n *NetworkCore) AdvertiseRendezvous() error {
	reply := make(chan error, 1)
	n.cmds <- command{kind: cmdAdvertiseRendezvous, reply: reply}
	return <-reply
}

func (n *NetworkCore) OpenStream(peerId PeerId, ctxId ContextId, self *NodeIdentity, selfPeer PeerId) (*AuthenticatedStream, error) {
	reply := make(chan openStreamReply, 1)
	n.cmds <- command{kind: cmdOpenStream, reply: reply, args: openStreamArgs{peer: peerId, ctxId: ctxId, self: self, selfPeer: selfPeer}}
	r := <-reply
	return r.stream, r.err
}

func (n *NetworkCore) PeerCount() int {
	reply := make(chan int, 1)
	n.cmds <- command{kind: cmdPeerCount, reply: reply}
	return <-reply
}

func (n *NetworkCore) MeshPeerCount(topic string) int {
	reply := make(chan int, 1)
	n.cmds <- command{kind: cmdMeshPeerCount, reply: reply, args: topic}
	return <-reply
}

func (n *NetworkCore) MeshPeers(topic string) []PeerId {
	reply := make(chan []PeerId, 1)
	n.cmds <- command{kind: cmdMeshPeers, reply: reply, args: topic}
	return <-reply
}

func (n *NetworkCore) AnnounceBlob(id BlobId) error {
	reply := make(chan error, 1)
	n.cmds <- command{kind: cmdAnnounceBlob, reply: reply, args: id}
	return <-reply
}

func (n *NetworkCore) QueryBlob(id BlobId) []PeerId {
	reply := make(chan []PeerId, 1)
	n.cmds <- command{kind: cmdQueryBlob, reply: reply, args: id}
	return <-reply
}

// Ping returns the round-trip time to peer, used by PeerManagement.PingRTT
// (§4.6, §4.9).
func (n *NetworkCore) Ping(ctx context.Context, p PeerId) (time.Duration, error) {
	if n.pinger == nil {
		return 0, fmt.Errorf("network core: ping service unavailable")
	}
	pid, err := p.Libp2p()
	if err != nil {
		return 0, err
	}
	res := <-n.pinger.Ping(ctx, pid)
	return res.RTT, res.Error
}

func (n *NetworkCore) Host() host.Host { return n.host }

func (n *NetworkCore) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	if n.dht != nil {
		_ = n.dht.Close()
	}
	return n.host.Close()
}

// blobIdToCid renders a BlobId as a CIDv1 raw-codec content identifier so
// blob availability can be announced and queried through the DHT's
// provider records (§4.6, §6 blob stream protocol).
func blobIdToCid(id BlobId) (cid.Cid, error) {
	digest, err := mh.Encode(id[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode blob multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}
