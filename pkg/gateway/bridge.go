package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/mqtt"
	"github.com/robotalks/radiogw/pkg/protocol"
	"github.com/robotalks/radiogw/pkg/radio"
)

// Topics relative to the broker prefix. %s is the compact node address.
const (
	TopicStatus = "device/%s/status"
	TopicData   = "device/%s/data"
	TopicRaw    = "device/%s/raw"
	TopicCmd    = "device/%s/cmd"

	// TopicCmdFilter subscribes commands for all nodes.
	TopicCmdFilter = "device/+/cmd"
)

// Status payloads.
const (
	StatusOnline = "online"
)

// ErrUnexpectedPacket is returned for packets a node must not send.
var ErrUnexpectedPacket = errors.New("unexpected packet")

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(ctx context.Context, msg mqtt.Message) error
}

// Sender is the blocking radio send path.
type Sender interface {
	Send(ctx context.Context, dst radio.Addr, data []byte, timeout time.Duration) error
}

// PeerAdder registers unicast peers with the radio.
type PeerAdder interface {
	AddPeer(radio.Peer) error
}

// Bridge relays node packets to MQTT and commands back to nodes.
type Bridge struct {
	GatewayID string
	Format    Format
	// SendTimeout bounds replies and commands to nodes, the pipeline default if zero.
	SendTimeout time.Duration

	pub   Publisher
	send  Sender
	peers PeerAdder

	lock  sync.Mutex
	known map[radio.Addr]bool
}

// NewBridge creates a Bridge.
func NewBridge(pub Publisher, send Sender, peers PeerAdder) *Bridge {
	return &Bridge{
		Format: FormatRaw,
		pub:    pub,
		send:   send,
		peers:  peers,
		known:  make(map[radio.Addr]bool),
	}
}

// Topic formats a per node topic.
func Topic(pattern string, node radio.Addr) string {
	return fmt.Sprintf(pattern, node.Compact())
}

// ParseCmdTopic extracts the node address from a command topic.
func ParseCmdTopic(topic string) (radio.Addr, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "device" || parts[2] != "cmd" {
		return radio.Addr{}, fmt.Errorf("not a command topic %q", topic)
	}
	return radio.ParseAddr(parts[1])
}

// ensurePeer registers node as a unicast peer once.
func (b *Bridge) ensurePeer(node radio.Addr, channel uint8) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.known[node] {
		return nil
	}
	err := b.peers.AddPeer(radio.Peer{Addr: node, Channel: channel})
	if err != nil && !errors.Is(err, radio.ErrPeerExists) {
		return fmt.Errorf("add peer %s: %w", node, err)
	}
	b.known[node] = true
	return nil
}

// HandleFrame implements transport.Handler.
func (b *Bridge) HandleFrame(ctx context.Context, f *radio.Frame) error {
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		glog.V(2).Infof("bridge: %s undecodable frame: %v", f.Src, err)
		return b.pub.Publish(ctx, mqtt.Message{Topic: Topic(TopicRaw, f.Src), Payload: f.Data})
	}
	glog.V(2).Infof("bridge: %s %s code=%d len=%d", f.Src, pkt.Type, pkt.Code, len(pkt.Data))
	switch pkt.Type {
	case protocol.TypeConnect:
		return b.connect(ctx, f.Src)
	case protocol.TypePublish:
		env := Envelope{Gateway: b.GatewayID, Node: f.Src.String(), Time: time.Now(), Data: pkt.Data}
		payload, err := env.Encode(b.Format)
		if err != nil {
			return err
		}
		return b.pub.Publish(ctx, mqtt.Message{Topic: Topic(TopicData, f.Src), Payload: payload})
	default:
		return fmt.Errorf("%w %s from %s", ErrUnexpectedPacket, pkt.Type, f.Src)
	}
}

func (b *Bridge) connect(ctx context.Context, node radio.Addr) error {
	if err := b.ensurePeer(node, 0); err != nil {
		return err
	}
	if err := b.send.Send(ctx, node, protocol.ConnAck(protocol.ConnAckSuccess).Bytes(), b.SendTimeout); err != nil {
		return fmt.Errorf("connack %s: %w", node, err)
	}
	glog.Infof("bridge: node %s connected", node)
	return b.pub.Publish(ctx, mqtt.Message{
		Topic:   Topic(TopicStatus, node),
		Payload: []byte(StatusOnline),
		QoS:     1,
		Retain:  true,
	})
}

// HandleCommand sends an MQTT command payload to the node as a PUBLISH packet.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	node, err := ParseCmdTopic(topic)
	if err != nil {
		return err
	}
	if len(payload) > protocol.MaxPayload {
		return fmt.Errorf("command for %s: %w", node, protocol.ErrPayloadTooLarge)
	}
	if !node.IsBroadcast() {
		if err := b.ensurePeer(node, 0); err != nil {
			return err
		}
	}
	if err := b.send.Send(ctx, node, protocol.Publish(payload).Bytes(), b.SendTimeout); err != nil {
		return fmt.Errorf("command for %s: %w", node, err)
	}
	return nil
}
