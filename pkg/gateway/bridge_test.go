package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/radiogw/pkg/mqtt"
	"github.com/robotalks/radiogw/pkg/protocol"
	"github.com/robotalks/radiogw/pkg/radio"
)

type sentFrame struct {
	dst  radio.Addr
	data []byte
}

type fakeRadio struct {
	lock    sync.Mutex
	msgs    []mqtt.Message
	sent    []sentFrame
	peers   []radio.Peer
	sendErr error
	peerErr error
}

func (f *fakeRadio) Publish(_ context.Context, msg mqtt.Message) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeRadio) Send(_ context.Context, dst radio.Addr, data []byte, _ time.Duration) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{dst: dst, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeRadio) AddPeer(p radio.Peer) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.peerErr != nil {
		return f.peerErr
	}
	f.peers = append(f.peers, p)
	return nil
}

var node = radio.MustParseAddr("aa:bb:cc:00:00:01")

func newTestBridge() (*Bridge, *fakeRadio) {
	f := &fakeRadio{}
	b := NewBridge(f, f, f)
	b.GatewayID = "gw-test"
	return b, f
}

func TestBridgeConnect(t *testing.T) {
	b, f := newTestBridge()
	frame := &radio.Frame{Src: node, Data: protocol.Connect().Bytes()}
	require.NoError(t, b.HandleFrame(context.Background(), frame))
	require.NoError(t, b.HandleFrame(context.Background(), frame))

	require.Equal(t, []radio.Peer{{Addr: node}}, f.peers)
	require.Len(t, f.sent, 2)
	require.Equal(t, node, f.sent[0].dst)
	require.Equal(t, []byte{0x21, 0}, f.sent[0].data)
	require.Equal(t, mqtt.Message{
		Topic:   "device/aabbcc000001/status",
		Payload: []byte("online"),
		QoS:     1,
		Retain:  true,
	}, f.msgs[0])
}

func TestBridgeFrames(t *testing.T) {
	testCases := []struct {
		name   string
		format Format
		data   []byte
		topic  string
		err    error
	}{
		{"publish raw", FormatRaw, protocol.Publish([]byte("t=21")).Bytes(), "device/aabbcc000001/data", nil},
		{"publish json", FormatJSON, protocol.Publish([]byte("t=21")).Bytes(), "device/aabbcc000001/data", nil},
		{"publish protobuf", FormatProtobuf, protocol.Publish([]byte("t=21")).Bytes(), "device/aabbcc000001/data", nil},
		{"short", FormatRaw, []byte{0x30}, "device/aabbcc000001/raw", nil},
		{"invalid type", FormatRaw, []byte{0x00, 0x00}, "device/aabbcc000001/raw", nil},
		{"connack from node", FormatRaw, protocol.ConnAck(protocol.ConnAckSuccess).Bytes(), "", ErrUnexpectedPacket},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, f := newTestBridge()
			b.Format = tc.format
			err := b.HandleFrame(context.Background(), &radio.Frame{Src: node, Data: tc.data})
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Empty(t, f.msgs)
				return
			}
			require.NoError(t, err)
			require.Len(t, f.msgs, 1)
			require.Equal(t, tc.topic, f.msgs[0].Topic)
			if tc.topic == "device/aabbcc000001/raw" {
				require.Equal(t, tc.data, f.msgs[0].Payload)
				return
			}
			env, err := DecodeEnvelope(tc.format, f.msgs[0].Payload)
			require.NoError(t, err)
			require.Equal(t, []byte("t=21"), env.Data)
			if tc.format != FormatRaw {
				require.Equal(t, "gw-test", env.Gateway)
				require.Equal(t, node.String(), env.Node)
			}
		})
	}
}

func TestBridgeConnectSendFails(t *testing.T) {
	b, f := newTestBridge()
	f.sendErr = errors.New("timeout")
	err := b.HandleFrame(context.Background(), &radio.Frame{Src: node, Data: protocol.Connect().Bytes()})
	require.ErrorIs(t, err, f.sendErr)
	require.Empty(t, f.msgs)

	b, f = newTestBridge()
	f.peerErr = radio.ErrPeerExists
	require.NoError(t, b.HandleFrame(context.Background(), &radio.Frame{Src: node, Data: protocol.Connect().Bytes()}))
}

func TestBridgeCommand(t *testing.T) {
	testCases := []struct {
		name    string
		topic   string
		payload []byte
		dst     radio.Addr
		peers   int
		err     bool
	}{
		{"unicast", "device/aabbcc000001/cmd", []byte("on"), node, 1, false},
		{"colon address", "device/aa:bb:cc:00:00:01/cmd", []byte("on"), node, 1, false},
		{"broadcast", "device/ffffffffffff/cmd", []byte("all"), radio.Broadcast, 0, false},
		{"bad address", "device/zz/cmd", []byte("on"), radio.Addr{}, 0, true},
		{"not a command", "device/aabbcc000001/data", nil, radio.Addr{}, 0, true},
		{"too large", "device/aabbcc000001/cmd", make([]byte, protocol.MaxPayload+1), radio.Addr{}, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, f := newTestBridge()
			err := b.HandleCommand(context.Background(), tc.topic, tc.payload)
			if tc.err {
				require.Error(t, err)
				require.Empty(t, f.sent)
				return
			}
			require.NoError(t, err)
			require.Len(t, f.peers, tc.peers)
			require.Len(t, f.sent, 1)
			require.Equal(t, tc.dst, f.sent[0].dst)
			pkt, err := protocol.Decode(f.sent[0].data)
			require.NoError(t, err)
			require.Equal(t, protocol.TypePublish, pkt.Type)
			require.Equal(t, tc.payload, pkt.Data)
		})
	}
}

func TestEnvelope(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	env := &Envelope{Gateway: "gw", Node: node.String(), Time: ts, Data: []byte{1, 2, 0xff}}

	raw, err := env.Encode(FormatJSON)
	require.NoError(t, err)
	require.JSONEq(t, `{"gateway":"gw","node":"aa:bb:cc:00:00:01","time":"2026-01-02T03:04:05.000000006Z","data":"0102ff"}`, string(raw))

	for _, f := range []Format{FormatJSON, FormatProtobuf} {
		t.Run(string(f), func(t *testing.T) {
			b, err := env.Encode(f)
			require.NoError(t, err)
			got, err := DecodeEnvelope(f, b)
			require.NoError(t, err)
			require.Equal(t, env.Data, got.Data)
			require.True(t, ts.Equal(got.Time))
			require.Equal(t, env.Node, got.Node)
		})
	}

	_, err = env.Encode(Format("xml"))
	require.Error(t, err)
	require.False(t, Format("xml").Valid())
}
