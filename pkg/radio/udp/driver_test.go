package udp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/radiogw/pkg/radio"
)

var (
	self  = radio.MustParseAddr("02:00:00:00:00:01")
	other = radio.MustParseAddr("02:00:00:00:00:02")
	third = radio.MustParseAddr("02:00:00:00:00:03")
)

func TestAccept(t *testing.T) {
	testCases := []struct {
		name     string
		datagram []byte
		ok       bool
	}{
		{"unicast to self", encodeDatagram(self, other, []byte("hi")), true},
		{"broadcast", encodeDatagram(radio.Broadcast, other, []byte("hi")), true},
		{"own datagram", encodeDatagram(radio.Broadcast, self, []byte("hi")), false},
		{"for another station", encodeDatagram(third, other, []byte("hi")), false},
		{"short", []byte{1, 2, 3}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src, data, ok := accept(self, tc.datagram)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, other, src)
				require.Equal(t, []byte("hi"), data)
			}
		})
	}
}

func TestDriverOverMulticast(t *testing.T) {
	group := "239.255.42.77:42177"
	a := New(Config{Addr: self, Group: group})
	if err := a.Init(); err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer a.Deinit()
	b := New(Config{Addr: other, Group: group})
	require.NoError(t, b.Init())
	defer b.Deinit()

	frames := make(chan radio.Frame, 4)
	require.NoError(t, b.RegisterReceive(func(src radio.Addr, data []byte) {
		frames <- radio.Frame{Src: src, Data: append([]byte(nil), data...)}
	}))
	done := make(chan radio.SendStatus, 1)
	require.NoError(t, a.RegisterSendComplete(func(dst radio.Addr, status radio.SendStatus) {
		done <- status
	}))

	require.ErrorIs(t, a.Send(other, []byte("x")), radio.ErrPeerNotFound)
	require.NoError(t, a.AddPeer(radio.Peer{Addr: other}))
	require.ErrorIs(t, a.AddPeer(radio.Peer{Addr: other}), radio.ErrPeerExists)
	require.NoError(t, a.Send(other, []byte("ping")))
	require.Equal(t, radio.SendSuccess, <-done)

	select {
	case f := <-frames:
		require.Equal(t, self, f.Src)
		require.Equal(t, []byte("ping"), f.Data)
	case <-time.After(2 * time.Second):
		t.Skip("multicast loopback not delivered on this host")
	}

	require.ErrorIs(t, a.Init(), radio.ErrAlreadyInitialized)
	require.NoError(t, a.DelPeer(other))
	require.ErrorIs(t, a.DelPeer(other), radio.ErrPeerNotFound)
}

type readResult struct {
	datagram []byte
	err      error
}

type scriptedReader struct {
	results []readResult
}

func (r *scriptedReader) ReadFrom(b []byte) (int, net.Addr, error) {
	if len(r.results) == 0 {
		return 0, nil, net.ErrClosed
	}
	res := r.results[0]
	r.results = r.results[1:]
	if res.err != nil {
		return 0, nil, res.err
	}
	return copy(b, res.datagram), nil, nil
}

func TestReadLoopSurvivesReadErrors(t *testing.T) {
	d := New(Config{Addr: self})
	var (
		lock sync.Mutex
		got  [][]byte
	)
	d.recv = func(src radio.Addr, data []byte) {
		lock.Lock()
		got = append(got, append([]byte(nil), data...))
		lock.Unlock()
	}
	r := &scriptedReader{results: []readResult{
		{err: errors.New("connection refused")},
		{datagram: encodeDatagram(self, other, []byte("a"))},
		{err: errors.New("no buffer space available")},
		{datagram: encodeDatagram(radio.Broadcast, other, []byte("b"))},
	}}
	done := make(chan struct{})
	go d.readLoop(r, done)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop on a closed socket")
	}
	lock.Lock()
	defer lock.Unlock()
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
}
