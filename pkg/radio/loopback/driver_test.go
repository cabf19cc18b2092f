package loopback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/radiogw/pkg/radio"
)

type rx struct {
	src  radio.Addr
	data []byte
}

func attach(t *testing.T, m *Medium, addr string) (*Driver, chan rx, chan radio.SendStatus) {
	d := m.Attach(radio.MustParseAddr(addr))
	rxCh, sentCh := make(chan rx, 8), make(chan radio.SendStatus, 8)
	require.NoError(t, d.Init())
	require.NoError(t, d.RegisterReceive(func(src radio.Addr, data []byte) {
		rxCh <- rx{src: src, data: append([]byte(nil), data...)}
	}))
	require.NoError(t, d.RegisterSendComplete(func(dst radio.Addr, status radio.SendStatus) {
		sentCh <- status
	}))
	t.Cleanup(func() { d.Deinit() })
	return d, rxCh, sentCh
}

func expectRx(t *testing.T, ch chan rx) rx {
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("receive timeout")
	}
	return rx{}
}

func TestBroadcast(t *testing.T) {
	m := NewMedium()
	a, _, aSent := attach(t, m, "02:00:00:00:00:01")
	_, bRx, _ := attach(t, m, "02:00:00:00:00:02")
	_, cRx, _ := attach(t, m, "02:00:00:00:00:03")

	require.Equal(t, radio.ErrPeerNotFound, a.Send(radio.Broadcast, []byte{1}))
	require.NoError(t, a.AddPeer(radio.Peer{Addr: radio.Broadcast}))
	require.NoError(t, a.Send(radio.Broadcast, []byte{1, 2}))

	for _, ch := range []chan rx{bRx, cRx} {
		r := expectRx(t, ch)
		require.Equal(t, a.Addr(), r.src)
		require.Equal(t, []byte{1, 2}, r.data)
	}
	require.Equal(t, radio.SendSuccess, <-aSent)
}

func TestUnicast(t *testing.T) {
	m := NewMedium()
	a, aRx, aSent := attach(t, m, "02:00:00:00:00:01")
	b, bRx, _ := attach(t, m, "02:00:00:00:00:02")
	missing := radio.MustParseAddr("02:00:00:00:00:09")

	require.NoError(t, a.AddPeer(radio.Peer{Addr: b.Addr()}))
	require.Equal(t, radio.ErrPeerExists, a.AddPeer(radio.Peer{Addr: b.Addr()}))
	require.NoError(t, a.Send(b.Addr(), []byte("hi")))
	require.Equal(t, []byte("hi"), expectRx(t, bRx).data)
	require.Equal(t, radio.SendSuccess, <-aSent)

	require.NoError(t, a.AddPeer(radio.Peer{Addr: missing}))
	require.NoError(t, a.Send(missing, []byte("x")))
	require.Equal(t, radio.SendFailure, <-aSent)

	select {
	case <-aRx:
		t.Fatal("sender must not hear itself")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelMismatch(t *testing.T) {
	m := NewMedium()
	a, _, aSent := attach(t, m, "02:00:00:00:00:01")
	b, bRx, _ := attach(t, m, "02:00:00:00:00:02")
	require.NoError(t, a.SetChannel(1))
	require.NoError(t, b.SetChannel(6))
	require.NoError(t, a.AddPeer(radio.Peer{Addr: b.Addr()}))
	require.NoError(t, a.Send(b.Addr(), []byte("x")))
	require.Equal(t, radio.SendFailure, <-aSent)
	select {
	case <-bRx:
		t.Fatal("frame crossed channels")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLifecycle(t *testing.T) {
	m := NewMedium()
	d := m.Attach(radio.MustParseAddr("02:00:00:00:00:01"))
	require.Equal(t, radio.ErrNotInitialized, d.RegisterReceive(nil))
	require.Equal(t, radio.ErrNotInitialized, d.Send(radio.Broadcast, []byte{1}))
	require.Equal(t, radio.ErrNotInitialized, d.Deinit())
	require.NoError(t, d.Init())
	require.Equal(t, radio.ErrAlreadyInitialized, d.Init())
	require.NoError(t, d.AddPeer(radio.Peer{Addr: radio.Broadcast}))
	require.NoError(t, d.Deinit())
	require.False(t, d.HasPeer(radio.Broadcast))
	require.NoError(t, d.Init())
	require.NoError(t, d.Deinit())
	m.Detach(d)
}
