package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacket(t *testing.T) {
	testCases := []struct {
		name   string
		packet *Packet
		expect []byte
	}{
		{"connect", Connect(), []byte{0x10, 0}},
		{"connack success", ConnAck(ConnAckSuccess), []byte{0x21, 0}},
		{"connack failure", ConnAck(ConnAckFailure), []byte{0x22, 0}},
		{"publish", Publish([]byte{1, 2, 3}), []byte{0x30, 3, 1, 2, 3}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, tc.packet.Bytes())
			var buf bytes.Buffer
			n, err := tc.packet.WriteTo(&buf)
			require.NoError(t, err)
			require.EqualValues(t, len(tc.expect), n)
			require.Equal(t, tc.expect, buf.Bytes())

			p, err := Decode(tc.expect)
			require.NoError(t, err)
			require.Equal(t, tc.packet.Type, p.Type)
			require.Equal(t, tc.packet.Code, p.Code)
			require.Equal(t, len(tc.packet.Data), len(p.Data))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x10})
	require.Equal(t, ErrShortPacket, err)
	_, err = Decode([]byte{0x05, 0})
	require.Equal(t, ErrInvalidHeader, err)
	_, err = Decode([]byte{0x30, 4, 1, 2})
	require.Equal(t, &LengthError{Declared: 4, Actual: 2}, err)

	p, err := Decode([]byte{0x30, 1, 9, 8, 7})
	require.NoError(t, err)
	require.Equal(t, []byte{9}, p.Data)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Publish(make([]byte, MaxPayload+1)).Encode()
	require.Equal(t, ErrPayloadTooLarge, err)
	_, err = (&Packet{Type: TypeConnAck, Code: 0x10}).Encode()
	require.Equal(t, ErrInvalidHeader, err)
	b, err := Publish(make([]byte, MaxPayload)).Encode()
	require.NoError(t, err)
	require.Len(t, b, 250)
	require.Equal(t, "PUBLISH", TypePublish.String())
}
