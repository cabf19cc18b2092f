package settings

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/radiogw/pkg/nvs"
)

func newStore(t *testing.T, b nvs.Backend) *Store {
	s, err := New(b, Options{Defaults: map[string]string{KeyWiFiSSID: "gateway"}})
	require.NoError(t, err)
	require.NoError(t, s.Init())
	return s
}

func TestDefaults(t *testing.T) {
	s := newStore(t, nvs.NewMemory())
	v, err := s.Get(KeyWiFiSSID)
	require.NoError(t, err)
	require.Equal(t, "gateway", v)
	v, err = s.Get(KeyWiFiChannel)
	require.NoError(t, err)
	require.Equal(t, "1", v)
	_, err = s.Get("wifi.bssid")
	require.Equal(t, ErrUnknownKey, err)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(nvs.NewMemory(), Options{Defaults: map[string]string{"nope": "x"}})
	require.True(t, errors.Is(err, ErrUnknownKey))
	_, err = New(nvs.NewMemory(), Options{Defaults: map[string]string{KeyWiFiChannel: "300"}})
	require.True(t, errors.Is(err, ErrInvalidValue))
}

func TestSetGet(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		err   error
		get   string
	}{
		{"text", KeyWiFiSSID, "Home", nil, "Home"},
		{"empty text", KeyMQTTUser, "", nil, ""},
		{"text at capacity", KeyWiFiSSID, strings.Repeat("s", 32), nil, strings.Repeat("s", 32)},
		{"text over capacity", KeyWiFiSSID, strings.Repeat("s", 33), ErrInvalidSize, "gateway"},
		{"newline", KeyMQTTURI, "a\nb", ErrInvalidValue, "tcp://localhost:1883"},
		{"equals sign", KeyMQTTURI, "tcp://broker:1883/gw?client-id=gw1", ErrInvalidValue, "tcp://localhost:1883"},
		{"u8", KeyWiFiChannel, "11", nil, "11"},
		{"u8 max", KeyWiFiChannel, "255", nil, "255"},
		{"u8 out of range", KeyWiFiChannel, "256", ErrInvalidValue, "1"},
		{"u8 negative", KeyWiFiChannel, "-1", ErrInvalidValue, "1"},
		{"u8 not numeric", KeyWiFiChannel, "six", ErrInvalidValue, "1"},
		{"unknown key", "wifi.mode", "sta", ErrUnknownKey, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t, nvs.NewMemory())
			err := s.Set(tc.key, tc.value)
			require.Equal(t, tc.err, err)
			if tc.err == ErrUnknownKey {
				return
			}
			v, err := s.Get(tc.key)
			require.NoError(t, err)
			require.Equal(t, tc.get, v)
		})
	}
}

func TestSetPersists(t *testing.T) {
	b := nvs.NewMemory()
	s := newStore(t, b)
	require.NoError(t, s.Set(KeyWiFiChannel, "6"))
	require.NoError(t, s.Set(KeyMQTTURI, "tcp://broker:1883"))

	reloaded := newStore(t, b)
	vals, err := reloaded.Values()
	require.NoError(t, err)
	require.EqualValues(t, 6, vals.WiFiChannel)
	require.Equal(t, "tcp://broker:1883", vals.MQTTURI)
	require.Equal(t, "gateway", vals.WiFiSSID)
}

func TestSetPersistFailureKeepsValue(t *testing.T) {
	b := nvs.NewMemory()
	s := newStore(t, b)
	boom := errors.New("flash worn out")
	b.FailNextCommit(0, boom)
	err := s.Set(KeyWiFiSSID, "Home")
	require.True(t, errors.Is(err, boom))
	v, err := s.Get(KeyWiFiSSID)
	require.NoError(t, err)
	require.Equal(t, "gateway", v)

	b.FailOpen(boom)
	require.True(t, errors.Is(s.Set(KeyWiFiSSID, "Home"), boom))
}

func TestInitFailure(t *testing.T) {
	b := nvs.NewMemory()
	boom := errors.New("io")
	b.FailOpen(boom)
	s, err := New(b, Options{})
	require.NoError(t, err)
	require.Equal(t, boom, s.Init())
	_, err = s.Get(KeyWiFiSSID)
	require.Equal(t, boom, err)
	b.FailOpen(nil)
	require.NoError(t, s.Init())
	require.NoError(t, s.Init())
}

func TestClear(t *testing.T) {
	b := nvs.NewMemory()
	s := newStore(t, b)
	require.NoError(t, s.Set(KeyWiFiSSID, "Home"))
	require.NoError(t, s.Set(KeyWiFiChannel, "9"))
	require.NoError(t, s.Clear(KeyWiFiSSID))

	v, err := s.Get(KeyWiFiSSID)
	require.NoError(t, err)
	require.Equal(t, "gateway", v)
	v, err = s.Get(KeyWiFiChannel)
	require.NoError(t, err)
	require.Equal(t, "9", v)

	require.NoError(t, s.Clear(KeyMQTTUser))
	require.Equal(t, ErrUnknownKey, s.Clear("nope"))

	v, err = newStore(t, b).Get(KeyWiFiSSID)
	require.NoError(t, err)
	require.Equal(t, "gateway", v)
}

func TestOnChange(t *testing.T) {
	s := newStore(t, nvs.NewMemory())
	var got []string
	s.OnChange(func(key, value string) {
		got = append(got, key+"="+value)
	})
	require.NoError(t, s.Set(KeyWiFiChannel, "3"))
	require.Error(t, s.Set(KeyWiFiChannel, "x"))
	require.NoError(t, s.UnmarshalCSV([]byte("mqtt.user=u\nmqtt.password=p\n")))
	require.NoError(t, s.Clear(KeyWiFiChannel))
	require.Equal(t, []string{
		"wifi.channel=3",
		"mqtt.user=u",
		"mqtt.password=p",
		"wifi.channel=1",
	}, got)
}
