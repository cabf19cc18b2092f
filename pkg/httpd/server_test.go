package httpd

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/radiogw/pkg/nvs"
	"github.com/robotalks/radiogw/pkg/radio"
	"github.com/robotalks/radiogw/pkg/settings"
	"github.com/robotalks/radiogw/pkg/transport"
)

func newTestServer(t *testing.T, defaults map[string]string) (*Server, *nvs.Memory, *httptest.Server) {
	mem := nvs.NewMemory()
	store, err := settings.New(mem, settings.Options{Defaults: defaults})
	require.NoError(t, err)
	require.NoError(t, store.Init())
	s := New(DefaultConfig(), store, nil)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, mem, ts
}

func do(t *testing.T, method, url, user, pass, body string) (int, string) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(out)
}

func TestAuth(t *testing.T) {
	_, _, ts := newTestServer(t, map[string]string{settings.KeyHTTPAuthPassword: "secret"})
	testCases := []struct {
		name       string
		user, pass string
		status     int
	}{
		{"ok", "admin", "secret", http.StatusNoContent},
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong password", "admin", "secreT", http.StatusUnauthorized},
		{"wrong user", "root", "secret", http.StatusUnauthorized},
		{"prefix password", "admin", "secre", http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := do(t, http.MethodGet, ts.URL+"/auth/check", tc.user, tc.pass, "")
			require.Equal(t, tc.status, status)
		})
	}
}

func TestAuthEmptyPasswordRejects(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	status, _ := do(t, http.MethodGet, ts.URL+"/auth/check", "admin", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = do(t, http.MethodGet, ts.URL+"/settings.csv", "admin", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestIndexAndChannel(t *testing.T) {
	s, _, ts := newTestServer(t, map[string]string{settings.KeyWiFiChannel: "6"})
	status, body := do(t, http.MethodGet, ts.URL+"/", "", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "<title>radio gateway</title>")

	status, _ = do(t, http.MethodGet, ts.URL+"/nope", "", "", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body = do(t, http.MethodGet, ts.URL+"/api/channel", "", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "6", body)

	s.Channel = func() uint8 { return 11 }
	_, body = do(t, http.MethodGet, ts.URL+"/api/channel", "", "", "")
	require.Equal(t, "11", body)
}

func TestSettingsCSV(t *testing.T) {
	_, mem, ts := newTestServer(t, map[string]string{settings.KeyHTTPAuthPassword: "secret"})
	url := ts.URL + "/settings.csv"

	status, body := do(t, http.MethodGet, url, "admin", "secret", "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, strings.HasPrefix(body, "wifi.ssid=\n"))
	require.Contains(t, body, "wifi.channel=1\n")

	testCases := []struct {
		name   string
		body   string
		status int
	}{
		{"update", "wifi.ssid=home\nwifi.channel=9\n", http.StatusNoContent},
		{"unknown key", "bogus=1\n", http.StatusBadRequest},
		{"malformed", "wifi.ssid\n", http.StatusBadRequest},
		{"channel range", "wifi.channel=300\n", http.StatusBadRequest},
		{"value too large", "wifi.ssid=" + strings.Repeat("x", 40) + "\n", http.StatusRequestEntityTooLarge},
		{"body too large", strings.Repeat("wifi.ssid=a\n", 50), http.StatusRequestEntityTooLarge},
		{"empty", "", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := do(t, http.MethodPost, url, "admin", "secret", tc.body)
			require.Equal(t, tc.status, status)
		})
	}

	_, body = do(t, http.MethodGet, url, "admin", "secret", "")
	require.Contains(t, body, "wifi.ssid=home\n")
	require.Contains(t, body, "wifi.channel=9\n")

	mem.FailNextCommit(0, errors.New("flash worn out"))
	status, _ = do(t, http.MethodPost, url, "admin", "secret", "wifi.ssid=other\n")
	require.Equal(t, http.StatusInternalServerError, status)
	_, body = do(t, http.MethodGet, url, "admin", "secret", "")
	require.Contains(t, body, "wifi.ssid=home\n")
}

func TestStats(t *testing.T) {
	s, _, ts := newTestServer(t, map[string]string{settings.KeyHTTPAuthPassword: "secret"})
	s.Stats = func() transport.Stats { return transport.Stats{Received: 3, Dropped: 1} }
	status, body := do(t, http.MethodGet, ts.URL+"/api/stats", "admin", "secret", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{
		"pipeline": {"received":3,"dropped":1,"rejected":0,"handled":0,"failed":0,"sent":0,"send_failed":0,"send_timeouts":0},
		"subscribers": 0,
		"events_dropped": 0
	}`, body)
}

func TestFrameStream(t *testing.T) {
	s, _, ts := newTestServer(t, map[string]string{settings.KeyHTTPAuthPassword: "secret"})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/frames"

	_, err := websocket.Dial(wsURL, "", ts.URL)
	require.Error(t, err)

	config, err := websocket.NewConfig(wsURL, ts.URL)
	require.NoError(t, err)
	config.Header.Set("Authorization", basicAuth("admin", "secret"))
	ws, err := websocket.DialConfig(config)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	s.Hub().PublishFrame(&radio.Frame{Src: radio.MustParseAddr("aa:bb:cc:dd:ee:01"), Data: []byte{0x31, 0x02}})

	var ev FrameEvent
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, websocket.JSON.Receive(ws, &ev))
	require.Equal(t, "aa:bb:cc:dd:ee:01", ev.Src)
	require.Equal(t, "3102", ev.Data)
	require.Equal(t, 2, ev.Len)

	ws.Close()
	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	store, err := settings.New(nvs.NewMemory(), settings.Options{})
	require.NoError(t, err)
	s := New(Config{Addr: "127.0.0.1:0"}, store, nil)
	require.Nil(t, s.Addr())
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotNil(t, addr)

	status, body := do(t, http.MethodGet, "http://"+addr.String()+"/api/channel", "", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1", body)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.Nil(t, s.Addr())
}

func basicAuth(user, pass string) string {
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}
