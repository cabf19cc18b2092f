// Package mqtt wraps the paho client with topic prefixing, handler fan-out
// and bounded waits.
package mqtt

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

var (
	// ErrTimeout indicates the broker did not acknowledge in time.
	ErrTimeout = errors.New("mqtt timeout")
	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("mqtt not connected")
)

// Handler is the callback when a message is received.
// topic has the prefix stripped.
type Handler func(topic string, payload []byte)

// Client is the part of paho.Client used by Queue.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Options configures a Queue.
type Options struct {
	// URI is the broker address, e.g. tcp://host:1883/prefix. A client-id
	// query parameter overrides ClientID; settings values cannot carry it.
	URI string
	// User and Password override credentials in URI when set.
	User     string
	Password string
	// ClientID is used when URI does not specify one.
	ClientID string
	// Timeout bounds connect, publish and subscribe acknowledgements.
	Timeout time.Duration
	// Will is published by the broker if the connection is lost.
	Will *Message
}

// Message is an outgoing message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Queue wraps MQTT client.
type Queue struct {
	Client       Client
	TopicPrefix  string
	Timeout      time.Duration
	OnConnect    func(*Queue)
	OnDisconnect func(*Queue, error)

	subsLock sync.RWMutex
	subs     map[string][]*Subscription
}

// Subscription is a subscribed topic filter.
type Subscription struct {
	queue   *Queue
	filter  string
	handler Handler
}

// MatchTopic matches topic with a filter which may contain + and #.
func MatchTopic(topic, filter string) bool {
	tokensT, tokensF := strings.Split(topic, "/"), strings.Split(filter, "/")
	for i, token := range tokensF {
		if token == "#" && i+1 == len(tokensF) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensF) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions and the topic prefix from URL.
// Schemes mqtt and mqtts map to tcp and ssl.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	if u.Host == "" {
		return nil, "", errors.New("mqtt: missing broker host in " + serverURL)
	}
	scheme := u.Scheme
	switch scheme {
	case "", "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if topicPrefix != "" && !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, topicPrefix, nil
}

// New creates a Queue with a paho client.
func New(o Options) (*Queue, error) {
	opts, prefix, err := ClientOptionsFromURL(o.URI)
	if err != nil {
		return nil, err
	}
	if o.User != "" {
		opts.SetUsername(o.User)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	if opts.ClientID == "" {
		opts.SetClientID(o.ClientID)
	}
	q := &Queue{TopicPrefix: prefix, Timeout: o.Timeout}
	if w := o.Will; w != nil {
		opts.SetBinaryWill(prefix+w.Topic, w.Payload, w.QoS, w.Retain)
	}
	opts.SetOnConnectHandler(q.onConnect)
	opts.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(opts)
	return q, nil
}

func (q *Queue) timeout() time.Duration {
	if q.Timeout > 0 {
		return q.Timeout
	}
	return DefaultTimeout
}

// wait waits for token within the timeout or until ctx is done.
func (q *Queue) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(q.timeout())
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect connects the client and waits for the broker.
func (q *Queue) Connect(ctx context.Context) error {
	return q.wait(ctx, q.Client.Connect())
}

// Close disconnects the client.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Connected tells whether the client is connected.
func (q *Queue) Connected() bool {
	return q.Client.IsConnected()
}

// Publish sends msg and waits for the acknowledgement.
func (q *Queue) Publish(ctx context.Context, msg Message) error {
	if !q.Client.IsConnected() {
		return ErrNotConnected
	}
	glog.V(2).Infof("PUB %q len=%d", q.TopicPrefix+msg.Topic, len(msg.Payload))
	return q.wait(ctx, q.Client.Publish(q.TopicPrefix+msg.Topic, msg.QoS, msg.Retain, msg.Payload))
}

// Sub subscribes handler to a topic filter.
func (q *Queue) Sub(filter string, handler Handler) (*Subscription, error) {
	sub := &Subscription{queue: q, filter: filter, handler: handler}
	q.subsLock.Lock()
	if q.subs == nil {
		q.subs = make(map[string][]*Subscription)
	}
	first := len(q.subs[filter]) == 0
	q.subs[filter] = append(q.subs[filter], sub)
	q.subsLock.Unlock()

	if first && q.Client.IsConnected() {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+filter)
		if err := q.wait(context.Background(), q.Client.Subscribe(q.TopicPrefix+filter, 0, q.dispatch)); err != nil {
			sub.Close()
			return nil, err
		}
	}
	return sub, nil
}

// Resubscribe subscribes all filters, e.g. after a reconnect.
func (q *Queue) Resubscribe() paho.Token {
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for filter := range q.subs {
		filters[q.TopicPrefix+filter] = 0
	}
	q.subsLock.RUnlock()
	if len(filters) == 0 {
		return &paho.DummyToken{}
	}
	for filter := range filters {
		glog.V(2).Infof("SUB %q", filter)
	}
	return q.Client.SubscribeMultiple(filters, q.dispatch)
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("mqtt connected")
	q.Resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("mqtt connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q, err)
	}
}

func (q *Queue) dispatch(c paho.Client, msg paho.Message) {
	q.Dispatch(msg.Topic(), msg.Payload())
}

// Dispatch delivers a message received on the full topic to matching
// handlers.
func (q *Queue) Dispatch(fullTopic string, payload []byte) {
	if !strings.HasPrefix(fullTopic, q.TopicPrefix) {
		return
	}
	topic := fullTopic[len(q.TopicPrefix):]
	glog.V(2).Infof("RCV %q", fullTopic)
	var handlers []Handler
	q.subsLock.RLock()
	for filter, subs := range q.subs {
		if MatchTopic(topic, filter) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}
	q.subsLock.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Close unsubscribes the handler. The filter is unsubscribed from the broker
// when its last handler is gone.
func (s *Subscription) Close() error {
	q := s.queue
	var unsub bool
	q.subsLock.Lock()
	subs := q.subs[s.filter]
	for n, sub := range subs {
		if sub == s {
			subs = append(subs[:n:n], subs[n+1:]...)
			break
		}
	}
	if unsub = len(subs) == 0; unsub {
		delete(q.subs, s.filter)
	} else {
		q.subs[s.filter] = subs
	}
	q.subsLock.Unlock()
	if unsub && q.Client.IsConnected() {
		glog.V(2).Infof("UNSUB %q", q.TopicPrefix+s.filter)
		return q.wait(context.Background(), q.Client.Unsubscribe(q.TopicPrefix+s.filter))
	}
	return nil
}
