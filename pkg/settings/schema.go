package settings

// Kind is the storage type of a setting.
type Kind int

// Setting kinds.
const (
	KindText Kind = iota
	KindU8
)

func (k Kind) String() string {
	if k == KindU8 {
		return "u8"
	}
	return "text"
}

// Field describes a single setting.
type Field struct {
	Key  string
	Kind Kind
	// Capacity is the maximum length of a text value in bytes.
	Capacity int
}

// Setting keys.
const (
	KeyWiFiSSID         = "wifi.ssid"
	KeyWiFiPassword     = "wifi.password"
	KeyWiFiChannel      = "wifi.channel"
	KeyHTTPAuthUser     = "http.auth.user"
	KeyHTTPAuthPassword = "http.auth.password"
	KeyMQTTURI          = "mqtt.uri"
	KeyMQTTUser         = "mqtt.user"
	KeyMQTTPassword     = "mqtt.password"
)

// Schema is the fixed set of settings, in export order.
var Schema = []Field{
	{Key: KeyWiFiSSID, Kind: KindText, Capacity: 32},
	{Key: KeyWiFiPassword, Kind: KindText, Capacity: 64},
	{Key: KeyWiFiChannel, Kind: KindU8},
	{Key: KeyHTTPAuthUser, Kind: KindText, Capacity: 64},
	{Key: KeyHTTPAuthPassword, Kind: KindText, Capacity: 64},
	{Key: KeyMQTTURI, Kind: KindText, Capacity: 128},
	{Key: KeyMQTTUser, Kind: KindText, Capacity: 64},
	{Key: KeyMQTTPassword, Kind: KindText, Capacity: 64},
}

// DefaultNamespace is the storage namespace of the settings.
const DefaultNamespace = "cfg"

// Keys returns all setting keys in export order.
func Keys() []string {
	keys := make([]string, len(Schema))
	for n, f := range Schema {
		keys[n] = f.Key
	}
	return keys
}

// Lookup finds the field of key.
func Lookup(key string) (Field, bool) {
	idx := indexOf(key)
	if idx < 0 {
		return Field{}, false
	}
	return Schema[idx], true
}

func indexOf(key string) int {
	for n := range Schema {
		if Schema[n].Key == key {
			return n
		}
	}
	return -1
}

// Values is a typed snapshot of all settings.
type Values struct {
	WiFiSSID         string
	WiFiPassword     string
	WiFiChannel      uint8
	HTTPAuthUser     string
	HTTPAuthPassword string
	MQTTURI          string
	MQTTUser         string
	MQTTPassword     string
}
