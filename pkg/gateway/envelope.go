package gateway

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

// Format selects how node payloads are wrapped in MQTT messages.
type Format string

// Envelope formats.
const (
	FormatRaw      Format = "raw"
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// Valid tells whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatRaw, FormatJSON, FormatProtobuf:
		return true
	}
	return false
}

// Envelope carries a node payload with its origin.
type Envelope struct {
	Gateway string    `json:"gateway"`
	Node    string    `json:"node"`
	Time    time.Time `json:"time"`
	Data    []byte    `json:"-"`
}

type jsonEnvelope struct {
	Envelope
	Data string `json:"data"`
}

// Encode serializes e in format f. FormatRaw yields the payload alone.
func (e *Envelope) Encode(f Format) ([]byte, error) {
	switch f {
	case FormatRaw, "":
		return e.Data, nil
	case FormatJSON:
		return json.Marshal(&jsonEnvelope{Envelope: *e, Data: hex.EncodeToString(e.Data)})
	case FormatProtobuf:
		return proto.Marshal(e.toStruct())
	default:
		return nil, fmt.Errorf("unknown envelope format %q", f)
	}
}

func (e *Envelope) toStruct() *structpb.Struct {
	str := func(s string) *structpb.Value {
		return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"gateway": str(e.Gateway),
		"node":    str(e.Node),
		"time":    str(e.Time.UTC().Format(time.RFC3339Nano)),
		"data":    str(hex.EncodeToString(e.Data)),
	}}
}

// DecodeEnvelope parses an encoded envelope. For FormatRaw only Data is set.
func DecodeEnvelope(f Format, b []byte) (*Envelope, error) {
	switch f {
	case FormatRaw, "":
		return &Envelope{Data: b}, nil
	case FormatJSON:
		var je jsonEnvelope
		if err := json.Unmarshal(b, &je); err != nil {
			return nil, err
		}
		return je.finish()
	case FormatProtobuf:
		var st structpb.Struct
		if err := proto.Unmarshal(b, &st); err != nil {
			return nil, err
		}
		field := func(name string) string {
			return st.Fields[name].GetStringValue()
		}
		je := jsonEnvelope{Envelope: Envelope{Gateway: field("gateway"), Node: field("node")}, Data: field("data")}
		if ts := field("time"); ts != "" {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, err
			}
			je.Time = t
		}
		return je.finish()
	default:
		return nil, fmt.Errorf("unknown envelope format %q", f)
	}
}

func (je *jsonEnvelope) finish() (*Envelope, error) {
	data, err := hex.DecodeString(je.Data)
	if err != nil {
		return nil, fmt.Errorf("envelope data: %w", err)
	}
	e := je.Envelope
	e.Data = data
	return &e, nil
}
