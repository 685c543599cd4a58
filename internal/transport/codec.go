package transport

import (
	"reflect"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownEvent is returned for frames whose name maps to no variant.
var ErrUnknownEvent = errors.New("unknown event")

// aliases maps the prefixed names older backends emit to canonical ones.
var aliases = map[string]domain.EventType{
	"whatsapp:status":       domain.EventConnectionStatus,
	"whatsapp:qr":           domain.EventQRCode,
	"whatsapp:connected":    domain.EventConnected,
	"whatsapp:disconnected": domain.EventDisconnected,
	"whatsapp:log":          domain.EventLog,
	"whatsapp:error":        domain.EventError,
	"whatsapp:auth_failure": domain.EventAuthFailure,
}

// outFrame is one text message on the wire.
type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type inFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// EncodeFrame serializes a named event as {"event": name, "data": payload}.
func EncodeFrame(name string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(outFrame{Event: name, Data: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", name)
	}
	return data, nil
}

// DecodeFrame splits a raw frame into its name and untyped payload.
func DecodeFrame(raw []byte) (string, interface{}, error) {
	var f inFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, errors.Wrap(err, "decode frame")
	}
	if f.Event == "" {
		return "", nil, errors.New("frame without event name")
	}
	return f.Event, f.Data, nil
}

// EventName resolves a wire name, accepting the whatsapp:* aliases.
func EventName(name string) (domain.EventType, bool) {
	name = strings.TrimSpace(name)
	if t, ok := aliases[name]; ok {
		return t, true
	}
	for _, t := range domain.PushEvents {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Decode turns one raw frame into a validated push event.
func Decode(raw []byte) (domain.Event, error) {
	name, data, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	t, ok := EventName(name)
	if !ok {
		return nil, errors.Wrap(ErrUnknownEvent, name)
	}
	var ev domain.Event
	switch t {
	case domain.EventConnectionStatus, domain.EventConnected, domain.EventDisconnected:
		ev = &domain.StatusEvent{Kind: t}
	case domain.EventQRCode:
		ev = &domain.QRCodeEvent{}
	case domain.EventLog:
		ev = &domain.LogEvent{}
	case domain.EventError, domain.EventAuthFailure:
		ev = &domain.ErrorEvent{Kind: t}
	}
	if err := decodePayload(data, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s payload", t)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(data interface{}, out interface{}) error {
	if data == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       timeHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook accepts ISO strings, other common layouts and epoch millis.
func timeHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return dateparse.ParseAny(v)
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	}
	return data, nil
}
