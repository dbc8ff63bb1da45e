// Package server defines the JSON envelope exchanged with clients and the
// encoders for every outbound event.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Tyrowin/sofarelay/internal/location"
)

// Inbound event names.
const (
	EventAdminLocation   = "admin-location"
	EventScooterLocation = "scooter-location"
)

// Outbound event names.
const (
	EventInit                = "init"
	EventSofaUpdate          = "sofa-update"
	EventScooterUpdate       = "scooter-update"
	EventScooterDisconnected = "scooter-disconnected"
)

// Envelope is the frame format in both directions: one event per WebSocket
// text message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var errMissingEvent = errors.New("decode envelope: missing event name")

// decodeEnvelope parses an inbound frame. A missing data field decodes as
// JSON null.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	return env, nil
}

func encodeEvent(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

func encodeInit(snap location.Snapshot) ([]byte, error) {
	return encodeEvent(EventInit, snap)
}

func encodeSofaUpdate(p location.Position) ([]byte, error) {
	return encodeEvent(EventSofaUpdate, nullIfEmpty(p))
}

// encodeScooterUpdate builds {"id": id, ...p}. Spread keys are applied after
// id, so a payload that carries its own id overrides it.
func encodeScooterUpdate(id int, p location.Position) ([]byte, error) {
	fields := spreadKeys(p)
	if _, ok := fields["id"]; !ok {
		fields["id"] = json.RawMessage(strconv.Itoa(id))
	}
	return encodeEvent(EventScooterUpdate, fields)
}

// spreadKeys returns the own enumerable keys of p as an object spread sees
// them: object members, array elements and string characters by index.
// Numbers, booleans and null contribute nothing.
func spreadKeys(p location.Position) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p, &obj); err == nil && obj != nil {
		return obj
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(p, &arr); err == nil {
		for i, v := range arr {
			fields[strconv.Itoa(i)] = v
		}
		return fields
	}

	var str string
	if err := json.Unmarshal(p, &str); err == nil {
		for i, r := range []rune(str) {
			char, _ := json.Marshal(string(r))
			fields[strconv.Itoa(i)] = char
		}
	}
	return fields
}

func encodeScooterDisconnected(id int) ([]byte, error) {
	return encodeEvent(EventScooterDisconnected, id)
}

func nullIfEmpty(p location.Position) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(p)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
