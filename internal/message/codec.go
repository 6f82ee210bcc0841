// internal/message/codec.go
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Parser converts between wire batches and messages.
//
// A batch is a JSON array whose elements are single-key objects keyed by the
// message kind, e.g. [{"Test":{"TestString":"hi","Id":1}}].
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a new parser
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger.With(zap.String("component", "parser"))}
}

// Deserialize decodes a batch. Each element yields exactly one message in
// input order; an element that cannot be decoded yields an Error instead.
// A batch that is not a non-empty JSON array yields a single Error.
func (p *Parser) Deserialize(data []byte) []Message {
	var units []json.RawMessage
	if err := json.Unmarshal(data, &units); err != nil {
		p.logger.Debug("Rejected message batch", zap.Error(err))
		return []Message{NewError(SystemID, ErrorMsg, "%v: %v", ErrNotArray, err)}
	}
	if len(units) == 0 {
		return []Message{NewError(SystemID, ErrorMsg, "%v", ErrEmptyBatch)}
	}

	out := make([]Message, 0, len(units))
	for i, raw := range units {
		msg, id, err := p.decodeUnit(raw)
		if err != nil {
			p.logger.Debug("Rejected message",
				zap.Int("position", i),
				zap.Uint32("id", id),
				zap.Error(err),
			)
			out = append(out, ErrorFrom(id, ErrorMsg, err))
			continue
		}
		out = append(out, msg)
	}
	return out
}

// decodeUnit decodes one batch element. The returned id is the element's Id
// when it could be recovered, so a failure can still answer the request.
func (p *Parser) decodeUnit(raw json.RawMessage) (Message, uint32, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper == nil {
		return nil, SystemID, fmt.Errorf("%w: element is not an object", ErrMalformed)
	}
	if len(wrapper) != 1 {
		return nil, sharedID(wrapper), fmt.Errorf("%w: element must hold exactly one message, got %d", ErrMalformed, len(wrapper))
	}

	var kind Kind
	var payload json.RawMessage
	for k, v := range wrapper {
		kind, payload = Kind(k), v
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, SystemID, fmt.Errorf("%w: %s payload is not an object", ErrMalformed, kind)
	}
	id := recoverID(fields)

	msg := New(kind)
	if msg == nil {
		return nil, id, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if missing := missingFields(msg, fields); len(missing) > 0 {
		return nil, id, fmt.Errorf("%w: %s is missing %v", ErrMalformed, kind, missing)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, id, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	if err := Validate(msg); err != nil {
		return nil, id, fmt.Errorf("%s: %w", kind, err)
	}
	return msg, msg.ID(), nil
}

func recoverID(fields map[string]json.RawMessage) uint32 {
	raw, ok := fields["Id"]
	if !ok {
		return SystemID
	}
	var id uint32
	if err := json.Unmarshal(raw, &id); err != nil {
		return SystemID
	}
	return id
}

// sharedID returns the Id all payloads of a multi-key element agree on, or
// SystemID when they disagree or carry none
func sharedID(wrapper map[string]json.RawMessage) uint32 {
	id := SystemID
	for _, payload := range wrapper {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			return SystemID
		}
		got := recoverID(fields)
		if got == SystemID || (id != SystemID && got != id) {
			return SystemID
		}
		id = got
	}
	return id
}

// Serialize encodes msgs as one batch for a client speaking schema version.
// Output is byte-identical for the same messages and version.
func (p *Parser) Serialize(version uint32, msgs ...Message) ([]byte, error) {
	units := make([]map[Kind]interface{}, 0, len(msgs))
	for _, m := range msgs {
		payload, err := downgrade(m, version)
		if err != nil {
			return nil, err
		}
		units = append(units, map[Kind]interface{}{m.Kind(): payload})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(units); err != nil {
		return nil, fmt.Errorf("failed to encode message batch: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// deviceInfoV0 lists accepted kinds by name only
type deviceInfoV0 struct {
	DeviceName     string   `json:"DeviceName"`
	DeviceIndex    uint32   `json:"DeviceIndex"`
	DeviceMessages []string `json:"DeviceMessages"`
}

type deviceAddedV0 struct {
	deviceInfoV0
	Header
}

type deviceListV0 struct {
	Devices []deviceInfoV0 `json:"Devices"`
	Header
}

func toV0(info DeviceMessageInfo) deviceInfoV0 {
	return deviceInfoV0{
		DeviceName:     info.DeviceName,
		DeviceIndex:    info.DeviceIndex,
		DeviceMessages: info.DeviceMessages.Names(),
	}
}

// downgrade returns the wire shape of m for schema version
func downgrade(m Message, version uint32) (interface{}, error) {
	if m.Kind().Version() > version {
		return nil, fmt.Errorf("%w: %s requires %d, client speaks %d",
			ErrVersionTooHigh, m.Kind(), m.Kind().Version(), version)
	}
	if version >= 1 {
		return m, nil
	}

	switch v := m.(type) {
	case *DeviceAdded:
		return &deviceAddedV0{deviceInfoV0: toV0(v.DeviceMessageInfo), Header: v.Header}, nil
	case *DeviceList:
		devices := make([]deviceInfoV0, 0, len(v.Devices))
		for _, d := range v.Devices {
			devices = append(devices, toV0(d))
		}
		return &deviceListV0{Devices: devices, Header: v.Header}, nil
	}
	return m, nil
}

// IsVersionError reports whether err came from serializing a kind the
// client's schema version does not know
func IsVersionError(err error) bool {
	return errors.Is(err, ErrVersionTooHigh)
}
