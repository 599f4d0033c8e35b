package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodePublishPayload serializes a PublishPayload to JSON and writes it to w,
// grounded on the same single-shot json.Encoder pattern the teacher's
// protocol.EncodeRequest uses for its stdin-framed requests.
func EncodePublishPayload(w io.Writer, p *PublishPayload) error {
	if err := json.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("encode publish payload: %w", err)
	}
	return nil
}

// DecodePublishReply reads and deserializes a PublishReply from r. An empty
// reply (EOF with no bytes) is reported as an error so the caller can
// propagate it as a failed publish, matching spec.md §4.2 ("failure or empty
// reply propagates as empty").
func DecodePublishReply(r io.Reader) (*PublishReply, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read publish reply: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty publish reply")
	}
	var reply PublishReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode publish reply: %w", err)
	}
	return &reply, nil
}

// DecodeReturn decodes a return.p (or out.p) blob into an arbitrary value.
// A JSON `null` is reported distinctly via IsNull so callers can implement
// the "transient read anomaly, retry once" rule of spec.md §4.3 without
// re-parsing.
func DecodeReturn(data []byte) (value any, isNull bool, err error) {
	if len(data) == 0 {
		return nil, true, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("decode return blob: %w", err)
	}
	return v, v == nil, nil
}

// busEventWire is the raw shape read off the event bus: a syndic expansion
// has only "syndic"; a terminal reply has "id" and "return" (and optionally
// "out"). The two shapes are mutually exclusive per spec.md §4.4.
type busEventWire struct {
	Syndic []string `json:"syndic,omitempty"`
	ID     string   `json:"id,omitempty"`
	Return any      `json:"return,omitempty"`
	Out    any      `json:"out,omitempty"`
}

// DecodeBusEvent decodes one raw event-bus message into the Event union.
func DecodeBusEvent(data []byte) (*Event, error) {
	var raw busEventWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bus event: %w", err)
	}
	if len(raw.Syndic) > 0 {
		return &Event{Syndic: &SyndicAnnouncement{Syndic: raw.Syndic}}, nil
	}
	if raw.ID != "" {
		return &Event{Reply: &AgentReply{ID: raw.ID, Ret: raw.Return, Out: raw.Out}}, nil
	}
	return nil, fmt.Errorf("bus event matches neither syndic nor reply shape")
}
