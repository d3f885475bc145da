package lifecycle

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"voice-orchestrator/internal/payments"

	"github.com/spf13/cast"
)

var ErrInvalidEvent = errors.New("lifecycle: invalid event body")

// Kind is the closed set of provider lifecycle events.
type Kind int

const (
	KindUnknown Kind = iota
	KindCallStarted
	KindCallEnded
	KindConversationUpdate
	KindFunctionCall
)

func ParseKind(name string) Kind {
	switch name {
	case "call_started":
		return KindCallStarted
	case "call_ended":
		return KindCallEnded
	case "conversation_update":
		return KindConversationUpdate
	case "function_call":
		return KindFunctionCall
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindCallStarted:
		return "call_started"
	case KindCallEnded:
		return "call_ended"
	case KindConversationUpdate:
		return "conversation_update"
	case KindFunctionCall:
		return "function_call"
	default:
		return "unknown"
	}
}

// Event is one inbound provider notification.
type Event struct {
	// Name is the event name as received; Kind is its classification.
	Name      string
	Kind      Kind
	CallID    string
	Timestamp json.RawMessage
	Data      Data
}

// Parse decodes the webhook envelope {event, call_id, timestamp, data}.
// Only bytes that are not JSON are an error. Envelope fields are read
// leniently: numeric ids are formatted, a non-object data is empty and a
// body that is not an object parses as KindUnknown.
func Parse(body []byte) (Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return Event{}, ErrInvalidEvent
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Event{Kind: KindUnknown, Data: Data{}}, nil
	}
	name := rawText(fields["event"])
	data := Data{}
	var v any
	if err := json.Unmarshal(fields["data"], &v); err == nil {
		if m, ok := v.(map[string]any); ok {
			data = Data(m)
		}
	}
	return Event{
		Name:      name,
		Kind:      ParseKind(name),
		CallID:    rawText(fields["call_id"]),
		Timestamp: fields["timestamp"],
		Data:      data,
	}, nil
}

// rawText reads a scalar JSON value as text. Objects, arrays and null give "".
func rawText(raw json.RawMessage) string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || v == nil {
		return ""
	}
	switch v.(type) {
	case map[string]any, []any:
		return ""
	}
	return cast.ToString(v)
}

// Data is the event-specific payload. Field types vary between provider
// versions, so accessors read values leniently.
type Data map[string]any

// Text returns the value at key as text. Numbers are formatted, other
// non-string values are JSON encoded. Missing or null gives "".
func (d Data) Text(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// TextOr returns the first non-empty value among keys, else def.
func (d Data) TextOr(def string, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(d.Text(k)); s != "" {
			return s
		}
	}
	return def
}

// Number reads a JSON number or numeric string.
func (d Data) Number(key string) (float64, bool) {
	var v any
	switch t := d[key].(type) {
	case float64, json.Number:
		v = t
	case string:
		v = strings.TrimSpace(t)
	default:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Object returns the nested object at key, or an empty Data.
func (d Data) Object(key string) Data {
	if m, ok := d[key].(map[string]any); ok {
		return Data(m)
	}
	return Data{}
}

// PaymentParams reads payment check arguments. The amount may arrive as a
// number or a numeric string; anything else counts as 0.
func (d Data) PaymentParams() payments.Params {
	amount, _ := d.Number("amount")
	return payments.Params{
		CustomerID:  d.Text("customer_id"),
		PhoneNumber: d.Text("phone_number"),
		Amount:      amount,
	}
}

// DurationSeconds reads data.duration as whole seconds. Absent, invalid or
// negative values give 0; fractions are truncated.
func (d Data) DurationSeconds() int {
	f, ok := d.Number("duration")
	if !ok || f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Trunc(f))
}
