package fcm

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// ResultField names one of the optional keys of a per-recipient result.
type ResultField string

const (
	FieldMessageID      ResultField = "message_id"
	FieldError          ResultField = "error"
	FieldRegistrationID ResultField = "registration_id"
)

// ErrorCode is a per-recipient failure reported inside a successful
// response. It is data, not a Go error.
// See https://firebase.google.com/docs/cloud-messaging/http-server-ref#error-codes
type ErrorCode string

const (
	ErrorMissingRegistration       ErrorCode = "MissingRegistration"
	ErrorInvalidRegistration       ErrorCode = "InvalidRegistration"
	ErrorNotRegistered             ErrorCode = "NotRegistered"
	ErrorInvalidPackageName        ErrorCode = "InvalidPackageName"
	ErrorMismatchSenderID          ErrorCode = "MismatchSenderId"
	ErrorMessageTooBig             ErrorCode = "MessageTooBig"
	ErrorInvalidDataKey            ErrorCode = "InvalidDataKey"
	ErrorInvalidTTL                ErrorCode = "InvalidTtl"
	ErrorUnavailable               ErrorCode = "Unavailable"
	ErrorInternalServerError       ErrorCode = "InternalServerError"
	ErrorDeviceMessageRateExceeded ErrorCode = "DeviceMessageRateExceeded"
	ErrorTopicsMessageRateExceeded ErrorCode = "TopicsMessageRateExceeded"
)

// Unregistered reports whether the token itself is unusable and should be
// removed by the sender.
func (c ErrorCode) Unregistered() bool {
	switch c {
	case ErrorNotRegistered, ErrorInvalidRegistration, ErrorMissingRegistration:
		return true
	}
	return false
}

// Retryable reports whether the same message to the same token may succeed
// later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorUnavailable, ErrorInternalServerError,
		ErrorDeviceMessageRateExceeded, ErrorTopicsMessageRateExceeded:
		return true
	}
	return false
}

// Result is the outcome for one recipient. Empty fields were absent.
type Result struct {
	MessageID      string `json:"message_id,omitempty"`
	Error          string `json:"error,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

// Field returns the value of f and whether it was present.
func (r Result) Field(f ResultField) (string, bool) {
	var v string
	switch f {
	case FieldMessageID:
		v = r.MessageID
	case FieldError:
		v = r.Error
	case FieldRegistrationID:
		v = r.RegistrationID
	}
	return v, v != ""
}

func (r Result) ErrorCode() ErrorCode {
	return ErrorCode(r.Error)
}

var requiredFields = []string{"results", "success", "failure", "canonical_ids", "multicast_id"}

// Response is the parsed outcome of one send. Build it with NewResponse or
// SetResponse; after that it is read-only.
type Response struct {
	raw         map[string]any
	multicastID int64
	success     int
	failure     int
	canonical   int
	results     []Result
	message     *Message
}

// NewResponse validates a decoded response body and attaches the message
// that was sent, which may be nil.
func NewResponse(decoded map[string]any, m *Message) (*Response, error) {
	r := &Response{message: m}
	if err := r.SetResponse(decoded); err != nil {
		return nil, err
	}
	return r, nil
}

// SetResponse replaces the stored body. On error nothing is changed.
func (r *Response) SetResponse(decoded map[string]any) error {
	for _, f := range requiredFields {
		if v, ok := decoded[f]; !ok || v == nil {
			return invalidArgument("response did not contain the proper fields: missing %q", f)
		}
	}
	results, err := parseResults(decoded["results"])
	if err != nil {
		return err
	}

	r.raw = maps.Clone(decoded)
	r.results = results
	r.success = int(toInt(decoded["success"]))
	r.failure = int(toInt(decoded["failure"]))
	r.canonical = int(toInt(decoded["canonical_ids"]))
	r.multicastID = toInt(decoded["multicast_id"])
	return nil
}

func (r *Response) SetMessage(m *Message) {
	r.message = m
}

func (r *Response) Message() *Message {
	return r.message
}

// Raw returns the decoded body as it was given to SetResponse.
func (r *Response) Raw() map[string]any {
	return maps.Clone(r.raw)
}

func (r *Response) MulticastID() int64 { return r.multicastID }
func (r *Response) SuccessCount() int  { return r.success }
func (r *Response) FailureCount() int  { return r.failure }
func (r *Response) CanonicalCount() int {
	return r.canonical
}

// Correlations returns the results in server order, keyed by registration
// id when a message is attached.
func (r *Response) Correlations() []Correlation {
	var ids []string
	if r.message != nil {
		ids = r.message.registrationIDs
	}
	return Correlate(ids, r.results)
}

// Results returns the correlated results by key.
func (r *Response) Results() map[string]Result {
	out := make(map[string]Result, len(r.results))
	for _, c := range r.Correlations() {
		// A positional key never shadows a registration id.
		if _, taken := out[c.Key]; taken && !c.Matched {
			continue
		}
		out[c.Key] = c.Result
	}
	return out
}

// Result returns a single field of every correlated result that has it,
// for example Result(FieldError) for the failed recipients.
func (r *Response) Result(f ResultField) map[string]string {
	out := make(map[string]string)
	for key, res := range r.Results() {
		if v, ok := res.Field(f); ok {
			out[key] = v
		}
	}
	return out
}

func parseResults(v any) ([]Result, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, invalidArgument("response results must be an array, got %T", v)
	}
	results := make([]Result, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalidArgument("response result %d must be an object, got %T", i, item)
		}
		results = append(results, Result{
			MessageID:      toString(obj[string(FieldMessageID)]),
			Error:          toString(obj[string(FieldError)]),
			RegistrationID: toString(obj[string(FieldRegistrationID)]),
		})
	}
	return results, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// toInt is a lenient integer conversion: numbers truncate toward zero,
// strings yield their leading integer, and anything else is 0.
func toInt(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		return toInt(t.String())
	case float64:
		return truncate(t)
	case int:
		return int64(t)
	case int64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		return leadingInt(t)
	default:
		return 0
	}
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

func leadingInt(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	if n, err := strconv.ParseInt(s[:end], 10, 64); err == nil {
		return n
	}
	// Out of range: fall back to float parsing, which saturates.
	f, _ := strconv.ParseFloat(s[:end], 64)
	return truncate(f)
}
