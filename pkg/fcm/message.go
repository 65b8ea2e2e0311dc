package fcm

import (
	"encoding/json"
	"maps"
	"slices"
)

// DefaultTimeToLive is the server-side default of four weeks, in seconds.
const DefaultTimeToLive = 2419200

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is a downstream message for the legacy HTTP API.
//
// Create one with NewMessage; the zero value carries no defaults. A Message
// is a mutable builder and is not safe for concurrent use. The
// order of registration ids matters: the response results come back in
// the same order and are matched against them (see Correlate).
type Message struct {
	registrationIDs       []string
	collapseKey           string
	priority              Priority
	data                  map[string]any
	notification          map[string]any
	delayWhileIdle        bool
	timeToLive            int
	restrictedPackageName string
	dryRun                bool
}

func NewMessage() *Message {
	return &Message{
		priority:   PriorityNormal,
		timeToLive: DefaultTimeToLive,
	}
}

// --- Registration ids ---

// SetRegistrationIDs replaces the recipients. Either every id is accepted
// or the message is left unchanged.
func (m *Message) SetRegistrationIDs(ids []string) error {
	for i, id := range ids {
		if id == "" {
			return invalidArgument("registration id at position %d must be a non-empty string", i)
		}
	}
	m.ClearRegistrationIDs()
	for _, id := range ids {
		m.appendRegistrationID(id)
	}
	return nil
}

// AddRegistrationID appends id unless it is already present.
func (m *Message) AddRegistrationID(id string) error {
	if id == "" {
		return invalidArgument("registration id must be a non-empty string")
	}
	m.appendRegistrationID(id)
	return nil
}

func (m *Message) appendRegistrationID(id string) {
	if !slices.Contains(m.registrationIDs, id) {
		m.registrationIDs = append(m.registrationIDs, id)
	}
}

func (m *Message) ClearRegistrationIDs() *Message {
	m.registrationIDs = nil
	return m
}

func (m *Message) RegistrationIDs() []string {
	return slices.Clone(m.registrationIDs)
}

// --- Collapse key ---

func (m *Message) SetCollapseKey(key string) error {
	if key == "" {
		return invalidArgument("collapse key must be a non-empty string; use ClearCollapseKey to unset it")
	}
	m.collapseKey = key
	return nil
}

func (m *Message) ClearCollapseKey() *Message {
	m.collapseKey = ""
	return m
}

func (m *Message) CollapseKey() string {
	return m.collapseKey
}

// --- Priority ---

func (m *Message) SetPriority(p Priority) error {
	if p == "" {
		return invalidArgument("priority must be a non-empty string; use ClearPriority to unset it")
	}
	m.priority = p
	return nil
}

// ClearPriority removes the priority so it is not sent at all.
func (m *Message) ClearPriority() *Message {
	m.priority = ""
	return m
}

func (m *Message) Priority() Priority {
	return m.priority
}

// --- Data and notification payloads ---

// AddData sets a single data key. Keys are write-once: re-adding a key
// fails with ErrConflict even if the value is identical.
func (m *Message) AddData(key string, value any) error {
	return addField(&m.data, "data", key, value)
}

// SetData replaces the data payload. Either every entry is accepted or the
// message is left unchanged.
func (m *Message) SetData(data map[string]any) error {
	return setFields(&m.data, "data", data)
}

func (m *Message) ClearData() *Message {
	m.data = nil
	return m
}

func (m *Message) Data() map[string]any {
	return maps.Clone(m.data)
}

// AddNotification sets a single notification key with the same write-once
// rule as AddData.
func (m *Message) AddNotification(key string, value any) error {
	return addField(&m.notification, "notification", key, value)
}

func (m *Message) SetNotification(notification map[string]any) error {
	return setFields(&m.notification, "notification", notification)
}

func (m *Message) ClearNotification() *Message {
	m.notification = nil
	return m
}

func (m *Message) Notification() map[string]any {
	return maps.Clone(m.notification)
}

func addField(dst *map[string]any, field, key string, value any) error {
	if key == "" {
		return invalidArgument("%s key must be a non-empty string", field)
	}
	if _, exists := (*dst)[key]; exists {
		return conflict("%s key %q conflicts with current set data", field, key)
	}
	if *dst == nil {
		*dst = make(map[string]any)
	}
	(*dst)[key] = value
	return nil
}

func setFields(dst *map[string]any, field string, src map[string]any) error {
	if _, ok := src[""]; ok {
		return invalidArgument("%s key must be a non-empty string", field)
	}
	*dst = nil
	if len(src) > 0 {
		*dst = maps.Clone(src)
	}
	return nil
}

// --- Scalar options ---

func (m *Message) SetDelayWhileIdle(delay bool) *Message {
	m.delayWhileIdle = delay
	return m
}

func (m *Message) DelayWhileIdle() bool {
	return m.delayWhileIdle
}

// SetTimeToLive sets the TTL in seconds. The value is not validated; the
// server rejects out-of-range values per recipient with InvalidTtl.
func (m *Message) SetTimeToLive(seconds int) *Message {
	m.timeToLive = seconds
	return m
}

func (m *Message) TimeToLive() int {
	return m.timeToLive
}

func (m *Message) SetRestrictedPackageName(name string) error {
	if name == "" {
		return invalidArgument("restricted package name must be a non-empty string; use ClearRestrictedPackageName to unset it")
	}
	m.restrictedPackageName = name
	return nil
}

func (m *Message) ClearRestrictedPackageName() *Message {
	m.restrictedPackageName = ""
	return m
}

func (m *Message) RestrictedPackageName() string {
	return m.restrictedPackageName
}

func (m *Message) SetDryRun(dryRun bool) *Message {
	m.dryRun = dryRun
	return m
}

func (m *Message) DryRun() bool {
	return m.dryRun
}

// --- Serialization ---

// wireMessage is the request body. Field order is the emission order.
type wireMessage struct {
	RegistrationIDs       []string       `json:"registration_ids,omitempty"`
	CollapseKey           string         `json:"collapse_key,omitempty"`
	Priority              Priority       `json:"priority,omitempty"`
	Data                  map[string]any `json:"data,omitempty"`
	Notification          map[string]any `json:"notification,omitempty"`
	DelayWhileIdle        bool           `json:"delay_while_idle,omitempty"`
	TimeToLive            *int           `json:"time_to_live,omitempty"`
	RestrictedPackageName string         `json:"restricted_package_name,omitempty"`
	DryRun                bool           `json:"dry_run,omitempty"`
}

// wire is the only place that decides which fields are sent. Everything at
// its default is omitted, except priority, which is sent whenever set.
func (m *Message) wire() wireMessage {
	w := wireMessage{
		RegistrationIDs:       m.registrationIDs,
		CollapseKey:           m.collapseKey,
		Priority:              m.priority,
		Data:                  m.data,
		Notification:          m.notification,
		DelayWhileIdle:        m.delayWhileIdle,
		RestrictedPackageName: m.restrictedPackageName,
		DryRun:                m.dryRun,
	}
	if m.timeToLive != DefaultTimeToLive {
		ttl := m.timeToLive
		w.TimeToLive = &ttl
	}
	return w
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// JSON returns the request body as a string.
func (m *Message) JSON() (string, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
