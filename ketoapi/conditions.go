package ketoapi

import (
	"encoding/json"
	"net/netip"
	"time"
)

// Conditions is the ABAC predicate attached to a tuple. All non-nil
// sub-predicates must hold for the tuple to apply; missing context for a
// declared predicate denies rather than skips it (spec §4.1).
type Conditions struct {
	TimeWindow     *TimeWindow       `json:"time_window,omitempty"`
	AllowedIPs     []string          `json:"allowed_ips,omitempty"`
	AllowedDevices []string          `json:"allowed_devices,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// TimeWindow bounds a tuple's validity to an absolute interval, inclusive
// on both ends. Start and End are full timestamps; a recurring daily window
// (a time-of-day range) is not supported.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Context is the runtime evaluation context supplied with a check: the
// caller's time, IP, device, and free-form attributes, matched against a
// tuple's Conditions.
type Context struct {
	Time       time.Time
	IP         netip.Addr
	Device     string
	Attributes map[string]string
}

// Empty reports whether no conditions are attached, i.e. the tuple applies
// unconditionally.
func (c *Conditions) Empty() bool {
	return c == nil ||
		(c.TimeWindow == nil && len(c.AllowedIPs) == 0 && len(c.AllowedDevices) == 0 && len(c.Attributes) == 0)
}

// MarshalConditions serializes Conditions to its wire JSON form, returning
// nil for an empty/nil receiver (conditions are always optional on the
// wire).
func MarshalConditions(c *Conditions) (json.RawMessage, error) {
	if c.Empty() {
		return nil, nil
	}
	return json.Marshal(c)
}

// UnmarshalConditions parses the wire JSON form of Conditions. A nil or
// empty raw value yields a nil *Conditions.
func UnmarshalConditions(raw json.RawMessage) (*Conditions, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c Conditions
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
