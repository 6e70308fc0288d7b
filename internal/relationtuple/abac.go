package relationtuple

import (
	"net/netip"

	"github.com/nexus-rebac/rebac/ketoapi"
)

// ConditionsSatisfied evaluates a tuple's ABAC conditions against a
// runtime context, per spec.md §4.1: all declared predicates must hold,
// and a missing context when conditions exist denies rather than skips.
func ConditionsSatisfied(c *ketoapi.Conditions, ctx *ketoapi.Context) bool {
	if c.Empty() {
		return true
	}
	if ctx == nil {
		return false
	}
	if c.TimeWindow != nil && !timeWindowSatisfied(c.TimeWindow, ctx) {
		return false
	}
	if len(c.AllowedIPs) > 0 && !ipAllowed(c.AllowedIPs, ctx) {
		return false
	}
	if len(c.AllowedDevices) > 0 && !deviceAllowed(c.AllowedDevices, ctx.Device) {
		return false
	}
	if len(c.Attributes) > 0 && !attributesMatch(c.Attributes, ctx.Attributes) {
		return false
	}
	return true
}

func timeWindowSatisfied(w *ketoapi.TimeWindow, ctx *ketoapi.Context) bool {
	if ctx.Time.IsZero() {
		return false
	}
	return !ctx.Time.Before(w.Start) && !ctx.Time.After(w.End)
}

func ipAllowed(cidrs []string, ctx *ketoapi.Context) bool {
	if !ctx.IP.IsValid() {
		return false
	}
	for _, raw := range cidrs {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			continue
		}
		if prefix.Contains(ctx.IP) {
			return true
		}
	}
	return false
}

func deviceAllowed(devices []string, device string) bool {
	if device == "" {
		return false
	}
	for _, d := range devices {
		if d == device {
			return true
		}
	}
	return false
}

func attributesMatch(want, have map[string]string) bool {
	if have == nil {
		return false
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
