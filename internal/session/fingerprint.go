// AngelaMos | 2026
// fingerprint.go

// Package session guards the legacy cookie-based sessions that predate the
// token flow: it binds each session to a client fingerprint and rotates the
// session identifier on a fixed interval to bound the exposure of a leaked
// id.
package session

import (
	"net"
	"time"
)

// Fingerprint is the client-identifying metadata recorded on the first
// request of a legacy session.
type Fingerprint struct {
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	CreatedAt     time.Time `json:"created_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
}

func (f Fingerprint) IsZero() bool {
	return f.IPAddress == "" && f.UserAgent == ""
}

// ComparePolicy decides whether a request's fingerprint still matches the
// one bound to the session. Implementations are swappable without touching
// call sites; the mode is picked from configuration.
type ComparePolicy interface {
	Match(recorded, current Fingerprint) bool
	Name() string
}

// PolicyFromMode maps a configuration value to a policy. Unknown modes fall
// back to subnet matching, the default.
func PolicyFromMode(mode string) ComparePolicy {
	switch mode {
	case "strict":
		return StrictPolicy{}
	case "off":
		return DisabledPolicy{}
	default:
		return SubnetPolicy{}
	}
}

// StrictPolicy requires exact IP and user-agent equality.
type StrictPolicy struct{}

func (StrictPolicy) Name() string { return "strict" }

func (StrictPolicy) Match(recorded, current Fingerprint) bool {
	return recorded.IPAddress == current.IPAddress &&
		recorded.UserAgent == current.UserAgent
}

// SubnetPolicy tolerates IP movement within the same /24 (IPv4) or /64
// (IPv6) while still requiring an exact user-agent match. Mobile clients
// hop addresses inside one carrier subnet far more often than attackers
// land in it.
type SubnetPolicy struct{}

func (SubnetPolicy) Name() string { return "subnet" }

func (SubnetPolicy) Match(recorded, current Fingerprint) bool {
	if recorded.UserAgent != current.UserAgent {
		return false
	}
	return sameSubnet(recorded.IPAddress, current.IPAddress)
}

// DisabledPolicy accepts everything; rotation still applies.
type DisabledPolicy struct{}

func (DisabledPolicy) Name() string { return "off" }

func (DisabledPolicy) Match(recorded, current Fingerprint) bool {
	return true
}

func sameSubnet(a, b string) bool {
	if a == b {
		return true
	}

	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return false
	}

	if v4A, v4B := ipA.To4(), ipB.To4(); v4A != nil && v4B != nil {
		mask := net.CIDRMask(24, 32)
		return v4A.Mask(mask).Equal(v4B.Mask(mask))
	}

	if ipA.To4() == nil && ipB.To4() == nil {
		mask := net.CIDRMask(64, 128)
		return ipA.Mask(mask).Equal(ipB.Mask(mask))
	}

	return false
}
