package cli

import (
	"strings"

	"github.com/frobware/go-p4bridge/ofconn"
)

// SwitchTarget is a validated OpenFlow switch address.
type SwitchTarget struct {
	Target  string
	Network string
	Addr    string
}

// ParseSwitchTarget parses "tcp:host:port" or "unix:/path".
func ParseSwitchTarget(s string) (SwitchTarget, error) {
	s = strings.TrimSpace(s)
	network, addr, err := ofconn.ParseTarget(s)
	if err != nil {
		return SwitchTarget{}, err
	}
	return SwitchTarget{Target: s, Network: network, Addr: addr}, nil
}

// IsSet reports whether a target was given.
func (t SwitchTarget) IsSet() bool {
	return t.Target != ""
}
