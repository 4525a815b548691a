package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// MAC is a 6-byte sensor/node address, always compared and rendered in
// canonical lowercase colon-separated form.
type MAC [6]byte

// NodeBodyMAC returns the synthetic MAC that carries a Node's own
// CPU-temperature/battery telemetry rather than a sensor reading.
func NodeBodyMAC(nodeNo int) MAC {
	var m MAC
	m[5] = byte(nodeNo)
	return m
}

// IsNodeBody reports whether mac is a synthetic node-body identifier of
// the form 00:00:00:00:00:NN.
func (m MAC) IsNodeBody() bool {
	return m[0] == 0 && m[1] == 0 && m[2] == 0 && m[3] == 0 && m[4] == 0
}

// NodeNo returns the node number encoded in a node-body MAC. Only
// meaningful when IsNodeBody is true.
func (m MAC) NodeNo() int {
	return int(m[5])
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses the canonical colon-separated form, lower-casing the
// input first so config rows pulled from the cloud (which may arrive in
// any case) always resolve to the same key.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("frame: malformed MAC %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return m, fmt.Errorf("frame: malformed MAC %q: %w", s, err)
		}
		m[i] = byte(v)
	}
	return m, nil
}
