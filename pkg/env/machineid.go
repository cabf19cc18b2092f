// Package env derives the identity of the host running the gateway.
package env

import (
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID keys the protected machine id so it is not the raw host id.
const AppID = "radiogw"

// idLen is the length of the id suffix.
const idLen = 12

// MachineID returns a stable id for this host, derived from the machine id.
// It falls back to the hostname if the machine id is unavailable.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil && len(id) >= idLen {
		return id[:idLen]
	}
	glog.Warningf("machine id unavailable (%v), using hostname", err)
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return strings.ToLower(host)
}

// GatewayID returns the default gateway id.
func GatewayID() string {
	return "gw-" + MachineID()
}
