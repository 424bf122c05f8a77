// Package model defines the shared data types read and written by the
// job orchestration core: devices, credentials, tags, jobs, job results,
// logs, and device configuration snapshots. Every other package imports
// model; model imports nothing from the rest of this module.
package model

import (
	"net"
	"strconv"
	"time"
)

// Device is a network device the core retrieves configuration from and
// probes for reachability. Devices are owned by an external collaborator
// (the web API / CLI); the core only ever reads them.
type Device struct {
	ID             int64     `db:"id" json:"id"`
	Hostname       string    `db:"hostname" json:"hostname"`
	IPAddress      string    `db:"ip_address" json:"ip_address"`
	DeviceType     string    `db:"device_type" json:"device_type"`
	Port           int       `db:"port" json:"port"`
	Description    string    `db:"description" json:"description,omitempty"`
	SerialNumber   string    `db:"serial_number" json:"serial_number,omitempty"`
	Model          string    `db:"model" json:"model,omitempty"`
	Source         string    `db:"source" json:"source,omitempty"`
	Notes          string    `db:"notes" json:"notes,omitempty"`
	LastUpdated    time.Time `db:"last_updated" json:"last_updated,omitempty"`
	UpdatedBy      string    `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Addr returns the host:port dial target for this device.
func (d Device) Addr() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(d.IPAddress, strconv.Itoa(port))
}

// DeviceWithCredential is the composite value passed into a job module's
// Run method. Device deliberately carries no credential column of its
// own; implementers must not bolt one onto Device, they pass this small
// composite instead so a device never implicitly remembers a password.
type DeviceWithCredential struct {
	Device     Device
	Credential Credential
}
