package driver

import "time"

// Platform describes the commands and timeouts a job module should use
// for one device_type. The driver itself stays vendor-agnostic; only job
// modules (pkg/jobtype) consult this table.
type Platform struct {
	ShowConfigCommand     string
	ReachabilityCommands  []string
	CommandTimeouts       map[string]time.Duration
	CapabilityProbes      []string
}

// DefaultCommandTimeout is used for any command the platform's
// CommandTimeouts map doesn't mention explicitly.
const DefaultCommandTimeout = 30 * time.Second

// platforms is seeded with the device_type keys this core recognizes
// out of the box; callers may register more via RegisterPlatform.
var platforms = map[string]Platform{
	"cisco_ios": {
		ShowConfigCommand:    "show running-config",
		ReachabilityCommands: []string{"show clock"},
		CommandTimeouts: map[string]time.Duration{
			"show running-config": 60 * time.Second,
		},
	},
	"arista_eos": {
		ShowConfigCommand:    "show running-config",
		ReachabilityCommands: []string{"show version"},
		CommandTimeouts: map[string]time.Duration{
			"show running-config": 60 * time.Second,
		},
	},
	"juniper_junos": {
		ShowConfigCommand:    "show configuration | display set",
		ReachabilityCommands: []string{"show system uptime"},
		CommandTimeouts: map[string]time.Duration{
			"show configuration | display set": 60 * time.Second,
		},
	},
	"sonic": {
		ShowConfigCommand:    "sonic-cfggen -d --print-data",
		ReachabilityCommands: []string{"show version"},
		CommandTimeouts: map[string]time.Duration{
			"sonic-cfggen -d --print-data": 45 * time.Second,
		},
		CapabilityProbes: []string{"show platform summary"},
	},
}

// Lookup returns the Platform for a device_type, or an
// *UnknownPlatformError.
func Lookup(deviceType string) (Platform, error) {
	p, ok := platforms[deviceType]
	if !ok {
		return Platform{}, &UnknownPlatformError{DeviceType: deviceType}
	}
	return p, nil
}

// RegisterPlatform adds or overrides a device_type's command table.
func RegisterPlatform(deviceType string, p Platform) {
	platforms[deviceType] = p
}

// CommandTimeout returns the configured timeout for a command, or
// DefaultCommandTimeout if the platform doesn't override it.
func (p Platform) CommandTimeout(command string) time.Duration {
	if d, ok := p.CommandTimeouts[command]; ok {
		return d
	}
	return DefaultCommandTimeout
}

// UnknownPlatformError means device_type has no registered command
// table. Treated the same as a job-type contract violation: non-retriable.
type UnknownPlatformError struct {
	DeviceType string
}

func (e *UnknownPlatformError) Error() string {
	return "unknown platform: " + e.DeviceType
}
