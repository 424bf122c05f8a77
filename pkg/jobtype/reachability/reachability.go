// Package reachability implements the built-in reachability job type: an
// ICMP echo probe with a TCP/22 connect-timing fallback, both attempted
// and both reported regardless of which one the caller actually needs.
package reachability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/netraven-io/netraven-core/pkg/jobtype"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// DefaultProbeTimeout bounds both the ICMP and TCP probes.
const DefaultProbeTimeout = 5 * time.Second

// Details is the JSON shape written to JobResult.Details/Result.Details.
type Details struct {
	ICMPReachable  bool    `json:"icmp_reachable"`
	TCP22Reachable bool    `json:"tcp_22_reachable"`
	ICMPRTTMs      float64 `json:"icmp_rtt_ms,omitempty"`
	TCPRTTMs       float64 `json:"tcp_rtt_ms,omitempty"`
}

// Module implements jobtype.Module.
type Module struct {
	ProbeTimeout time.Duration
}

// New builds a reachability Module with DefaultProbeTimeout.
func New() *Module {
	return &Module{ProbeTimeout: DefaultProbeTimeout}
}

func (m *Module) Meta() jobtype.Meta {
	return jobtype.Meta{
		Label:       "Reachability Check",
		Icon:        "signal",
		Description: "Probes a device with ICMP echo and a TCP/22 connect, reporting both.",
	}
}

func (m *Module) Run(ctx context.Context, device model.DeviceWithCredential, jobID int64, cfg json.RawMessage, db *store.DB) (jobtype.Result, error) {
	timeout := m.ProbeTimeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}

	icmpOK, icmpRTT := probeICMP(ctx, device.Device.IPAddress, timeout)
	tcpOK, tcpRTT := probeTCP(ctx, device.Device.Addr(), timeout)

	details := Details{
		ICMPReachable:  icmpOK,
		TCP22Reachable: tcpOK,
	}
	if icmpOK {
		details.ICMPRTTMs = icmpRTT.Seconds() * 1000
	}
	if tcpOK {
		details.TCPRTTMs = tcpRTT.Seconds() * 1000
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return jobtype.Result{}, fmt.Errorf("reachability: marshaling details: %w", err)
	}

	return jobtype.Result{
		Success:  icmpOK || tcpOK,
		DeviceID: device.Device.ID,
		Details:  payload,
		ErrorType: func() string {
			if icmpOK || tcpOK {
				return ""
			}
			return "unreachable"
		}(),
	}, nil
}

// probeICMP sends one ICMP echo request. It requires CAP_NET_RAW (or an
// equivalent privilege) to open a raw socket; a permission failure is
// treated as "not reachable via ICMP" rather than a job error, since the
// TCP probe still runs and the caller gets a useful result either way.
func probeICMP(ctx context.Context, ip string, timeout time.Duration) (bool, time.Duration) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false, 0
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   1,
			Seq:  1,
			Data: []byte("netraven-reachability"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false, 0
	}

	dst := &net.IPAddr{IP: net.ParseIP(ip)}
	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return false, 0
	}

	rb := make([]byte, 1500)
	n, _, err := conn.ReadFrom(rb)
	if err != nil {
		return false, 0
	}
	rtt := time.Since(start)

	reply, err := icmp.ParseMessage(1, rb[:n])
	if err != nil {
		return false, 0
	}
	if reply.Type != ipv4.ICMPTypeEchoReply {
		return false, 0
	}
	return true, rtt
}

func probeTCP(ctx context.Context, addr string, timeout time.Duration) (bool, time.Duration) {
	start := time.Now()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, 0
	}
	defer conn.Close()
	return true, time.Since(start)
}
