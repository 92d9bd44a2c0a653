package jobs

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/edvin/jobrunner/internal/registry"
)

// maxSweepHosts caps how many addresses one sweep may probe so a typo'd
// prefix cannot turn into a /8 scan.
const maxSweepHosts = 1024

// PingSweep probes every address in a prefix with a TCP connect against a
// well-known port and reports which hosts answered.
type PingSweep struct {
	// dial is swappable in tests.
	dial func(ctx context.Context, addr string) bool
}

func NewPingSweep() *PingSweep {
	return &PingSweep{dial: dialProbe}
}

func dialProbe(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (j *PingSweep) Meta() registry.JobMeta {
	return registry.JobMeta{
		ID:          "ping-sweep",
		Name:        "Ping sweep",
		Description: "Probes every address in a prefix and reports responsive hosts.",
		Vars: []registry.VarSpec{
			{Name: "prefix", Kind: registry.VarNetwork, Required: true,
				Description: "Prefix to sweep, e.g. 10.0.10.0/24."},
			{Name: "port", Kind: registry.VarString, Required: false, Default: "22",
				Description: "TCP port used for the probe."},
		},
		SoftTimeLimit: 10 * time.Minute,
		HardTimeLimit: 15 * time.Minute,
	}
}

func (j *PingSweep) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	raw := rc.Args["prefix"].(string)
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		// A bare address sweeps itself.
		addr, aerr := netip.ParseAddr(raw)
		if aerr != nil {
			return nil, fmt.Errorf("parse prefix %q: %w", raw, err)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}
	port, _ := rc.Args["port"].(string)

	var alive []string
	probed := 0
	for addr := prefix.Masked().Addr(); prefix.Contains(addr); addr = addr.Next() {
		if probed >= maxSweepHosts {
			rc.Log.Warning(ctx, fmt.Sprintf("stopping sweep at %d hosts", maxSweepHosts))
			break
		}
		select {
		case <-rc.SoftExpired:
			rc.Log.Warning(ctx, fmt.Sprintf("time limit reached after %d hosts", probed))
			return map[string]any{"probed": probed, "alive": alive, "partial": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if rc.DryRun {
			rc.Log.Debug(ctx, "dry run, skipping "+addr.String())
		} else if j.dial(ctx, net.JoinHostPort(addr.String(), port)) {
			alive = append(alive, addr.String())
			rc.Log.Info(ctx, addr.String()+" is up")
		}
		probed++
	}

	rc.Log.Success(ctx, fmt.Sprintf("swept %d hosts, %d alive", probed, len(alive)))
	return map[string]any{"probed": probed, "alive": alive, "partial": false}, nil
}
