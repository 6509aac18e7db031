// Package discover browses mDNS for network-attached bladeRF units, the
// kind exposed by remote SDR servers on a LAN.
package discover

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Service is the mDNS service type remote bladeRF servers advertise.
const Service = "_bladerf._tcp"

// Host represents a discovered network-attached device.
type Host struct {
	Instance  string // Advertised name: "bladerf on bench-pi"
	Hostname  string // DNS hostname: "bench-pi.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Serial extracts the device serial from the TXT records, if advertised.
func (h Host) Serial() string {
	for _, txt := range h.TXT {
		if v, ok := strings.CutPrefix(txt, "serial="); ok {
			return v
		}
	}
	return ""
}

// Instance labels arrive with mDNS label escapes still in place.
var unescaper = strings.NewReplacer(`\ `, " ", `\.`, ".")

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  unescaper.Replace(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// appendHost records h, replacing any earlier announcement from the same
// hostname and port so the newest TXT records win.
func appendHost(hosts []Host, seen map[string]int, h Host) []Host {
	key := fmt.Sprintf("%s|%d", h.Hostname, h.Port)
	if i, ok := seen[key]; ok {
		hosts[i] = h
		return hosts
	}
	seen[key] = len(hosts)
	return append(hosts, h)
}

// Browse sweeps the local network for remote bladeRF services until ctx
// expires, then returns the deduplicated hosts in arrival order.
func Browse(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	seen := make(map[string]int)
	var hosts []Host
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return hosts, nil
			}
			if e == nil {
				continue
			}
			hosts = appendHost(hosts, seen, hostFromEntry(e))
		case <-ctx.Done():
			return hosts, nil
		}
	}
}
