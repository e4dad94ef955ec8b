package scanning

import (
	"bytes"
	"fmt"

	"github.com/Ullaakut/nmap/v3"
)

// Parse converts the raw XML report captured from the subprocess's stdout
// into the local result model. Empty or whitespace-only output is an error:
// the tool exited without producing a report, which the finalizer must treat
// as a failed scan even when the exit code was zero.
func Parse(raw []byte) (*Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("scanner produced no output")
	}

	run := &nmap.Run{}
	if err := nmap.Parse(raw, run); err != nil {
		return nil, fmt.Errorf("malformed scanner output: %w", err)
	}

	return fromRun(run), nil
}

// fromRun converts the nmap library's XML model into our format.
func fromRun(run *nmap.Run) *Result {
	result := &Result{
		Stats: HostStats{
			Up:    run.Stats.Hosts.Up,
			Down:  run.Stats.Hosts.Down,
			Total: run.Stats.Hosts.Total,
		},
		ScannerVersion: run.Version,
		Elapsed:        float64(run.Stats.Finished.Elapsed),
		Hosts:          make([]Host, 0, len(run.Hosts)),
	}

	for i := range run.Hosts {
		if host := fromNmapHost(&run.Hosts[i]); host != nil {
			result.Hosts = append(result.Hosts, *host)
		}
	}

	return result
}

// fromNmapHost converts a single nmap host; hosts without an address are
// skipped.
func fromNmapHost(h *nmap.Host) *Host {
	if len(h.Addresses) == 0 {
		return nil
	}

	host := &Host{
		Address: h.Addresses[0].Addr,
		Status:  h.Status.State,
		Ports:   make([]Port, 0, len(h.Ports)),
	}

	if len(h.Hostnames) > 0 {
		host.Hostname = h.Hostnames[0].Name
	}

	for j := range h.Ports {
		p := &h.Ports[j]
		host.Ports = append(host.Ports, Port{
			Number:   p.ID,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Version:  p.Service.Version,
			Product:  p.Service.Product,
		})
	}

	return host
}
