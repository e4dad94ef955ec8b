// Package scanning provides the scan-facing collaborators of the session
// core: profile-driven argument construction for the nmap subprocess, target
// validation, and parsing of the XML report into the local result model.
package scanning

import (
	"fmt"
	"time"
)

// Profile selects a whitelisted nmap invocation shape.
type Profile string

const (
	ProfileQuick    Profile = "quick"
	ProfileStandard Profile = "standard"
	ProfileDeep     Profile = "deep"
)

// Valid reports whether the profile is one of the known profiles.
func (p Profile) Valid() bool {
	switch p {
	case ProfileQuick, ProfileStandard, ProfileDeep:
		return true
	}
	return false
}

// Config describes one scan invocation. It is translated into a flat
// argument array by BuildArgs; nothing in it is ever interpolated into a
// shell command line.
type Config struct {
	// Target is a single IP, CIDR range, or resolvable hostname
	Target string
	// Profile selects the argument template
	Profile Profile
	// HostTimeout is passed to the scanner as its per-host deadline
	HostTimeout time.Duration
	// StatsInterval controls how often the scanner prints progress lines
	StatsInterval time.Duration
}

// Result contains the parsed outcome of a scan.
type Result struct {
	// Hosts contains all scanned hosts and their findings
	Hosts []Host `json:"hosts"`
	// Stats contains summary statistics about the scan
	Stats HostStats `json:"stats"`
	// ScannerVersion is the version reported by the tool, when present
	ScannerVersion string `json:"scanner_version,omitempty"`
	// Elapsed is the scan duration reported by the tool
	Elapsed float64 `json:"elapsed_seconds,omitempty"`
}

// Host represents a scanned host and its findings.
type Host struct {
	// Address is the IP address of the scanned host
	Address string `json:"address"`
	// Hostname is the reverse-resolved name, when the scanner found one
	Hostname string `json:"hostname,omitempty"`
	// Status indicates whether the host is "up" or "down"
	Status string `json:"status"`
	// Ports contains information about all scanned ports
	Ports []Port `json:"ports"`
}

// Port represents the scan results for a single port.
type Port struct {
	// Number is the port number (1-65535)
	Number uint16 `json:"number"`
	// Protocol is the transport protocol ("tcp" or "udp")
	Protocol string `json:"protocol"`
	// State indicates whether the port is "open", "closed", or "filtered"
	State string `json:"state"`
	// Service is the name of the detected service, if any
	Service string `json:"service,omitempty"`
	// Version is the version of the detected service, if available
	Version string `json:"version,omitempty"`
	// Product contains additional service details, if available
	Product string `json:"product,omitempty"`
}

// HostStats contains summary statistics about a scan.
type HostStats struct {
	// Up is the number of hosts that were up
	Up int `json:"up"`
	// Down is the number of hosts that were down
	Down int `json:"down"`
	// Total is the total number of hosts scanned
	Total int `json:"total"`
}

// OpenPortCount returns the number of open ports across all hosts.
func (r *Result) OpenPortCount() int {
	count := 0
	for _, host := range r.Hosts {
		for _, port := range host.Ports {
			if port.State == "open" {
				count++
			}
		}
	}
	return count
}

// Validate checks the scan configuration before argument construction.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("no target specified")
	}
	if !c.Profile.Valid() {
		return fmt.Errorf("invalid scan profile: %s", c.Profile)
	}
	if c.HostTimeout <= 0 {
		return fmt.Errorf("host timeout must be positive")
	}
	return nil
}
