package scanning

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const dnsTimeout = 3 * time.Second

// Resolver answers whether a hostname resolves. Injected so tests do not
// depend on a working resolver.
type Resolver interface {
	Resolve(name string) (bool, error)
}

// DNSResolver resolves hostnames against the system's configured
// nameservers.
type DNSResolver struct {
	// ConfigPath overrides /etc/resolv.conf when set.
	ConfigPath string
}

// Resolve looks up A then AAAA records for name.
func (r *DNSResolver) Resolve(name string) (bool, error) {
	path := r.ConfigPath
	if path == "" {
		path = "/etc/resolv.conf"
	}
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to load resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return false, fmt.Errorf("no nameservers configured")
	}

	client := &dns.Client{Timeout: dnsTimeout}
	server := net.JoinHostPort(conf.Servers[0], conf.Port)

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		in, _, err := client.Exchange(msg, server)
		if err != nil {
			return false, err
		}
		if len(in.Answer) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ValidateTarget checks that a target is a plain IP, a CIDR range, or a
// resolvable hostname. Anything that could be mistaken for a scanner flag
// is rejected outright: a target never begins with "-" and never contains
// whitespace, so the builder's output stays a pure target specifier.
func ValidateTarget(target string, resolver Resolver) error {
	if target == "" {
		return fmt.Errorf("target is empty")
	}
	if strings.HasPrefix(target, "-") {
		return fmt.Errorf("target must not begin with '-'")
	}
	if strings.ContainsAny(target, " \t\n") {
		return fmt.Errorf("target must not contain whitespace")
	}

	if ip := net.ParseIP(target); ip != nil {
		return nil
	}
	if _, _, err := net.ParseCIDR(target); err == nil {
		return nil
	}

	if resolver == nil {
		resolver = &DNSResolver{}
	}
	ok, err := resolver.Resolve(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", target, err)
	}
	if !ok {
		return fmt.Errorf("hostname %q does not resolve", target)
	}
	return nil
}

// BuildArgs maps a scan configuration to the flat argument array handed to
// the spawn primitive. The array always begins with the flags forcing XML
// output on stdout and periodic progress statistics on stderr, and always
// ends with the target as the final argument. The runner passes this array
// verbatim; no element is ever concatenated into a shell string.
func BuildArgs(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	statsInterval := cfg.StatsInterval
	if statsInterval <= 0 {
		statsInterval = 2 * time.Second
	}

	args := []string{
		"-oX", "-",
		"--stats-every", formatSeconds(statsInterval),
		"-v",
		"-Pn",
	}

	switch cfg.Profile {
	case ProfileQuick:
		args = append(args, "-T4", "-F")
	case ProfileStandard:
		args = append(args, "-T3", "-sV", "--top-ports", "1000")
	case ProfileDeep:
		args = append(args, "-T3", "-sV", "-sC", "-p-")
	}

	args = append(args, "--host-timeout", formatSeconds(cfg.HostTimeout))
	args = append(args, cfg.Target)
	return args, nil
}

// formatSeconds renders a duration in the "<n>s" form nmap accepts.
func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}
