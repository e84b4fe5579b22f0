package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// HostType classifies a configured host value.
type HostType int

const (
	HostInvalid HostType = iota
	HostIPv4
	HostIPv6
	HostDomain
	HostLocalhost
)

func (t HostType) String() string {
	switch t {
	case HostIPv4:
		return "ipv4"
	case HostIPv6:
		return "ipv6"
	case HostDomain:
		return "domain"
	case HostLocalhost:
		return "localhost"
	default:
		return "invalid"
	}
}

// ClassifyHost tells an IPv4 literal, an IPv6 literal, "localhost" and a
// syntactically valid domain name apart. Anything else is HostInvalid.
func ClassifyHost(host string) HostType {
	host = strings.TrimSpace(host)
	if host == "" {
		return HostInvalid
	}
	if strings.EqualFold(host, "localhost") {
		return HostLocalhost
	}
	// Bracketed IPv6 literals are accepted as written in URLs.
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil && !strings.Contains(host, ":") {
			return HostIPv4
		}
		return HostIPv6
	}
	if isDomainName(host) {
		return HostDomain
	}
	return HostInvalid
}

func isDomainName(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	allDigits := true
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
				allDigits = false
			case c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	// "1.2.3" is neither an address nor a name.
	return !allDigits
}

// Resolver is the subset of net.Resolver used by ResolveHost.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ResolveHost returns the candidate listen addresses for host and port in
// the order they should be tried.
func ResolveHost(ctx context.Context, resolver Resolver, host string, port int) ([]string, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	portStr := strconv.Itoa(port)

	switch ClassifyHost(host) {
	case HostIPv4:
		return []string{net.JoinHostPort(host, portStr)}, nil
	case HostIPv6:
		return []string{net.JoinHostPort(strings.Trim(host, "[]"), portStr)}, nil
	case HostLocalhost:
		return []string{
			net.JoinHostPort("127.0.0.1", portStr),
			net.JoinHostPort("::1", portStr),
		}, nil
	case HostDomain:
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses found for %s", host)
		}
		candidates := make([]string, 0, len(addrs))
		for _, a := range addrs {
			candidates = append(candidates, net.JoinHostPort(a.IP.String(), portStr))
		}
		return candidates, nil
	default:
		return nil, fmt.Errorf("invalid host %q", host)
	}
}
