package server

import (
	"net"
	"strconv"
)

// GetHostPortFromAddr splits addr into host and numeric port. A nil addr
// yields ("", 0); an addr without a parseable port yields port 0.
func GetHostPortFromAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case nil:
		return "", 0
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	}

	host, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}
