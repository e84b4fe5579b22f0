package ftp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/migadu/ftrd/pkg/metrics"
	serverPkg "github.com/migadu/ftrd/server"
)

var errSyntax = errors.New("syntax error")

// EPRTTarget is a decoded EPRT argument.
type EPRTTarget struct {
	IPv6 bool
	Host string
	Port int
}

// Network returns the dial network for the selected address family.
func (t EPRTTarget) Network() string {
	if t.IPv6 {
		return "tcp6"
	}
	return "tcp4"
}

// Address returns host:port suitable for net.Dial.
func (t EPRTTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ErrUnknownProtocol is returned by ParseEPRTParam for an address family
// other than 1 (IPv4) or 2 (IPv6).
var ErrUnknownProtocol = errors.New("unknown network protocol")

// ParsePortParam decodes "h1,h2,h3,h4,p1,p2" and returns (p1<<8)|p2.
// The host octets are not used.
func ParsePortParam(params string) (int, error) {
	fields := strings.Split(strings.TrimSpace(params), ",")
	if len(fields) != 6 {
		return 0, fmt.Errorf("%w: expected 6 comma separated fields, got %d", errSyntax, len(fields))
	}
	hi, err := parsePortByte(fields[4])
	if err != nil {
		return 0, err
	}
	lo, err := parsePortByte(fields[5])
	if err != nil {
		return 0, err
	}
	port := hi<<8 | lo
	if port == 0 {
		return 0, fmt.Errorf("%w: port 0", errSyntax)
	}
	return port, nil
}

func parsePortByte(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: invalid port byte %q", errSyntax, s)
	}
	return n, nil
}

// ParseEPRTParam decodes "<d><proto><d><addr><d><port><d>", where <d> is the
// first character of params.
func ParseEPRTParam(params string) (EPRTTarget, error) {
	params = strings.TrimSpace(params)
	if len(params) < 4 {
		return EPRTTarget{}, fmt.Errorf("%w: %q", errSyntax, params)
	}
	fields := strings.Split(params, params[:1])
	// Leading and trailing delimiters produce empty first and last fields.
	if len(fields) != 5 || fields[0] != "" || fields[4] != "" {
		return EPRTTarget{}, fmt.Errorf("%w: %q", errSyntax, params)
	}

	var t EPRTTarget
	switch fields[1] {
	case "1":
	case "2":
		t.IPv6 = true
	default:
		return EPRTTarget{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, fields[1])
	}

	ip := net.ParseIP(fields[2])
	if ip == nil {
		return EPRTTarget{}, fmt.Errorf("%w: invalid address %q", errSyntax, fields[2])
	}
	if (ip.To4() != nil) == t.IPv6 {
		return EPRTTarget{}, fmt.Errorf("%w: address %q does not match protocol %s", ErrUnknownProtocol, fields[2], fields[1])
	}
	t.Host = ip.String()

	port, err := strconv.Atoi(fields[3])
	if err != nil || port <= 0 || port > 65535 {
		return EPRTTarget{}, fmt.Errorf("%w: invalid port %q", errSyntax, fields[3])
	}
	t.Port = port
	return t, nil
}

// formatPasvReply renders "h1,h2,h3,h4,p1,p2".
func formatPasvReply(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("passive address %s is not IPv4", ip)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port>>8, port&0xff), nil
}

// checkNoPendingChannel refuses a negotiation while an earlier cycle has not
// been consumed by a transfer or released by ABOR. A cycle whose accept
// already failed or timed out is released here.
func (s *Session) checkNoPendingChannel() (bool, error) {
	s.mutex.Lock()
	dc := s.data
	if dc != nil && dc.failed() {
		s.data = nil
	}
	pending := s.data != nil
	s.mutex.Unlock()

	if dc != nil && !pending {
		dc.abort()
		s.DebugLog("released failed %s data connection", dc.mode)
	}
	if pending {
		return false, s.reply(StatusBadSequence, "Data connection already negotiated")
	}
	return true, nil
}

func (s *Session) installChannel(dc *dataChannel) {
	s.mutex.Lock()
	s.data = dc
	s.passive = dc.mode == ModePassive
	s.mutex.Unlock()
	metrics.DataConnectionsTotal.WithLabelValues(dc.mode, "negotiated").Inc()
}

// listenPassive opens the ephemeral data listener on the control connection's
// local address.
func (s *Session) listenPassive() (net.Listener, error) {
	host, _ := serverPkg.GetHostPortFromAddr(s.conn.LocalAddr())
	if host == "" {
		return nil, errors.New("control connection has no local address")
	}
	return serverPkg.ListenReuseAddr(s.ctx, "tcp", net.JoinHostPort(host, "0"))
}

func (s *Session) handlePasv(_ string) error {
	if ok, err := s.checkNoPendingChannel(); !ok {
		return err
	}

	ln, err := s.listenPassive()
	if err != nil {
		metrics.DataConnectionsTotal.WithLabelValues(ModePassive, "failed").Inc()
		s.WarnLog("passive listen failed: %v", err)
		return s.reply(StatusCantOpenDataConn, err.Error())
	}
	host, port := serverPkg.GetHostPortFromAddr(ln.Addr())
	reply, err := formatPasvReply(net.ParseIP(host), port)
	if err != nil {
		ln.Close()
		metrics.DataConnectionsTotal.WithLabelValues(ModePassive, "failed").Inc()
		return s.reply(StatusCantOpenDataConn, err.Error())
	}

	s.installChannel(newPassiveChannel(ln, s.srv.dataTimeout))
	s.DebugLog("passive data listener on %s", ln.Addr())
	return s.reply(StatusEnterPassiveMode, reply)
}

func (s *Session) handleEpsv(params string) error {
	switch params {
	case "":
	case "1":
		return s.reply(StatusExtPortUnknownProtocol, "")
	default:
		return s.reply(StatusCommandNotImplemented, "")
	}

	if ok, err := s.checkNoPendingChannel(); !ok {
		return err
	}

	ln, err := s.listenPassive()
	if err != nil {
		metrics.DataConnectionsTotal.WithLabelValues(ModePassive, "failed").Inc()
		s.WarnLog("extended passive listen failed: %v", err)
		return s.reply(StatusCantOpenDataConn, err.Error())
	}
	_, port := serverPkg.GetHostPortFromAddr(ln.Addr())

	s.installChannel(newPassiveChannel(ln, s.srv.dataTimeout))
	s.DebugLog("extended passive data listener on %s", ln.Addr())
	return s.reply(StatusEnterExtPassiveMode, fmt.Sprintf("(|||%d|)", port))
}

func (s *Session) handlePort(params string) error {
	port, err := ParsePortParam(params)
	if err != nil {
		return s.reply(StatusSyntaxError, err.Error())
	}
	if ok, err := s.checkNoPendingChannel(); !ok {
		return err
	}

	// The client's control address is trusted over the octets it sent.
	address := net.JoinHostPort(s.RemoteIP, strconv.Itoa(port))
	return s.connectActive("tcp", address)
}

func (s *Session) handleEprt(params string) error {
	target, err := ParseEPRTParam(params)
	if err != nil {
		if errors.Is(err, ErrUnknownProtocol) {
			return s.reply(StatusExtPortUnknownProtocol, "")
		}
		return s.reply(StatusSyntaxError, err.Error())
	}
	if ok, err := s.checkNoPendingChannel(); !ok {
		return err
	}
	return s.connectActive(target.Network(), target.Address())
}

func (s *Session) connectActive(network, address string) error {
	dialer := net.Dialer{Timeout: s.srv.dataTimeout}
	conn, err := dialer.DialContext(s.ctx, network, address)
	if err != nil {
		metrics.DataConnectionsTotal.WithLabelValues(ModeActive, "failed").Inc()
		s.WarnLog("active data connection to %s failed: %v", address, err)
		return s.reply(StatusUnknownError, err.Error())
	}

	s.installChannel(newActiveChannel(conn))
	s.DebugLog("active data connection to %s", address)
	return s.reply(StatusOK, "")
}
