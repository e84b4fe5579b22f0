package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/migadu/ftrd/config"
	"github.com/migadu/ftrd/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t     *testing.T
	root  string // account root on disk
	srv   *Server
	addr  string
	errCh chan error
}

func newTestEnv(t *testing.T, options Options, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "alice"), 0755))

	cfg := config.NewDefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Root = base
	cfg.DataTimeout = "5s"
	cfg.Users = []config.UserConfig{
		{Username: "alice", Password: "secret", Root: "/alice"},
		{Username: "nohome", Password: "secret", Root: "/missing"},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	srv, err := New(context.Background(), &cfg, options)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	env := &testEnv{
		t:     t,
		root:  filepath.Join(base, "alice"),
		srv:   srv,
		addr:  srv.Addr().String(),
		errCh: make(chan error, 1),
	}
	go srv.Start(env.errCh)
	t.Cleanup(srv.Close)
	return env
}

func (e *testEnv) writeFile(name, content string) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(filepath.Join(e.root, name), []byte(content), 0644))
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (e *testEnv) dial() *testClient {
	e.t.Helper()
	conn, err := net.DialTimeout("tcp", e.addr, 2*time.Second)
	require.NoError(e.t, err)
	c := &testClient{t: e.t, conn: conn, r: bufio.NewReader(conn)}
	e.t.Cleanup(func() { conn.Close() })
	c.expect(220)
	return c
}

func (e *testEnv) login() *testClient {
	c := e.dial()
	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "reading reply")
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) expect(code int) string {
	c.t.Helper()
	line := c.readLine()
	require.True(c.t, strings.HasPrefix(line, strconv.Itoa(code)), "expected %d, got %q", code, line)
	return line
}

func (c *testClient) cmd(line string, code int) string {
	c.t.Helper()
	c.send(line)
	return c.expect(code)
}

// pasv negotiates passive mode and connects to the advertised port.
func (c *testClient) pasv() net.Conn {
	c.t.Helper()
	reply := c.cmd("PASV", 227)
	fields := strings.Split(reply[strings.LastIndex(reply, " ")+1:], ",")
	require.Len(c.t, fields, 6, "reply %q", reply)
	p1, _ := strconv.Atoi(fields[4])
	p2, _ := strconv.Atoi(fields[5])
	host := strings.Join(fields[:4], ".")

	data, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(p1<<8|p2)), 2*time.Second)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { data.Close() })
	return data
}

func readAll(t *testing.T, conn net.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func TestEndToEndPassiveRetrieve(t *testing.T) {
	env := newTestEnv(t, Options{})
	content := strings.Repeat("0123456789abcdef", 1000) // spans several chunks
	env.writeFile("notes.txt", content)

	c := env.dial()
	c.cmd("CWD /", 530)
	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	assert.Equal(t, `257 Path created. "/" is current directory`, c.cmd("PWD", 257))

	data := c.pasv()
	c.send("RETR notes.txt")
	assert.Equal(t, content, readAll(t, data))
	c.expect(200)
}

func TestEndToEndPassiveRetrieveWithHistory(t *testing.T) {
	history, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	env := newTestEnv(t, Options{History: history})
	env.writeFile("a.txt", "payload")

	c := env.login()
	data := c.pasv()
	c.send("RETR a.txt")
	assert.Equal(t, "payload", readAll(t, data))
	c.expect(200)

	transfers, err := history.TransfersForUser(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "RETR", transfers[0].Command)
	assert.Equal(t, "/a.txt", transfers[0].Path)
	assert.EqualValues(t, 7, transfers[0].Bytes)
	assert.Equal(t, db.ResultOK, transfers[0].Result)
	assert.Len(t, transfers[0].Digest, 64)
}

func TestUnknownUserLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()

	c.cmd("USER bob", 430)
	c.cmd("PASS secret", 503)

	c.cmd("USER alice", 331)
	c.cmd("USER bob", 430)
	// The earlier known username is still pending.
	c.cmd("PASS secret", 230)
}

func TestPassMustMatchSameUser(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()

	c.cmd("USER alice", 331)
	c.cmd("PASS wrong", 430)
	c.cmd("PWD", 530)
	c.cmd("PASS secret", 230)
	c.cmd("PWD", 257)
}

func TestPassFailsWhenRootMissing(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()

	c.cmd("USER nohome", 331)
	c.cmd("PASS secret", 550)
	c.cmd("PWD", 530)
}

func TestFailedCwdKeepsDirectory(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "sub"), 0755))
	env.writeFile("file.txt", "x")

	c := env.login()
	c.cmd("CWD sub", 250)
	before := c.cmd("PWD", 257)
	c.cmd("CWD missing", 550)
	c.cmd("CWD /file.txt", 550)
	assert.Equal(t, before, c.cmd("PWD", 257))
	assert.Contains(t, before, `"/sub"`)

	assert.Contains(t, c.cmd("CDUP", 200), `"/" is current directory`)
	c.cmd("XCUP", 200)
	assert.Contains(t, c.cmd("PWD", 257), `"/"`)
}

func TestRenameLastRnfrWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("first.txt", "1")
	env.writeFile("second.txt", "2")

	c := env.login()
	c.cmd("RNFR first.txt", 350)
	c.cmd("RNFR second.txt", 350)
	c.cmd("RNTO renamed.txt", 250)

	assert.FileExists(t, filepath.Join(env.root, "first.txt"))
	assert.NoFileExists(t, filepath.Join(env.root, "second.txt"))
	data, err := os.ReadFile(filepath.Join(env.root, "renamed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestFailedRnfrDropsPendingSource(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("old.txt", "old")

	c := env.login()
	c.cmd("RNFR old.txt", 350)
	c.cmd("RNFR nosuch.txt", 550)
	c.cmd("RNTO target.txt", 501)

	assert.FileExists(t, filepath.Join(env.root, "old.txt"))
	assert.NoFileExists(t, filepath.Join(env.root, "target.txt"))
}

func TestRntoWithoutRnfr(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("a.txt", "a")

	c := env.login()
	c.cmd("RNTO b.txt", 501)
	assert.FileExists(t, filepath.Join(env.root, "a.txt"))
	assert.NoFileExists(t, filepath.Join(env.root, "b.txt"))

	// A failed rename still clears the pending source.
	c.cmd("RNFR a.txt", 350)
	c.cmd("RNTO missing/b.txt", 550)
	c.cmd("RNTO b.txt", 501)
	assert.FileExists(t, filepath.Join(env.root, "a.txt"))

	c.cmd("RNFR a.txt", 350)
	c.cmd("RNTO", 501)
	c.cmd("RNTO b.txt", 501)
}

func TestDirectoryCommands(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()

	assert.Contains(t, c.cmd("MKD photos", 200), "Directory /photos created")
	assert.DirExists(t, filepath.Join(env.root, "photos"))
	c.cmd("MKD photos", 550)
	c.cmd("XMKD photos/2024", 200)

	env.writeFile("photos/2024/a.jpg", "jpg")
	c.cmd("DELE photos", 550)
	assert.Contains(t, c.cmd("DELE photos/2024/a.jpg", 250), "File /photos/2024/a.jpg deleted")
	c.cmd("DELE photos/2024/a.jpg", 550)

	assert.Contains(t, c.cmd("RMD photos", 250), "Directory /photos removed")
	assert.NoDirExists(t, filepath.Join(env.root, "photos"))
	c.cmd("RMD photos", 550)
	c.cmd("RMD /", 550)
	c.cmd("MKD", 501)
}

func TestStoreAppendAndUnique(t *testing.T) {
	history, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	env := newTestEnv(t, Options{History: history})
	c := env.login()

	data := c.pasv()
	c.send("STOR up.txt")
	_, err = data.Write([]byte("hello"))
	require.NoError(t, err)
	data.Close()
	c.expect(200)

	data = c.pasv()
	c.send("APPE up.txt")
	_, err = data.Write([]byte(" world"))
	require.NoError(t, err)
	data.Close()
	c.expect(200)

	got, err := os.ReadFile(filepath.Join(env.root, "up.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	data = c.pasv()
	c.send("STOU")
	_, err = data.Write([]byte("unique"))
	require.NoError(t, err)
	data.Close()
	reply := c.expect(200)
	name := reply[strings.LastIndex(reply, " ")+1:]
	assert.True(t, strings.HasPrefix(name, "ftrd."), "reply %q", reply)
	got, err = os.ReadFile(filepath.Join(env.root, name))
	require.NoError(t, err)
	assert.Equal(t, "unique", string(got))

	recent, err := history.RecentTransfers(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "STOU", recent[0].Command)
	assert.Equal(t, "APPE", recent[1].Command)
	assert.Equal(t, "STOR", recent[2].Command)
	assert.EqualValues(t, 5, recent[2].Bytes)
}

func TestListAndNlst(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("b.txt", "bbb")
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "a"), 0755))

	c := env.login()

	data := c.pasv()
	c.send("NLST")
	assert.Equal(t, "a\r\nb.txt\r\n", readAll(t, data))
	c.expect(200)

	data = c.pasv()
	c.send("LIST -la")
	lines := strings.Split(strings.TrimSpace(readAll(t, data)), "\r\n")
	c.expect(200)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "d"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], " a"), lines[0])
	assert.Contains(t, lines[1], " 3 ")
	assert.True(t, strings.HasSuffix(lines[1], " b.txt"), lines[1])

	c.pasv()
	c.cmd("LIST missing", 550)
	// The failed LIST released the channel; a new one can be negotiated.
	c.pasv()
	c.cmd("ABOR", 226)
}

func TestStatOverControlChannel(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("b.txt", "bbb")

	c := env.dial()
	assert.Equal(t, "211 System status. Server OK", c.cmd("STAT", 211))
	c.cmd("STAT b.txt", 530)

	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	reply := c.cmd("STAT b.txt", 211)
	assert.True(t, strings.HasSuffix(reply, " b.txt"), reply)
}

func TestActivePort(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("a.txt", "active bytes")

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	c := env.login()
	c.cmd(fmt.Sprintf("PORT 127,0,0,1,%d,%d", port>>8, port&0xff), 200)

	data, err := ln.Accept()
	require.NoError(t, err)
	defer data.Close()

	c.send("RETR a.txt")
	assert.Equal(t, "active bytes", readAll(t, data))
	c.expect(200)
}

func TestActiveEprt(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("a.txt", "extended")

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	c := env.login()
	c.cmd("EPRT |3|127.0.0.1|21|", 522)
	c.cmd("EPRT garbage", 501)
	c.cmd(fmt.Sprintf("EPRT |1|127.0.0.1|%d|", port), 200)

	data, err := ln.Accept()
	require.NoError(t, err)
	defer data.Close()

	c.send("RETR a.txt")
	assert.Equal(t, "extended", readAll(t, data))
	c.expect(200)
}

func TestActivePortConnectFailure(t *testing.T) {
	env := newTestEnv(t, Options{})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := env.login()
	c.cmd(fmt.Sprintf("PORT 127,0,0,1,%d,%d", port>>8, port&0xff), 500)
	c.cmd("PORT 1,2,3", 501)
}

func TestEpsvReplies(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("a.txt", "via epsv")

	c := env.login()
	c.cmd("EPSV 1", 522)
	c.cmd("EPSV 2", 502)
	c.cmd("EPSV ALL", 502)

	reply := c.cmd("EPSV", 229)
	start := strings.Index(reply, "(|||")
	require.GreaterOrEqual(t, start, 0, reply)
	portStr := strings.TrimSuffix(reply[start+4:], "|)")
	data, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", portStr), 2*time.Second)
	require.NoError(t, err)
	defer data.Close()

	c.send("RETR a.txt")
	assert.Equal(t, "via epsv", readAll(t, data))
	c.expect(200)
}

func TestTransferWithoutChannel(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writeFile("a.txt", "a")

	c := env.login()
	c.cmd("RETR a.txt", 425)
	c.cmd("LIST", 425)
	c.cmd("STOR b.txt", 425)
}

func TestSecondNegotiationRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()

	c.cmd("PASV", 227)
	c.cmd("PASV", 503)
	c.cmd("EPSV", 503)
	c.cmd("PORT 127,0,0,1,117,28", 503)

	// ABOR on an idle channel releases it.
	c.cmd("ABOR", 226)
	c.cmd("PASV", 227)
}

func TestTimedOutPassiveChannelIsReleased(t *testing.T) {
	env := newTestEnv(t, Options{}, func(cfg *config.Config) {
		cfg.DataTimeout = "200ms"
	})
	env.writeFile("a.txt", "after timeout")

	c := env.login()
	c.cmd("PASV", 227)
	// Nobody connects; the passive accept times out.
	time.Sleep(500 * time.Millisecond)

	data := c.pasv()
	c.send("RETR a.txt")
	assert.Equal(t, "after timeout", readAll(t, data))
	c.expect(200)
}

func TestFailedOpenKeepsSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()

	c.pasv()
	c.cmd("RETR missing.txt", 451)
	c.pasv()
	c.cmd("STOR nodir/up.txt", 451)

	// The session survives and the failed opens released their channels.
	c.cmd("PWD", 257)
	c.cmd("PASV", 227)
}

func TestAborWithoutChannel(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()
	c.cmd("ABOR", 226)
}

func TestAborDuringTransfer(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()

	data := c.pasv()
	c.send("STOR never-finished.bin")
	_, err := data.Write([]byte("partial"))
	require.NoError(t, err)

	// The transfer is in flight; only a handful of commands are accepted.
	c.cmd("PWD", 503)
	c.cmd("NOOP", 200)

	c.send("ABOR")
	c.expect(426)
	c.expect(226)

	// The server closed its end of the data connection.
	_ = data.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = data.Read(make([]byte, 1))
	assert.Error(t, err)

	c.cmd("PWD", 257)
}

func TestReinAndQuit(t *testing.T) {
	env := newTestEnv(t, Options{})

	c := env.dial()
	c.cmd("REIN", 530)

	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	c.cmd("TYPE I", 200)
	c.cmd("PASV", 227)
	c.cmd("REIN", 220)
	c.cmd("PWD", 530)

	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	// REIN released the pending channel.
	c.cmd("PASV", 227)

	c.cmd("QUIT", 221)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAcct(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()
	c.cmd("ACCT alice", 530)

	c.cmd("USER alice", 331)
	c.cmd("PASS secret", 230)
	c.cmd("ACCT", 503)
	assert.Contains(t, c.cmd("ACCT alice", 230), "Username: alice, Root: /alice")
	assert.Contains(t, c.cmd("ACCT bob", 503), "The account was not found")
}

func TestMiscCommands(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()

	assert.Equal(t, "215 NAME system type. UNIX Type: L8", c.cmd("SYST", 215))
	assert.Contains(t, c.cmd("TYPE I", 200), "Transfer Type OK")
	c.cmd("TYPE A", 200)
	c.cmd("TYPE E", 502)
	c.cmd("MODE S", 200)
	c.cmd("MODE B", 504)
	c.cmd("STRU F", 200)
	c.cmd("STRU R", 504)
	c.cmd("NOOP", 200)
	c.cmd("ALLO 100", 200)
	c.cmd("SITE CHMOD 755 x", 200)
	assert.Contains(t, c.cmd("HELP", 214), "Welcome to FTR")
	assert.Contains(t, c.cmd("HELP retr", 214), "RETR: Retrieve a copy of the file")
	c.cmd("FEAT", 502)
	c.cmd("AUTH TLS", 502)
	c.cmd("BOGUS", 502)
	// Commands are case-sensitive.
	c.cmd("noop", 502)
}

func TestLongCommandLine(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial()

	c.cmd("NOOP "+strings.Repeat("x", 2*maxCommandLength), 501)
	c.cmd("NOOP", 200)
}

func TestIdleTimeout(t *testing.T) {
	env := newTestEnv(t, Options{}, func(cfg *config.Config) {
		cfg.IdleTimeout = "200ms"
	})
	c := env.dial()
	assert.Contains(t, c.expect(421), "Idle timeout")
}

func TestSessionsAndShutdownNotice(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.login()

	assert.Eventually(t, func() bool {
		sessions := env.srv.Sessions()
		return len(sessions) == 1 && sessions[0].User == "alice"
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, env.srv.GetAuthenticatedConnections())
	assert.Equal(t, 1, env.srv.SessionCount())

	env.srv.Close()
	assert.Equal(t, "421 Service not available, closing control connection.", c.readLine())
	assert.Zero(t, env.srv.SessionCount())
	assert.Zero(t, env.srv.GetTotalConnections())
}

func TestListenResolvesLocalhost(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Host = "localhost"
	cfg.Port = 0
	cfg.Root = t.TempDir()

	srv, err := New(context.Background(), &cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	defer srv.Close()

	host, _, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	assert.True(t, net.ParseIP(host).IsLoopback(), host)
}

func TestListenInvalidHost(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Host = "not a host!"
	cfg.Port = 0
	cfg.Root = t.TempDir()

	srv, err := New(context.Background(), &cfg, Options{})
	require.NoError(t, err)
	assert.Error(t, srv.Listen())
	srv.Close()
}
