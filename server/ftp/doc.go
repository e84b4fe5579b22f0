// Package ftp implements the ftrd control and data channel protocol.
//
// This package provides a small FTP server with:
//   - USER/PASS authentication against configured accounts
//   - Per-session working directory scoped under the account root
//   - Passive (PASV, EPSV) and active (PORT, EPRT) data connections
//   - LIST, NLST, STAT, RETR, STOR, STOU, APPE and ABOR
//   - Directory management (MKD, RMD, DELE, RNFR/RNTO)
//
// # Session States
//
//	Unauthenticated → Username-Provided → Authenticated → Closing
//
// USER records a known username, PASS completes the login and moves the
// working directory to the account root. REIN returns to the initial state.
//
// # Data Channel Cycle
//
// Every PASV, EPSV, PORT or EPRT opens one data channel cycle. A background
// goroutine owns the data socket: it signals ready once the socket exists
// (accepted or dialed), waits until the transfer signals done, and closes the
// socket exactly once. The next transfer command consumes the cycle. A new
// negotiation while a cycle is pending is rejected with 503.
//
// Transfers run on their own goroutine so the control loop can still read
// ABOR, which completes the transfer with 426 followed by 226.
//
// # Starting a Server
//
//	srv, err := ftp.New(ctx, cfg, ftp.Options{History: history})
//	if err != nil {
//		return err
//	}
//	errChan := make(chan error, 1)
//	go srv.Start(errChan)
//	defer srv.Close()
package ftp
