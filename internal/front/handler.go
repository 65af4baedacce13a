// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package front

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/realmgate/realmgate/internal/auth"
	"github.com/realmgate/realmgate/internal/gate"
	"github.com/realmgate/realmgate/pkg/errutil"
)

// AuthService defines the authentication operations needed by the front end.
type AuthService interface {
	// Register creates a new account.
	Register(ctx context.Context, username, password, source string) error

	// Login authenticates an account and returns its ID.
	Login(ctx context.Context, username, password string) (int64, error)

	// SelectGateway returns the gateway endpoint for an account.
	SelectGateway(accountID int64) gate.Endpoint
}

// maxLineLength bounds a single request line; anything longer is abuse.
const maxLineLength = 1024

// ConnectionHandler handles a single client connection speaking the
// line-oriented auth protocol:
//
//	register <username> <password>
//	login <username> <password>
//	quit
//
// Replies are "OK ..." or "ERR <CODE> <message>". A successful login reply
// carries the assigned gateway address.
type ConnectionHandler struct {
	conn     net.Conn
	reader   *bufio.Reader
	service  AuthService
	throttle *Throttle
	connID   ulid.ULID
	logger   *slog.Logger
}

// NewConnectionHandler creates a handler for one accepted connection.
func NewConnectionHandler(conn net.Conn, service AuthService, throttle *Throttle, logger *slog.Logger) *ConnectionHandler {
	connID := ulid.Make()
	return &ConnectionHandler{
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, maxLineLength),
		service:  service,
		throttle: throttle,
		connID:   connID,
		logger:   logger.With("conn_id", connID.String()),
	}
}

// Handle serves the connection until the client quits, the connection idles
// out, or ctx is cancelled.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			h.logger.Debug("error closing connection", "error", err)
		}
	}()

	// A cancelled context must unblock the pending read, otherwise shutdown
	// waits out the idle deadline of every open connection.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = h.conn.Close()
	}()

	h.writeLine("RealmGate auth ready")

	for {
		if ctx.Err() != nil {
			return
		}

		// The read deadline doubles as the idle-session teardown: a client
		// that sends nothing until the deadline gets disconnected.
		if err := h.conn.SetReadDeadline(h.throttle.IdleDeadline()); err != nil {
			h.logger.Debug("failed to set read deadline", "error", err)
			return
		}

		line, err := h.reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				h.logger.Debug("idle session timed out")
				h.writeLine("ERR IDLE_TIMEOUT session idle too long")
			case errors.Is(err, io.EOF):
				h.logger.Debug("client disconnected")
			default:
				h.logger.Debug("read failed", "error", err)
			}
			return
		}

		if !h.throttle.Allow(time.Now()) {
			h.writeLine("ERR THROTTLED too many requests")
			continue
		}

		if done := h.dispatch(ctx, strings.TrimSpace(line)); done {
			return
		}
	}
}

// dispatch executes one request line. Returns true when the connection
// should close.
func (h *ConnectionHandler) dispatch(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "register":
		if len(fields) != 3 {
			h.writeLine("ERR " + auth.CodeInvalidArgument + " usage: register <username> <password>")
			return false
		}
		h.handleRegister(ctx, fields[1], fields[2])
	case "login":
		if len(fields) != 3 {
			h.writeLine("ERR " + auth.CodeInvalidArgument + " usage: login <username> <password>")
			return false
		}
		h.handleLogin(ctx, fields[1], fields[2])
	case "quit":
		h.writeLine("OK bye")
		return true
	default:
		h.writeLine("ERR UNKNOWN_COMMAND supported: register, login, quit")
	}
	return false
}

func (h *ConnectionHandler) handleRegister(ctx context.Context, username, password string) {
	source := "front:" + h.remoteAddr()
	if err := h.service.Register(ctx, username, password, source); err != nil {
		h.writeError(err)
		return
	}
	h.writeLine("OK registered")
}

func (h *ConnectionHandler) handleLogin(ctx context.Context, username, password string) {
	accountID, err := h.service.Login(ctx, username, password)
	if err != nil {
		h.writeError(err)
		return
	}
	gw := h.service.SelectGateway(accountID)
	h.writeLine(fmt.Sprintf("OK id=%d gate=%s", accountID, gw.Addr()))
}

// writeError maps a service error to a protocol reply. Expected outcomes
// carry their code; anything uncoded is reported as unavailable so internal
// detail never reaches the client.
func (h *ConnectionHandler) writeError(err error) {
	switch code := errutil.CodeOf(err); code {
	case auth.CodeInvalidArgument, auth.CodeAlreadyExists, auth.CodeInvalidCredentials, auth.CodeNotFound:
		h.writeLine("ERR " + code + " " + err.Error())
	default:
		errutil.LogError(h.logger, "request failed", err)
		h.writeLine("ERR " + auth.CodeUnavailable + " temporary failure, retry later")
	}
}

func (h *ConnectionHandler) writeLine(line string) {
	if err := h.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", "error", err)
		return
	}
	if _, err := fmt.Fprintf(h.conn, "%s\n", line); err != nil {
		if !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
			h.logger.Debug("write failed", "error", err)
		}
	}
}

func (h *ConnectionHandler) remoteAddr() string {
	if addr := h.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
