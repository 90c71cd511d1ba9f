// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Link is a byte stream to a probe, over serial or WebSocket
type Link interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrLinkClosed is returned when reading from a closed WebSocket link
var ErrLinkClosed = errors.New("websocket link closed")

// serialLink is a probe attached to a local UART
type serialLink struct {
	port serial.Port
}

func (s *serialLink) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialLink) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialLink) Close() error                { return s.port.Close() }

// wsLink carries probe frames as binary WebSocket messages. One reader and
// one writer may use it concurrently.
type wsLink struct {
	conn *websocket.Conn

	rmu    sync.Mutex
	buf    []byte
	closed bool

	wmu sync.Mutex
}

func newWSLink(conn *websocket.Conn) *wsLink {
	return &wsLink{conn: conn}
}

func (w *wsLink) Read(p []byte) (int, error) {
	w.rmu.Lock()
	defer w.rmu.Unlock()

	if w.closed {
		return 0, ErrLinkClosed
	}
	for len(w.buf) == 0 {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		// text frames are bridge chatter, not probe traffic
		if kind == websocket.BinaryMessage {
			w.buf = data
		}
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsLink) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsLink) Close() error {
	w.wmu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.conn.Close()
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenSerialLink opens a UART probe
func OpenSerialLink(portName string, baudRate int) (Link, error) {
	port, err := serial.Open(portName, serialMode(baudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &serialLink{port: port}, nil
}

// OpenWebSocketLink dials a probe bridge with optional HTTP Basic auth
func OpenWebSocketLink(rawURL, username, password string, skipSSLVerify bool) (Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return newWSLink(conn), nil
}

// GetPassword reads FUSECTL_PASSWORD or prompts without echo
func GetPassword() (string, error) {
	if pw := os.Getenv("FUSECTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// not a terminal; take a plain line
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return string(pw), nil
}

// OpenLink opens the probe link selected by the connection flags
func OpenLink() (Link, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		link, err := OpenWebSocketLink(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		link, err := OpenSerialLink(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --sim must be specified")
}
