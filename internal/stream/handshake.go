/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrHandshakeTooLarge is returned when no complete request head arrives
	// within the configured byte limit.
	ErrHandshakeTooLarge = errors.New("handshake: request head too large")
	// ErrBadRequest is returned for a request head that does not parse as HTTP.
	ErrBadRequest = errors.New("handshake: malformed request")
)

var headTerminator = []byte("\r\n\r\n")

// AcceptKey computes Sec-WebSocket-Accept for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// upgradeResponse is the exact 101 response sent on upgrade.
func upgradeResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n")
}

// upgradeRequest is the part of a request head the server uses.
type upgradeRequest struct {
	Key       string
	Path      string
	UserAgent string
	Origin    string
}

// parseHead looks for one complete request head at the start of buf.
//
// consumed is 0 when more input is needed. When a complete head is found,
// consumed is its length including the blank line, and req is nil unless
// the head is a WebSocket upgrade request carrying a key.
func parseHead(buf []byte) (req *upgradeRequest, consumed int, err error) {
	end := bytes.Index(buf, headTerminator)
	if end < 0 {
		return nil, 0, nil
	}
	consumed = end + len(headTerminator)

	r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf[:consumed])))
	if err != nil {
		return nil, consumed, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !headerHasToken(r.Header, "Upgrade", "websocket") {
		return nil, consumed, nil
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, consumed, nil
	}
	return &upgradeRequest{
		Key:       key,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
	}, consumed, nil
}

// headerHasToken reports whether a comma-separated header contains token,
// compared case-insensitively.
func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
