// ABOUTME: JSON HTTP mirror of the gRPC API for clients without gRPC
// ABOUTME: GET/POST /api/messages polls, /api/stream streams over a websocket

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
)

const (
	maxRequestBody = 1 << 20
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps request errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, errConsumerMismatch):
		code = http.StatusForbidden
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// handlePollMessages serves one page. POST takes a JSON PollMessagesRequest;
// GET takes the same fields as query parameters.
func (g *Gateway) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	var req gatewayrpc.PollMessagesRequest
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, fmt.Errorf("%w: reading body: %v", errInvalidRequest, err))
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, fmt.Errorf("%w: %v", errInvalidRequest, err))
				return
			}
		}
	} else {
		q, err := parsePollQuery(r.URL.Query())
		if err != nil {
			writeError(w, err)
			return
		}
		req = *q
	}

	resp, err := g.poll(r.Context(), &req, "http")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parsePollQuery reads platforms, since_timestamp_utc_ms, seen_ids,
// max_messages, and consumer_id. List values are comma separated.
func parsePollQuery(q url.Values) (*gatewayrpc.PollMessagesRequest, error) {
	platforms, cursor, err := parseCursorQuery(q)
	if err != nil {
		return nil, err
	}
	req := gatewayrpc.NewPollRequest(cursor, 0, q.Get("consumer_id"), platforms...)
	if v := q.Get("max_messages"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: max_messages: %v", errInvalidRequest, err)
		}
		req.MaxMessages = int32(n)
	}
	return req, nil
}

func parseCursorQuery(q url.Values) ([]message.Platform, message.Cursor, error) {
	var cursor message.Cursor
	if v := q.Get("since_timestamp_utc_ms"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, cursor, fmt.Errorf("%w: since_timestamp_utc_ms: %v", errInvalidRequest, err)
		}
		cursor.SinceTimestampUTCMs = ts
	}
	cursor.SeenIDs = splitList(q.Get("seen_ids"))

	var platforms []message.Platform
	for _, name := range splitList(q.Get("platforms")) {
		var p message.Platform
		if err := p.UnmarshalText([]byte(name)); err != nil {
			return nil, cursor, fmt.Errorf("%w: %v", errInvalidRequest, err)
		}
		platforms = append(platforms, p)
	}
	return platforms, cursor, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// handleHealthJSON returns the same payload as the Health RPC.
func (g *Gateway) handleHealthJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.healthStatus())
}

// handleStream upgrades to a websocket and writes one JSON StreamMessage per
// text frame. The cursor comes from the query string, as for GET polls.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	platforms, cursor, err := parseCursorQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := platformSet(platforms); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// r.Context() is not canceled when a hijacked connection drops, so the
	// read loop cancels instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go pingLoop(ctx, conn)

	err = g.stream(ctx, platforms, cursor, func(m *gatewayrpc.StreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(m)
	})
	if err != nil {
		g.logger.Debug("websocket stream ended", "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

// pingLoop keeps idle streams alive through proxies.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
