package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	messages [][]byte
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.messages = append(c.messages, data)
	return nil
}

func (c *recordingConn) last(t *testing.T) map[string]interface{} {
	t.Helper()
	require.NotEmpty(t, c.messages)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(c.messages[len(c.messages)-1], &out))
	return out
}

func TestHandleWebSocketMessage(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name       string
		message    string
		wantStatus string
		wantType   string
	}{
		{"batch", `[{"table":[[0.1,0.3,0.4,0.6,0.9]]}]`, "completed", "refine_response"},
		{"with threshold", `{"annotations":[{"chart":[[0.2,0.2,0.6,0.6,0.3]]}],"final_thresh":0.2}`, "completed", "refine_response"},
		{"invalid json", `{"annotations":`, "error", "error"},
		{"invalid threshold", `{"annotations":[],"final_thresh":-1}`, "error", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &recordingConn{}
			server.handleWebSocketMessage(context.Background(), conn, []byte(tt.message))

			msg := conn.last(t)
			assert.Equal(t, tt.wantStatus, msg["status"])
			assert.Equal(t, tt.wantType, msg["type"])
			assert.NotEmpty(t, msg["request_id"])
		})
	}
}

func TestRefineWebSocket_RoundTrip(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/refine"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`[{"table":[[0.1,0.3,0.4,0.6,0.9]]},{"table":[[0.1,0.3,0.4,0.6,0.2]]}]`)))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply struct {
		Type      string                   `json:"type"`
		Status    string                   `json:"status"`
		RequestID string                   `json:"request_id"`
		Result    []map[string][][]float64 `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&reply))

	assert.Equal(t, "refine_response", reply.Type)
	assert.Equal(t, "completed", reply.Status)
	assert.NotEmpty(t, reply.RequestID)
	require.Len(t, reply.Result, 2)
	assert.Len(t, reply.Result[0]["table"], 1)
	assert.Empty(t, reply.Result[1]["table"])
	assert.Equal(t, []float64{0.1, 0.24, 0.4, 0.6, 0.9}, reply.Result[0]["table"][0])
}
