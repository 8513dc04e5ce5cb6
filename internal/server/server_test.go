package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/document"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/protocol"
	"github.com/livdocs/engine/internal/renderer"
	"github.com/livdocs/engine/internal/security"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	orch := renderer.NewOrchestrator(cfg.Renderer, nil, logging.NewNop(), nil)
	return New(cfg, orch, logging.NewNop(), nil)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRenderStaticDocument(t *testing.T) {
	s := newTestServer(t)

	doc := document.Document{
		Manifest: document.Manifest{
			Version:  "1.0",
			Security: security.RestrictivePolicy(),
		},
		Content: document.Content{
			HTML: `<p id="intro">Quarterly summary</p><script>alert(1)</script>`,
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp renderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "complete", resp.Phase)
	assert.True(t, resp.Fallback)
	assert.NotEmpty(t, resp.RenderID)
	assert.Contains(t, resp.HTML, "Quarterly summary")
	assert.NotContains(t, resp.HTML, "<script")
}

func TestRenderMalformedBody(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenderInvalidDocumentStillDisplays(t *testing.T) {
	s := newTestServer(t)

	// No renderable content at all.
	doc := document.Document{
		Manifest: document.Manifest{
			Version:  "1.0",
			Security: security.RestrictivePolicy(),
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp renderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "errored", resp.Phase)
	assert.Contains(t, resp.HTML, "render-error")
	assert.NotEmpty(t, resp.Errors)
}

// TestWebsocketExecution drives the full remote path: dial, load a script
// module, call an exported function, read the result envelope back.
func TestWebsocketExecution(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(msg *protocol.Message) {
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, raw))
	}
	recv := func() *protocol.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return &msg
	}

	source := `function add(a, b) { return a + b; }`
	send(protocol.NewMessage(protocol.KindControl, "host", "sandbox", map[string]any{
		"command":     "load_module",
		"name":        "calc",
		"module_data": base64.StdEncoding.EncodeToString([]byte(source)),
	}))
	loaded := recv()
	require.Equal(t, protocol.KindResponse, loaded.Kind, "load failed: %v", loaded.Payload)
	assert.Equal(t, true, loaded.Payload["loaded"])

	send(protocol.NewMessage(protocol.KindFunctionCall, "host", "sandbox", map[string]any{
		"module_name":   "calc",
		"function_name": "add",
		"arguments":     []any{2, 3},
	}))
	result := recv()
	require.Equal(t, protocol.KindResponse, result.Kind)
	assert.Equal(t, true, result.Payload["success"])
	assert.Equal(t, float64(5), result.Payload["result"])
}
