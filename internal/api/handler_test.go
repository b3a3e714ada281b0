package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov/minichat/internal/chat"
	"github.com/akarpov/minichat/internal/domain"
	"github.com/akarpov/minichat/internal/gateway"
	"github.com/akarpov/minichat/internal/store"
)

// stubCompleter returns a fixed reply or error.
type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(context.Context, []domain.Message) (string, error) {
	return s.reply, s.err
}

func newTestRouter(t *testing.T, completer chat.Completer) chi.Router {
	t.Helper()
	chatStore, err := chat.NewStore(context.Background(), store.NewMemory(), completer)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Recoverer)
	NewHandler(chatStore, completer).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) chat.StateView {
	t.Helper()
	var view chat.StateView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	return view
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestHandleState(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "ok"})

	w := doJSON(t, r, http.MethodGet, "/api/state", "")

	require.Equal(t, http.StatusOK, w.Code)
	view := decodeView(t, w)
	require.Len(t, view.Threads, 1)
	assert.False(t, view.Busy)
}

func TestThreadLifecycleEndpoints(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "ok"})

	w := doJSON(t, r, http.MethodPost, "/api/threads", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeView(t, w)
	require.Len(t, view.Threads, 2)
	createdID := view.ActiveThreadID
	otherID := view.Threads[1].ID

	w = doJSON(t, r, http.MethodPost, "/api/threads/"+otherID+"/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, otherID, decodeView(t, w).ActiveThreadID)

	w = doJSON(t, r, http.MethodDelete, "/api/threads/"+createdID, "")
	require.Equal(t, http.StatusOK, w.Code)
	view = decodeView(t, w)
	require.Len(t, view.Threads, 1)
	assert.Equal(t, otherID, view.ActiveThreadID)
}

func TestHandleSendMessage(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "the reply"})

	w := doJSON(t, r, http.MethodPost, "/api/messages", `{"content":"hello"}`)

	require.Equal(t, http.StatusOK, w.Code)
	view := decodeView(t, w)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "the reply", view.Messages[1].Content)
	assert.False(t, view.Busy)
}

func TestHandleSendMessageBadBody(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "ok"})

	w := doJSON(t, r, http.MethodPost, "/api/messages", `{"content":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatSuccessEnvelope(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "hi from the model"})

	w := doJSON(t, r, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "hi from the model", resp["content"])
}

func TestHandleChatMissingMessages(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{reply: "ok"})

	for name, body := range map[string]string{
		"no field":  `{"foo":1}`,
		"not array": `{"messages":42}`,
		"bad json":  `{"messages":`,
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/chat", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandleChatProviderFailureIsSuccessEnvelope(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{err: &gateway.Error{
		Kind:    gateway.KindRateLimited,
		Message: "API rate limit exceeded (429). Try again shortly. Details: rate limit exceeded",
	}})

	w := doJSON(t, r, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, w.Code,
		"provider failures must ride in the success envelope")
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp["content"], "rate limit exceeded")
}

func TestHandleChatEmptyMessageList(t *testing.T) {
	r := newTestRouter(t, &stubCompleter{err: &gateway.Error{
		Kind:    gateway.KindMalformedRequest,
		Message: "message list is empty",
	}})

	w := doJSON(t, r, http.MethodPost, "/api/chat", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecovererReturnsJSONServerFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("something exploded")
	})

	w := doJSON(t, r, http.MethodGet, "/boom", "")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "internal server error", resp["error"])
	assert.Contains(t, resp["details"], "something exploded")
}
