package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/triviagame/internal/testutil"
)

func teapot(w http.ResponseWriter, _ *http.Request, _ any) {
	w.WriteHeader(http.StatusTeapot)
}

func TestRecovery_WritesPanicResponse(t *testing.T) {
	h := Recovery(testutil.NopLogger(), teapot)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRecovery_LeavesStartedResponse(t *testing.T) {
	h := Recovery(testutil.NopLogger(), teapot)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "partial", rr.Body.String())
}

func TestRecovery_ReraisesAbort(t *testing.T) {
	h := Recovery(testutil.NopLogger(), teapot)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLogging_CapturesStatusAndRoute(t *testing.T) {
	var named bool
	h := Logging(testutil.NopLogger(), func(*http.Request) string {
		named = true
		return "/things/{id}"
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/things/1", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.True(t, named)
}

func TestWrapResponseWriter_Reuses(t *testing.T) {
	rw := WrapResponseWriter(httptest.NewRecorder())
	assert.Same(t, rw, WrapResponseWriter(rw))
	assert.Equal(t, http.StatusOK, rw.Status())
}
