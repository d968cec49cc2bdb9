package executorsvc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackPosterPostSuccess(t *testing.T) {
	var gotToken string
	var gotBody Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Internal-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	poster := NewCallbackPoster()
	err := poster.Post(t.Context(), server.URL, "secret-token", Request{SessionID: "s1", Status: StatusRunning, Progress: 50})

	require.NoError(t, err)
	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "s1", gotBody.SessionID)
	assert.Equal(t, 50, gotBody.Progress)
}

func TestCallbackPosterPostNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	poster := NewCallbackPoster()
	err := poster.Post(t.Context(), server.URL, "", Request{SessionID: "s1"})

	assert.ErrorContains(t, err, "500")
}

func TestCallbackPosterOmitsTokenHeaderWhenEmpty(t *testing.T) {
	var sawHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["X-Internal-Token"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	poster := NewCallbackPoster()
	err := poster.Post(t.Context(), server.URL, "", Request{SessionID: "s1"})

	require.NoError(t, err)
	assert.False(t, sawHeader)
}
