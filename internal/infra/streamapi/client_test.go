package streamapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStreamingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streaming-status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"streaming_system":{"connected_clients":3,"active_streams":1}}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)

	status, err := c.StreamingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.ConnectedClients)
	assert.Equal(t, 1, status.ActiveStreams)
	assert.Equal(t, "clients=3 streams=1", status.String())
}

func TestStreamingStatusMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.StreamingStatus(context.Background())
	assert.Error(t, err)
}

func TestFetchAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/a1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	body, err := c.FetchAudio(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), body)
}

func TestFetchAudioEscapesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/a%2F1", r.URL.EscapedPath())
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.FetchAudio(context.Background(), "a/1")
	assert.NoError(t, err)
}

func TestFetchAudioRequiresID(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost"})
	require.NoError(t, err)

	_, err = c.FetchAudio(context.Background(), "")
	assert.Error(t, err)
}

func TestNonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.FetchAudio(context.Background(), "missing")
	assert.ErrorContains(t, err, "status 404")
}
