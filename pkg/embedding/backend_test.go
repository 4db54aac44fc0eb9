package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"aero-doc-go/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIBackendReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 3, req.Dimensions)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0.4,0.5,0.6]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}
		],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend("sk-test", srv.URL+"/v1", "text-embedding-3-small", 3)
	vecs, err := b.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, vecs)
}

func TestOpenAIBackendClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream says no","type":"invalid_request_error"}}`))
			}))
			defer srv.Close()

			b := NewOpenAIBackend("sk-test", srv.URL+"/v1", "text-embedding-3-small", 0)
			_, err := b.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, retry.IsTransient(err))
		})
	}
}

func TestOllamaBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL+"/", "nomic-embed-text")
	vecs, err := b.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}

func TestOllamaBackendStatusErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", status)
	}))
	defer srv.Close()
	b := NewOllamaBackend(srv.URL, "m")

	_, err := b.Embed(context.Background(), []string{"a"})
	assert.True(t, retry.IsTransient(err))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "model loading", se.Body)

	status = http.StatusNotFound
	_, err = b.Embed(context.Background(), []string{"a"})
	assert.False(t, retry.IsTransient(err))
}

func TestOllamaBackendUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaBackend(url, "m").Embed(context.Background(), []string{"a"})
	assert.True(t, retry.IsTransient(err))
}
