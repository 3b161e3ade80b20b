package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemoteClientEmbedAppliesRolePrefix(t *testing.T) {
	var gotInputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputs = req.Inputs
		resp := inferResponse{Embeddings: make([][]float32, len(req.Inputs))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = []float32{0.1, 0.2}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 2,
		QueryPrefix: "query: ", DocumentPrefix: "passage: ",
	}, nil, nil)
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"hello"}, RoleQuery)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, []string{"query: hello"}, gotInputs)

	_, err = client.Embed(context.Background(), []string{"world"}, RoleDocument)
	require.NoError(t, err)
	require.Equal(t, []string{"passage: world"}, gotInputs)
}

func TestRemoteClientEmbedChunksByMaxBatch(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Inputs))
		resp := inferResponse{Embeddings: make([][]float32, len(req.Inputs))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = []float32{0.1}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 1, MaxBatch: 2,
	}, nil, nil)
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"a", "b", "c", "d", "e"}, RoleDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	require.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestRemoteClientRetriesTransientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := inferResponse{Embeddings: [][]float32{{1, 2, 3}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 3,
		MaxRetries: 3, BaseBackoff: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"x"}, RoleDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestRemoteClientFailsAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 3,
		MaxRetries: 2, BaseBackoff: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"}, RoleDocument)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteClientNonRetryableErrorFailsFast(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 3,
		MaxRetries: 3, BaseBackoff: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"}, RoleDocument)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestRemoteClientBusyWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		resp := inferResponse{Embeddings: [][]float32{{1}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client, err := NewRemoteClient(RemoteConfig{
		URL: srv.URL, Model: "test-model", Dim: 1,
		MaxInFlight: 1, MaxQueueDepth: 1,
	}, nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = client.Embed(context.Background(), []string{"a"}, RoleDocument)
		done <- struct{}{}
	}()
	go func() {
		_, _ = client.Embed(context.Background(), []string{"b"}, RoleDocument)
		done <- struct{}{}
	}()
	time.Sleep(20 * time.Millisecond)

	_, err = client.Embed(context.Background(), []string{"c"}, RoleDocument)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	<-done
}

func TestRemoteClientEmptyInput(t *testing.T) {
	client, err := NewRemoteClient(RemoteConfig{URL: "http://example.invalid", Model: "m", Dim: 1}, nil, nil)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), nil, RoleDocument)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = client.Classify(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestRemoteClientVersionIsDistinct(t *testing.T) {
	client, err := NewRemoteClient(RemoteConfig{URL: "http://example.invalid", Model: "bge-small", Dim: 384}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "remote:bge-small:384", client.Version())
}

func TestRemoteConfigValidate(t *testing.T) {
	_, err := NewRemoteClient(RemoteConfig{Model: "m", Dim: 1}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRemoteClient(RemoteConfig{URL: "http://x", Dim: 1}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRemoteClient(RemoteConfig{URL: "http://x", Model: "m"}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
