package enrichment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTMDBClient_Lookup_ParsesFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tmdbSearchResponse{Results: []tmdbMovie{
			{ID: 603, Title: "The Matrix", Overview: "A hacker discovers reality.", ReleaseDate: "1999-03-31"},
		}})
	}))
	defer srv.Close()

	client := NewTMDBClient("key", srv.URL, 100, time.Second)
	result, err := client.Lookup(t.Context(), "The Matrix")
	require.NoError(t, err)
	assert.Equal(t, int64(603), result.TMDBID)
	assert.Equal(t, 1999, result.ReleaseYear)
}

func TestTMDBClient_Lookup_RetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(tmdbSearchResponse{Results: []tmdbMovie{{ID: 1, Title: "X"}}})
	}))
	defer srv.Close()

	client := NewTMDBClient("key", srv.URL, 100, time.Second)
	client.maxRetries = 3
	result, err := client.Lookup(t.Context(), "X")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TMDBID)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestTMDBClient_Lookup_NoResultsIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tmdbSearchResponse{Results: nil})
	}))
	defer srv.Close()

	client := NewTMDBClient("key", srv.URL, 100, time.Second)
	_, err := client.Lookup(t.Context(), "Nothing Matches")
	require.Error(t, err)
}
