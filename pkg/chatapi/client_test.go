package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClient_RejectsEmptyBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "})
	require.Error(t, err)
}

func TestListSessions_ReturnsServerOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/chat-sessions/a@x.com", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]string{"s2", "s1", "s3"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	sessions, err := c.ListSessions(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Equal(t, []string{"s2", "s1", "s3"}, sessions)
}

func TestListSessions_WrapsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.ListSessions(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrFetch)
}

func TestCreateSession_ReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/new-chat-session", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "a@x.com", body["email"])
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-123"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := c.CreateSession(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "sess-123", id)
}

func TestCreateSession_EmptyIDIsCreateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.CreateSession(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrCreate)
}

func TestFetchHistory_DecodesExchanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat-history/a@x.com/s1", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]Exchange{{UserMessage: "hi", Response: "yo"}})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	conv, err := c.FetchHistory(context.Background(), "a@x.com", "s1")
	require.NoError(t, err)
	require.Equal(t, []Exchange{{UserMessage: "hi", Response: "yo"}}, conv)
}

func TestDeleteHistory_ErrorCarriesDeleteSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = c.DeleteHistory(context.Background(), "a@x.com", "s1")
	require.ErrorIs(t, err, ErrDelete)
}

func TestSubmit_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api", r.URL.Path)
		var req SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello", req.Message)
		require.True(t, req.NewSession)
		_ = json.NewEncoder(w).Encode(SubmitResponse{Message: "hi there", SessionID: req.SessionID})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Submit(context.Background(), SubmitRequest{
		Message:    "hello",
		Email:      "a@x.com",
		SessionID:  "s1",
		NewSession: true,
	})
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Message)
	require.Equal(t, "s1", resp.SessionID)
}

func TestSubmit_NetworkFailureIsSubmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), SubmitRequest{Message: "hello", Email: "a@x.com", SessionID: "s1"})
	require.ErrorIs(t, err, ErrSubmit)
}
