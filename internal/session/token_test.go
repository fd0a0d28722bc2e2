package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJoinTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Room != "lobby" || req.Identity != "alice" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "jwt-abc",
			"iceServers": []map[string]any{
				{"urls": []string{"turn:turn.example.com:3478"}, "username": "u", "credential": "c"},
			},
		})
	}))
	defer srv.Close()

	grant, err := NewTokenClient(srv.URL).JoinToken(context.Background(), "lobby", "alice")
	if err != nil {
		t.Fatalf("JoinToken: %v", err)
	}
	if grant.Token != "jwt-abc" {
		t.Errorf("token = %q", grant.Token)
	}
	if len(grant.ICEServers) != 1 || grant.ICEServers[0].Username != "u" {
		t.Errorf("ice servers = %+v", grant.ICEServers)
	}
}

func TestJoinTokenDefaultICE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "jwt-abc"})
	}))
	defer srv.Close()

	grant, err := NewTokenClient(srv.URL).JoinToken(context.Background(), "lobby", "alice")
	if err != nil {
		t.Fatalf("JoinToken: %v", err)
	}
	if len(grant.ICEServers) != len(defaultICEServers()) {
		t.Errorf("expected built-in ICE list, got %+v", grant.ICEServers)
	}
}

func TestJoinTokenRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := NewTokenClient(srv.URL).JoinToken(context.Background(), "lobby", "alice")
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("status %d: err = %v, want *AuthError", status, err)
		} else if authErr.Status != status {
			t.Errorf("AuthError.Status = %d, want %d", authErr.Status, status)
		}
		srv.Close()
	}
}

func TestJoinTokenEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	_, err := NewTokenClient(srv.URL).JoinToken(context.Background(), "lobby", "alice")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("err = %v, want *AuthError for empty token", err)
	}
}

func TestJoinTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewTokenClient(srv.URL).JoinToken(context.Background(), "lobby", "alice")
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if tErr.Op != "token fetch" {
		t.Errorf("Op = %q", tErr.Op)
	}
}

func TestJoinTokenUnreachable(t *testing.T) {
	_, err := NewTokenClient("http://127.0.0.1:1/token").JoinToken(context.Background(), "lobby", "alice")
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Errorf("err = %v, want *TransportError", err)
	}
}
