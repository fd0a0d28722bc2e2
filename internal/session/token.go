package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultICEServers is the built-in STUN/TURN list used when the token
// service does not supply one.
func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// JoinGrant is the short-lived credential handed out by the token service.
type JoinGrant struct {
	Token      string
	ICEServers []webrtc.ICEServer
}

// TokenClient fetches join credentials from the external HTTP token endpoint.
type TokenClient struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

func NewTokenClient(endpoint string) *TokenClient {
	return &TokenClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   log.With().Str("module", "session.token").Logger(),
	}
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	ICEServers []struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username,omitempty"`
		Credential string   `json:"credential,omitempty"`
	} `json:"iceServers,omitempty"`
}

// JoinToken exchanges a room name and display name for a join credential.
// A 401/403 yields *AuthError; any other failure is a *TransportError.
func (c *TokenClient) JoinToken(ctx context.Context, room, identity string) (*JoinGrant, error) {
	body, err := json.Marshal(tokenRequest{Room: room, Identity: identity})
	if err != nil {
		return nil, &TransportError{Op: "token encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "token fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransportError{Op: "token fetch", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &TransportError{Op: "token decode", Err: err}
	}
	if tr.Token == "" {
		return nil, &AuthError{Status: resp.StatusCode}
	}

	grant := &JoinGrant{Token: tr.Token}
	for _, s := range tr.ICEServers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		grant.ICEServers = append(grant.ICEServers, ice)
	}
	if len(grant.ICEServers) == 0 {
		c.logger.Info().Str("room", room).Msg("no ICE servers in grant, using built-in list")
		grant.ICEServers = defaultICEServers()
	}
	return grant, nil
}
