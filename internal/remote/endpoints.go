package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register creates a player account. It does not require a token.
func (c *Client) Register(ctx context.Context, username, password string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/register", credentialsRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return err
	}
	if err := c.roundTrip(req, nil); err != nil {
		return fmt.Errorf("registering %q: %w", username, unauthorizedAsRejected(err))
	}
	return nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp loginResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return "", fmt.Errorf("logging in %q: %w", username, unauthorizedAsRejected(err))
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("logging in %q: empty access token: %w", username, geoquest.ErrMalformedPayload)
	}
	return resp.AccessToken, nil
}

// CompleteQRLogin confirms a website login session shown as a QR code.
func (c *Client) CompleteQRLogin(ctx context.Context, sessionID string) (geoquest.LoginResult, error) {
	var out geoquest.LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/qr-login-complete", map[string]string{"session_id": sessionID}, &out)
	return out, err
}

type positionedCode struct {
	QRCode    string  `json:"qr_code"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ScanQR validates a generic reward code at the given position.
func (c *Client) ScanQR(ctx context.Context, code string, at geo.Coordinate) (geoquest.ScanResult, error) {
	var out geoquest.ScanResult
	err := c.do(ctx, http.MethodPost, "/qr/scan", positionedCode{
		QRCode:    code,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
	}, &out)
	return out, err
}

// IssuePeerCode asks the backend for a pairing token bound to at.
func (c *Client) IssuePeerCode(ctx context.Context, at geo.Coordinate) (geoquest.PeerGrant, error) {
	var out geoquest.PeerGrant
	if err := c.do(ctx, http.MethodPost, "/qr/peer/generate", at, &out); err != nil {
		return out, err
	}
	if out.Token == "" {
		return out, fmt.Errorf("issuing peer code: empty token: %w", geoquest.ErrMalformedPayload)
	}
	return out, nil
}

type peerValidateRequest struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidatePeerCode submits a scanned pairing token.
func (c *Client) ValidatePeerCode(ctx context.Context, token string, at geo.Coordinate) (geoquest.PeerValidation, error) {
	var out geoquest.PeerValidation
	err := c.do(ctx, http.MethodPost, "/qr/peer/validate", peerValidateRequest{
		Token:     token,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
	}, &out)
	return out, err
}

// Hunt loads a hunt with its current step.
func (c *Client) Hunt(ctx context.Context, huntID string) (geoquest.Hunt, error) {
	var out geoquest.Hunt
	err := c.do(ctx, http.MethodGet, "/hunts/hunt/"+url.PathEscape(huntID), nil, &out)
	return out, err
}

type huntScanRequest struct {
	HuntID    string  `json:"hunt_id"`
	QRCode    string  `json:"qr_code"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SubmitHuntScan submits a step scan.
func (c *Client) SubmitHuntScan(ctx context.Context, huntID, code string, at geo.Coordinate) (geoquest.StepResult, error) {
	var out geoquest.StepResult
	err := c.do(ctx, http.MethodPost, "/hunts/scan", huntScanRequest{
		HuntID:    huntID,
		QRCode:    code,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
	}, &out)
	return out, err
}

// AbandonHunt marks the hunt abandoned for the current player.
func (c *Client) AbandonHunt(ctx context.Context, huntID string) error {
	return c.do(ctx, http.MethodPost, "/hunts/abandon/"+url.PathEscape(huntID), nil, nil)
}

// ActiveHunts lists the player's active hunts.
func (c *Client) ActiveHunts(ctx context.Context, skip, limit int) (geoquest.HuntPage, error) {
	var out geoquest.HuntPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/hunts/active?skip=%d&limit=%d", skip, limit), nil, &out)
	return out, err
}

// ScanHistory lists the player's past scans.
func (c *Client) ScanHistory(ctx context.Context, skip, limit int) (geoquest.ScanPage, error) {
	var out geoquest.ScanPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/player/my_history?skip=%d&limit=%d", skip, limit), nil, &out)
	return out, err
}

// Player returns the current player's profile.
func (c *Client) Player(ctx context.Context) (geoquest.Player, error) {
	var out geoquest.Player
	err := c.do(ctx, http.MethodGet, "/player/me", nil, &out)
	return out, err
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("pinging backend: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("pinging backend: status %d", resp.StatusCode)
	}
	return nil
}

// unauthorizedAsRejected turns the internal 401 marker into a rejection for
// calls that are not retried.
func unauthorizedAsRejected(err error) error {
	if err == errUnauthorized {
		return &geoquest.RejectedError{Status: http.StatusUnauthorized, Message: "invalid credentials"}
	}
	return err
}
