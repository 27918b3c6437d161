package angelone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"niftyPulse/internal/ports"
)

const loginURL = "https://apiconnect.angelbroking.com/rest/auth/angelbroking/user/v1/loginByPassword"

// Session holds the tokens issued by a successful SmartAPI login. The JWT
// authorizes REST calls, the feed token authorizes the market-data websocket.
type Session struct {
	JWTToken     string
	RefreshToken string
	FeedToken    string
}

// authenticator performs the SmartAPI password+TOTP login flow.
type authenticator struct {
	apiKey     string
	clientID   string
	password   string
	totpSecret string
	loginURL   string
	httpClient *http.Client
	logger     ports.Logger
}

func newAuthenticator(apiKey, clientID, password, totpSecret string, logger ports.Logger) *authenticator {
	return &authenticator{
		apiKey:     apiKey,
		clientID:   clientID,
		password:   password,
		totpSecret: totpSecret,
		loginURL:   loginURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type loginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"`
}

type loginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Login generates a fresh TOTP code and exchanges the credentials for a
// session. Called on startup and again whenever a reconnect needs new tokens.
func (a *authenticator) Login(ctx context.Context) (*Session, error) {
	op := "Login"

	code, err := totp.GenerateCode(a.totpSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: generating TOTP code: %w", op, ports.ErrAuthenticationFailed, err)
	}

	body, err := json.Marshal(loginRequest{ClientCode: a.clientID, Password: a.password, TOTP: code})
	if err != nil {
		return nil, fmt.Errorf("%s failed: encoding request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s failed: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed: %w: unexpected status %d", op, ports.ErrAuthenticationFailed, resp.StatusCode)
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s failed: decoding response: %w", op, err)
	}
	if !decoded.Status {
		return nil, fmt.Errorf("%s failed: %w: %s (code %s)", op, ports.ErrAuthenticationFailed, decoded.Message, decoded.ErrorCode)
	}
	if decoded.Data.JWTToken == "" || decoded.Data.FeedToken == "" {
		return nil, fmt.Errorf("%s failed: %w: response missing tokens", op, ports.ErrAuthenticationFailed)
	}

	a.logger.Info(ctx, op+": SmartAPI session established", map[string]interface{}{"clientID": a.clientID})
	return &Session{
		JWTToken:     decoded.Data.JWTToken,
		RefreshToken: decoded.Data.RefreshToken,
		FeedToken:    decoded.Data.FeedToken,
	}, nil
}
