package cloud

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // vendor device id derivation, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
)

// Vendor gateway parameters. The backend is a uniCloud serverless
// deployment; these identifiers are baked into the official app.
const (
	// DefaultEndpoint is the production serverless gateway.
	DefaultEndpoint = "https://api.next.bspapp.com/client"

	// clientSecret keys the request signature.
	clientSecret = "5rCEdl/nx7IgViBe4QYRiQ=="

	// spaceID identifies the vendor's serverless space.
	spaceID = "mp-6c382a98-49b8-40ba-b761-645d83e8ee74"

	// appID is the official app's identifier, expected in clientInfo.
	appID = "__UNI__55F5E7F"
)

// HTTP and token tuning.
const (
	// httpTimeout bounds every token-endpoint request.
	httpTimeout = 15 * time.Second

	// anonymousTokenLifetime is assumed when the endpoint omits one.
	anonymousTokenLifetime = 600 * time.Second

	// loginTokenLifetime is the far-future sentinel for the login token;
	// the vendor grants it roughly 14 years.
	loginTokenLifetime = 14 * 365 * 24 * time.Hour

	// devicePageSize is the page size for device-list requests.
	devicePageSize = 100
)

// Gateway method names.
const (
	methodAnonymousAuth  = "serverless.auth.user.anonymousAuthorize"
	methodFunctionInvoke = "serverless.function.runtime.invoke"
)

// Router function targets.
const (
	routeLogin     = "user/pub/login"
	routeMQTTToken = "common/emqx.getAccessToken"
	routeDevices   = "client/device/kh/getList"
)

// API speaks the vendor's signed HTTP protocol for one account.
// Tokens pass through the shared TokenCache so restarts skip the
// network entirely while the cache is warm.
type API struct {
	endpoint string
	email    string
	password string
	tokens   *cache.TokenCache
	http     *http.Client

	logger Logger
}

// NewAPI creates an API bound to one account. An empty endpoint selects
// the production gateway.
func NewAPI(endpoint, email, password string, tokens *cache.TokenCache) *API {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &API{
		endpoint: endpoint,
		email:    email,
		password: password,
		tokens:   tokens,
		http:     &http.Client{Timeout: httpTimeout},
	}
}

// SetLogger sets the logger for this API.
func (a *API) SetLogger(logger Logger) {
	a.logger = logger
}

func (a *API) logDebug(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, keysAndValues...)
	}
}

// deviceID derives the deterministic per-account pseudo device id the
// gateway expects in clientInfo.
func (a *API) deviceID() string {
	sum := md5.Sum([]byte(a.email)) //nolint:gosec // identifier derivation
	return hex.EncodeToString(sum[:])[:16]
}

// gatewayResponse is the envelope every gateway call returns.
type gatewayResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one signed gateway request and unmarshals data into out.
func (a *API) call(ctx context.Context, method, params, token string, out any) error {
	timestamp := time.Now().UnixMilli()

	fields := map[string]string{
		"method":    method,
		"params":    params,
		"spaceId":   spaceID,
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	if token != "" {
		fields["token"] = token
	}
	signature := signRequest(fields, clientSecret)

	body := map[string]any{
		"method":    method,
		"params":    params,
		"spaceId":   spaceID,
		"timestamp": timestamp,
	}
	if token != "" {
		body["token"] = token
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-serverless-sign", signature)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	var envelope gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		msg := "unknown error"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// invoke wraps a router function call behind the function-invoke method.
func (a *API) invoke(ctx context.Context, anonToken, route string, data, out any) error {
	args := map[string]any{
		"$url": route,
		"data": data,
		"clientInfo": map[string]any{
			"PLATFORM": "app",
			"OS":       "android",
			"APPID":    appID,
			"DEVICEID": a.deviceID(),
		},
	}
	params, err := json.Marshal(map[string]any{
		"functionTarget": "router",
		"functionArgs":   args,
	})
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return a.call(ctx, methodFunctionInvoke, string(params), anonToken, out)
}

// anonymousToken returns a valid stage-1 token, from cache when fresh.
func (a *API) anonymousToken(ctx context.Context) (string, error) {
	if entry, ok := a.tokens.Get(a.email, cache.StageAnonymous); ok {
		a.logDebug("anonymous token cache hit")
		return entry.Token, nil
	}

	var data struct {
		AccessToken     string `json:"accessToken"`
		ExpiresInSecond int64  `json:"expiresInSecond"`
	}
	if err := a.call(ctx, methodAnonymousAuth, "{}", "", &data); err != nil {
		return "", fmt.Errorf("anonymous authorise: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("%w: empty anonymous token", ErrAuthFailed)
	}

	lifetime := anonymousTokenLifetime
	if data.ExpiresInSecond > 0 {
		lifetime = time.Duration(data.ExpiresInSecond) * time.Second
	}
	if err := a.tokens.Put(a.email, cache.StageAnonymous, data.AccessToken, time.Now().Add(lifetime)); err != nil {
		return "", fmt.Errorf("cache anonymous token: %w", err)
	}

	a.logDebug("anonymous token acquired", "lifetime", lifetime.String())
	return data.AccessToken, nil
}

// loginToken returns a valid stage-2 token, from cache when fresh.
func (a *API) loginToken(ctx context.Context) (string, error) {
	if entry, ok := a.tokens.Get(a.email, cache.StageLogin); ok {
		a.logDebug("login token cache hit")
		return entry.Token, nil
	}

	anonToken, err := a.anonymousToken(ctx)
	if err != nil {
		return "", err
	}

	var data struct {
		Token string `json:"token"`
	}
	credentials := map[string]string{
		"locale":   "en",
		"username": a.email,
		"password": a.password,
	}
	if err := a.invoke(ctx, anonToken, routeLogin, credentials, &data); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("%w: empty login token", ErrAuthFailed)
	}

	if err := a.tokens.Put(a.email, cache.StageLogin, data.Token, time.Now().Add(loginTokenLifetime)); err != nil {
		return "", fmt.Errorf("cache login token: %w", err)
	}

	a.logDebug("login token acquired")
	return data.Token, nil
}

// MQTTToken returns a valid stage-3 JWT for the cloud broker, running
// the earlier stages only as needed. The expiry is the JWT's own exp
// claim, so the cache never outlives the token.
func (a *API) MQTTToken(ctx context.Context) (string, error) {
	if entry, ok := a.tokens.Get(a.email, cache.StageMQTT); ok {
		a.logDebug("mqtt token cache hit")
		return entry.Token, nil
	}

	loginToken, err := a.loginToken(ctx)
	if err != nil {
		return "", err
	}
	anonToken, err := a.anonymousToken(ctx)
	if err != nil {
		return "", err
	}

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := a.invoke(ctx, anonToken, routeMQTTToken, map[string]string{"token": loginToken}, &data); err != nil {
		return "", fmt.Errorf("mqtt token: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("%w: empty mqtt token", ErrAuthFailed)
	}

	expiry, err := jwtExpiry(data.AccessToken)
	if err != nil {
		return "", fmt.Errorf("mqtt token expiry: %w", err)
	}
	if err := a.tokens.Put(a.email, cache.StageMQTT, data.AccessToken, expiry); err != nil {
		return "", fmt.Errorf("cache mqtt token: %w", err)
	}

	a.logDebug("mqtt token acquired", "expires_at", expiry.Format(time.RFC3339))
	return data.AccessToken, nil
}

// InvalidateTokens drops every cached stage for this account. Used when
// the broker rejects the session as not authorised.
func (a *API) InvalidateTokens() error {
	return a.tokens.Invalidate(a.email)
}

// jwtExpiry extracts the exp claim without verifying the signature; the
// bridge is the token's consumer, not its validator.
func jwtExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse jwt: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("jwt missing exp claim")
	}
	return exp.Time, nil
}

// deviceRow is the gateway's device-list record shape.
type deviceRow struct {
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"deviceName"`
	ProductName string `json:"productName"`
	IsOnline    bool   `json:"isOnline"`
	CreateDate  int64  `json:"createDate"` // epoch milliseconds
}

// Devices fetches the full device list, paging until the reported total
// is reached. Rows without a valid MAC-form device id are skipped.
func (a *API) Devices(ctx context.Context) ([]device.Device, error) {
	loginToken, err := a.loginToken(ctx)
	if err != nil {
		return nil, err
	}
	anonToken, err := a.anonymousToken(ctx)
	if err != nil {
		return nil, err
	}

	var devices []device.Device
	fetched := 0
	for page := 1; ; page++ {
		var data struct {
			Rows  []deviceRow `json:"rows"`
			Total int         `json:"total"`
		}
		query := map[string]any{
			"token":    loginToken,
			"page":     page,
			"pageSize": devicePageSize,
		}
		if err := a.invoke(ctx, anonToken, routeDevices, query, &data); err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrDiscoveryFailed, page, err)
		}
		fetched += len(data.Rows)

		for _, row := range data.Rows {
			// The gateway sometimes reports colon-separated ids.
			mac := device.NormalizeMAC(strings.ReplaceAll(row.DeviceID, ":", ""))
			if mac == "" {
				a.logDebug("skipping device with invalid id", "device_id", row.DeviceID)
				continue
			}
			devices = append(devices, device.Device{
				MAC:       mac,
				Name:      row.DeviceName,
				Model:     row.ProductName,
				Online:    row.IsOnline,
				CreatedAt: time.UnixMilli(row.CreateDate),
			})
		}

		// Terminate on row accounting, not kept devices: skipped rows
		// still count against the gateway's total, and a short page
		// means the list is exhausted regardless of what total claims.
		if len(data.Rows) < devicePageSize || fetched >= data.Total {
			break
		}
	}

	return devices, nil
}
