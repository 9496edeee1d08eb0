package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradepilot/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GatewayConfig - настройки HTTP клиента venue gateway
type GatewayConfig struct {
	BaseURL        string
	RequestTimeout time.Duration

	// Connection pooling
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Rate limiting запросов к шлюзу (req/sec и burst)
	RateLimit float64
	RateBurst float64
}

// DefaultGatewayConfig возвращает конфигурацию по умолчанию
func DefaultGatewayConfig(baseURL string) GatewayConfig {
	return GatewayConfig{
		BaseURL:             baseURL,
		RequestTimeout:      10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		RateLimit:           10,
		RateBurst:           20,
	}
}

// GatewayClient - HTTP клиент внешнего venue gateway.
// Реализует Venue поверх REST API шлюза. Подписывающий credential
// в шлюз уходит только как opaque ref в заголовке, тело запросов
// и ответы его не содержат.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.RateLimiter
}

// NewGatewayClient создает клиент с connection pooling
func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
	}

	return &GatewayClient{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		limiter: ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

// Close закрывает idle соединения при graceful shutdown
func (g *GatewayClient) Close() {
	if transport, ok := g.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// OpenPosition открывает позицию через шлюз
func (g *GatewayClient) OpenPosition(ctx context.Context, credentialRef string, req OpenRequest) (int, error) {
	var resp struct {
		PairIndex int `json:"pair_index"`
	}
	err := g.call(ctx, http.MethodPost, "/v1/positions/open", credentialRef, req, &resp)
	if err != nil {
		return 0, wrapErr("gateway", "open", err)
	}
	return resp.PairIndex, nil
}

// ClosePosition закрывает позицию через шлюз
func (g *GatewayClient) ClosePosition(ctx context.Context, credentialRef string, pairIndex int) error {
	path := fmt.Sprintf("/v1/positions/%d/close", pairIndex)
	err := g.call(ctx, http.MethodPost, path, credentialRef, nil, nil)
	return wrapErr("gateway", "close", err)
}

// CloseAllPositions закрывает все позиции аккаунта через шлюз
func (g *GatewayClient) CloseAllPositions(ctx context.Context, credentialRef string) (int, error) {
	var resp struct {
		Closed int `json:"closed"`
	}
	err := g.call(ctx, http.MethodPost, "/v1/positions/close-all", credentialRef, nil, &resp)
	if err != nil {
		return 0, wrapErr("gateway", "close_all", err)
	}
	return resp.Closed, nil
}

// GetPositions возвращает открытые позиции публичного адреса
func (g *GatewayClient) GetPositions(ctx context.Context, address string) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/positions", address)
	err := g.call(ctx, http.MethodGet, path, "", nil, &resp)
	if err != nil {
		return nil, wrapErr("gateway", "positions", err)
	}
	return resp.Positions, nil
}

// GetTotalPnl возвращает суммарный PNL публичного адреса
func (g *GatewayClient) GetTotalPnl(ctx context.Context, address string) (float64, error) {
	var resp struct {
		Pnl float64 `json:"pnl"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/pnl", address)
	err := g.call(ctx, http.MethodGet, path, "", nil, &resp)
	if err != nil {
		return 0, wrapErr("gateway", "pnl", err)
	}
	return resp.Pnl, nil
}

// call выполняет запрос к шлюзу и маппит HTTP статусы на доменные ошибки
func (g *GatewayClient) call(ctx context.Context, method, path, credentialRef string, body, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if credentialRef != "" {
		req.Header.Set("X-Credential-Ref", credentialRef)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPositionNotFound
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrInsufficientMargin
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnknownCredential
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrVenueUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
