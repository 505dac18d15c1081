// Package carrier talks to the shipping aggregator's REST API. Every call
// goes through one circuit breaker and fails with DEPENDENCY_ERROR.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
)

const (
	breakerName   = "carrier"
	tokenCacheKey = "token"

	StepAuthenticate   = "authenticate"
	StepPickupLocation = "pickup_location"
	StepCreateOrder    = "create_order"
	StepAssignAWB      = "assign_awb"
	StepInvoice        = "generate_invoice"
)

// TokenCache stores the bearer token between processes. pkg/redis.Client
// satisfies it.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

type callObserver interface {
	ObserveCarrierCall(operation string, err error, elapsed time.Duration)
	SetBreakerState(name string, state int)
}

type Client struct {
	http    *resty.Client
	cfg     config.CarrierConfig
	cache   TokenCache
	breaker *gobreaker.CircuitBreaker
	metrics callObserver
	logg    *logger.Logger

	logins   singleflight.Group
	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient builds a carrier client. cache and observer may be nil.
func NewClient(cfg config.CarrierConfig, cache TokenCache, logg *logger.Logger, observer callObserver) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("carrier base url required")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("carrier credentials required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json"),
		cfg:     cfg,
		cache:   cache,
		metrics: observer,
		logg:    logg,
	}
	c.breaker = gobreaker.NewCircuitBreaker(c.breakerSettings())
	c.setBreakerState(gobreaker.StateClosed)
	return c, nil
}

func (c *Client) breakerSettings() gobreaker.Settings {
	maxRequests := c.cfg.BreakerMaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	return gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: maxRequests,
		Interval:    c.cfg.BreakerInterval,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Rejected payloads mean the carrier is healthy.
			status := StatusOf(err)
			return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusUnauthorized
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.setBreakerState(to)
			c.logg.Warn(c.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}), "carrier circuit breaker state changed")
		},
	}
}

func (c *Client) setBreakerState(state gobreaker.State) {
	if c.metrics == nil {
		return
	}
	value := metrics.BreakerClosed
	switch state {
	case gobreaker.StateOpen:
		value = metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		value = metrics.BreakerHalfOpen
	}
	c.metrics.SetBreakerState(breakerName, value)
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Authenticate returns a bearer token, logging in when neither the memory
// nor the shared cache holds a live one. Concurrent callers share a single
// login; the mutex only guards the token fields.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if token, ok := c.liveToken(); ok {
		return token, nil
	}
	v, err, _ := c.logins.Do(tokenCacheKey, func() (any, error) {
		if token, ok := c.liveToken(); ok {
			return token, nil
		}
		return c.login(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) liveToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, true
	}
	return "", false
}

func (c *Client) storeToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.tokenExp = time.Now().Add(c.cfg.TokenTTL)
}

func (c *Client) login(ctx context.Context) (string, error) {
	cacheKey := ""
	if c.cache != nil {
		cacheKey = c.cache.CacheKey("carrier", tokenCacheKey)
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			c.storeToken(cached)
			return cached, nil
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(loginRequest{Email: c.cfg.Email, Password: c.cfg.Password}).
		Post("/auth/login")
	if err != nil {
		return "", dependencyError(StepAuthenticate, 0, err.Error(), err)
	}
	if resp.IsError() {
		return "", dependencyError(StepAuthenticate, resp.StatusCode(), errorMessage(resp), nil)
	}
	var out loginResponse
	if err := decodeBody(StepAuthenticate, resp, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", dependencyError(StepAuthenticate, resp.StatusCode(), "carrier returned no token", nil)
	}

	c.storeToken(out.Token)
	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, out.Token, c.cfg.TokenTTL); err != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "failed to cache carrier token")
		}
	}
	return out.Token, nil
}

func (c *Client) invalidateToken(ctx context.Context, stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != stale {
		return
	}
	c.token = ""
	c.tokenExp = time.Time{}
	if c.cache != nil {
		if err := c.cache.Set(ctx, c.cache.CacheKey("carrier", tokenCacheKey), "", time.Second); err != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "failed to clear cached carrier token")
		}
	}
}

// EnsurePickupLocation registers loc. A location that already exists counts
// as success.
func (c *Client) EnsurePickupLocation(ctx context.Context, loc PickupLocation) error {
	err := c.call(ctx, StepPickupLocation, "/settings/company/addpickup", loc, nil)
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*CreatedOrder, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = "Prepaid"
	}
	var out CreatedOrder
	if err := c.call(ctx, StepCreateOrder, "/orders/create/adhoc", req, &out); err != nil {
		return nil, err
	}
	if out.ShipmentID == 0 {
		return nil, dependencyError(StepCreateOrder, http.StatusOK, "carrier returned no shipment id", nil)
	}
	return &out, nil
}

func (c *Client) AssignAWB(ctx context.Context, shipmentID int64) (*Assignment, error) {
	var out awbResponse
	if err := c.call(ctx, StepAssignAWB, "/courier/assign/awb", awbRequest{ShipmentID: shipmentID}, &out); err != nil {
		return nil, err
	}
	data := out.Response.Data
	if out.AssignStatus != 1 || data.AWBCode == "" {
		msg := out.Message
		if msg == "" {
			msg = "awb not assigned"
		}
		return nil, dependencyError(StepAssignAWB, http.StatusOK, msg, nil)
	}
	return &Assignment{AWBCode: data.AWBCode, CourierName: data.CourierName}, nil
}

// GenerateInvoice returns the invoice URL for a carrier order.
func (c *Client) GenerateInvoice(ctx context.Context, carrierOrderID int64) (string, error) {
	var out invoiceResponse
	if err := c.call(ctx, StepInvoice, "/orders/print/invoice", invoiceRequest{IDs: []int64{carrierOrderID}}, &out); err != nil {
		return "", err
	}
	if !out.Created || out.InvoiceURL == "" {
		return "", dependencyError(StepInvoice, http.StatusOK, "invoice not created", nil)
	}
	return out.InvoiceURL, nil
}

func (c *Client) call(ctx context.Context, step, path string, body, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, step, path, body, out, true)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = dependencyError(step, 0, "carrier circuit open", err)
	}
	if c.metrics != nil {
		c.metrics.ObserveCarrierCall(step, err, time.Since(start))
	}
	return err
}

func (c *Client) post(ctx context.Context, step, path string, body, out any, allowReauth bool) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		Post(path)
	if err != nil {
		return dependencyError(step, 0, err.Error(), err)
	}
	if resp.StatusCode() == http.StatusUnauthorized && allowReauth {
		c.invalidateToken(ctx, token)
		return c.post(ctx, step, path, body, out, false)
	}
	if resp.IsError() {
		return dependencyError(step, resp.StatusCode(), errorMessage(resp), nil)
	}
	return decodeBody(step, resp, out)
}

// decodeBody reads the JSON body regardless of the Content-Type the carrier
// sent; several endpoints answer with text/html or no type at all.
func decodeBody(step string, resp *resty.Response, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return dependencyError(step, resp.StatusCode(), "decode response: "+err.Error(), err)
	}
	return nil
}

// StatusOf returns the carrier HTTP status recorded on err, or 0.
func StatusOf(err error) int {
	typed := pkgerrors.As(err)
	if typed == nil {
		return 0
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return 0
	}
	status, _ := details["status"].(int)
	return status
}

// StepOf returns the carrier step recorded on err.
func StepOf(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	step, _ := details["step"].(string)
	return step
}

func dependencyError(step string, status int, message string, cause error) error {
	msg := fmt.Sprintf("carrier %s failed: %s", step, message)
	details := map[string]any{"step": step, "status": status}
	if cause != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, msg).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodeDependency, msg).WithDetails(details)
}

func errorMessage(resp *resty.Response) string {
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return resp.Status()
	}
	var parsed errorBody
	if err := json.Unmarshal(resp.Body(), &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return body
}

func isAlreadyExists(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil || StatusOf(err) < 400 || StatusOf(err) >= 500 {
		return false
	}
	msg := strings.ToLower(typed.Message())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already in use")
}
