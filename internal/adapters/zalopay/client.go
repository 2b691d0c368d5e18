package zalopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/platform/breaker"
	"github.com/fitstack/membership-payments/internal/platform/metrics"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	createPath = "/create"
	queryPath  = "/query"

	createSuccess = 1
)

// Config holds what the client needs to talk to the gateway.
type Config struct {
	AppID       string
	Key1        string
	Endpoint    string
	CallbackURL string
	RedirectURL string
	Timeout     time.Duration
}

// Client implements ports.PaymentGateway over the ZaloPay v2 HTTP API.
type Client struct {
	appID       json.Number
	endpoint    string
	callbackURL string
	redirectURL string
	signer      *OrderSigner
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	metrics     *metrics.Recorder
	now         func() time.Time
}

// NewClient creates a gateway client. Every request is bounded by cfg.Timeout.
func NewClient(cfg Config, logger *zap.Logger, rec *metrics.Recorder) (*Client, error) {
	if _, err := strconv.ParseInt(cfg.AppID, 10, 64); err != nil {
		return nil, fmt.Errorf("zalopay app id %q must be numeric: %w", cfg.AppID, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		appID:       json.Number(cfg.AppID),
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		callbackURL: cfg.CallbackURL,
		redirectURL: cfg.RedirectURL,
		signer:      NewOrderSigner(cfg.AppID, cfg.Key1),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb:      breaker.New("zalopay", logger),
		metrics: rec,
		now:     time.Now,
	}, nil
}

type createOrderRequest struct {
	AppID       json.Number `json:"app_id"`
	AppTransID  string      `json:"app_trans_id"`
	AppUser     string      `json:"app_user"`
	AppTime     int64       `json:"app_time"`
	Amount      int64       `json:"amount"`
	Item        string      `json:"item"`
	EmbedData   string      `json:"embed_data"`
	Description string      `json:"description"`
	BankCode    string      `json:"bank_code"`
	CallbackURL string      `json:"callback_url,omitempty"`
	MAC         string      `json:"mac"`
}

type createOrderResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZPTransToken     string `json:"zp_trans_token"`
	OrderToken       string `json:"order_token"`
}

type embedData struct {
	RedirectURL string `json:"redirecturl"`
}

type orderItem struct {
	ItemID       string `json:"itemid"`
	ItemName     string `json:"itemname"`
	ItemPrice    int64  `json:"itemprice"`
	ItemQuantity int    `json:"itemquantity"`
}

type queryRequest struct {
	AppID      json.Number `json:"app_id"`
	AppTransID string      `json:"app_trans_id"`
	MAC        string      `json:"mac"`
}

// CreateOrder registers the payment with the gateway under the transaction id
// <yymmdd>_<orderId>. Any transport failure or non-success return code is an
// error wrapping domain.ErrGateway.
func (c *Client) CreateOrder(ctx context.Context, payment *domain.Payment) (*domain.GatewayOrder, error) {
	embed, err := json.Marshal(embedData{RedirectURL: c.redirectURL})
	if err != nil {
		return nil, err
	}
	items, err := json.Marshal([]orderItem{{
		ItemID:       fmt.Sprintf("membership-%d", payment.MembershipID),
		ItemName:     "membership",
		ItemPrice:    payment.AmountPaid,
		ItemQuantity: 1,
	}})
	if err != nil {
		return nil, err
	}

	req := createOrderRequest{
		AppID:       c.appID,
		AppTransID:  domain.NewTransactionID(payment.CreatedAt, payment.OrderID),
		AppUser:     strconv.FormatInt(payment.UserID, 10),
		AppTime:     c.now().UnixMilli(),
		Amount:      payment.AmountPaid,
		Item:        string(items),
		EmbedData:   string(embed),
		Description: fmt.Sprintf("Membership payment #%s", payment.OrderID),
		CallbackURL: c.callbackURL,
	}
	req.MAC = c.signer.SignCreate(req.AppTransID, req.AppUser, req.Amount, req.AppTime, req.EmbedData, req.Item)

	var resp createOrderResponse
	if err := c.post(ctx, "create", createPath, req, &resp); err != nil {
		return nil, err
	}

	if resp.ReturnCode != createSuccess || resp.OrderURL == "" {
		return nil, domain.NewServiceError(domain.ErrGateway,
			fmt.Sprintf("gateway rejected order %s: %d/%d %s", req.AppTransID,
				resp.ReturnCode, resp.SubReturnCode, firstNonEmpty(resp.SubReturnMessage, resp.ReturnMessage)),
			"GATEWAY_REJECTED")
	}

	return &domain.GatewayOrder{
		TransactionID: req.AppTransID,
		OrderURL:      resp.OrderURL,
		ZPTransToken:  resp.ZPTransToken,
	}, nil
}

// QueryStatus asks the gateway for the state of appTransID.
func (c *Client) QueryStatus(ctx context.Context, appTransID string) (*domain.GatewayStatusResult, error) {
	req := queryRequest{
		AppID:      c.appID,
		AppTransID: appTransID,
		MAC:        c.signer.SignQuery(appTransID),
	}

	var resp domain.GatewayStatusResult
	if err := c.post(ctx, "query", queryPath, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) post(ctx context.Context, operation, path string, body, out any) error {
	start := time.Now()

	_, err := breaker.Execute(c.cb, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, path, body, out)
	})

	c.metrics.ObserveGateway(operation, start, err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewServiceError(domain.ErrGateway, "gateway circuit open: "+err.Error(), "GATEWAY_UNAVAILABLE")
	}

	return err
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return domain.NewServiceError(domain.ErrGateway,
			"failed to marshal payload", "MARSHAL_ERROR")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.NewServiceError(domain.ErrGateway,
			"failed to create request", "REQUEST_ERROR")
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewServiceError(domain.ErrGateway,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewServiceError(domain.ErrGateway,
			fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, string(respBody)),
			"GATEWAY_HTTP_STATUS")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewServiceError(domain.ErrGateway,
			"failed to decode response: "+err.Error(), "DECODE_ERROR")
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
