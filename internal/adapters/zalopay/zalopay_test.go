package zalopay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAppID = "2553"
	testKey1  = "k1"
	testKey2  = "k2"
)

var testNow = time.UnixMilli(1735689600000) // 2025-01-01T00:00:00Z

func TestSign_KnownVector(t *testing.T) {
	assert.Equal(t,
		"a236aee79d61e8982d5e8ec54de38e04248d008a0d53a1455d9f5b7ecf03438d",
		Sign("secret", "a", "b", "c"))
}

func TestOrderSigner_FieldOrder(t *testing.T) {
	s := NewOrderSigner(testAppID, testKey1)

	got := s.SignCreate(
		"250101_PAY17356896000007",
		"7",
		100000,
		1735689600000,
		`{"redirecturl":"https://gym.example.com"}`,
		`[{"itemid":"membership-3","itemname":"membership","itemprice":100000,"itemquantity":1}]`,
	)
	assert.Equal(t, "25460759e83e6e7ea58fa0fb6a65210485867f087a81ae000f9e05284441fd1f", got)

	assert.Equal(t,
		"4b4bdd23efa76629f25ef8d21cc7213f8e7dd4e308cf97594cdf3c8c6577ec2b",
		s.SignQuery("250101_PAY1237"))
}

func TestCallbackVerifier(t *testing.T) {
	v := NewCallbackVerifier(testKey2)
	data := `{"app_trans_id":"250101_PAY1237","status":1}`
	mac := "454e9a8ddf1c2b906613fe205f6a7a29f33c3865bb118fd7ac46dbae7826ae3b"

	assert.True(t, v.Verify(data, mac))
	assert.True(t, v.Verify(data, Sign(testKey2, data)))

	tampered := []byte(data)
	tampered[len(tampered)-2] = '2'
	assert.False(t, v.Verify(string(tampered), mac))

	assert.False(t, v.Verify(data, Sign(testKey1, data)), "signed with the order key")
	assert.False(t, v.Verify(data, ""))
	assert.False(t, v.Verify("", mac))
	assert.False(t, NewCallbackVerifier("").Verify(data, Sign("", data)))
}

func TestCallbackVerifier_AcceptsUppercaseHex(t *testing.T) {
	v := NewCallbackVerifier(testKey2)
	data := `{"app_trans_id":"250101_PAY1237","status":1}`

	assert.True(t, v.Verify(data, "454E9A8DDF1C2B906613FE205F6A7A29F33C3865BB118FD7AC46DBAE7826AE3B"))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c, err := NewClient(Config{
		AppID:       testAppID,
		Key1:        testKey1,
		Endpoint:    endpoint + "/",
		CallbackURL: "https://api.example.com/payment/callback",
		RedirectURL: "https://gym.example.com",
		Timeout:     time.Second,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	c.now = func() time.Time { return testNow }
	return c
}

func testPayment() *domain.Payment {
	return &domain.Payment{
		ID:           1,
		UserID:       7,
		MembershipID: 3,
		AmountPaid:   100000,
		OrderID:      "PAY17356896000007",
		CreatedAt:    testNow,
	}
}

func TestNewClient_RejectsNonNumericAppID(t *testing.T) {
	_, err := NewClient(Config{AppID: "app"}, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestClient_CreateOrder(t *testing.T) {
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"return_code":    1,
			"return_message": "Giao dịch thành công",
			"order_url":      "https://qcgateway.zalopay.vn/openinapp?order=abc",
			"zp_trans_token": "tok",
		})
	}))
	defer srv.Close()

	order, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), testPayment())
	require.NoError(t, err)

	assert.Equal(t, "250101_PAY17356896000007", order.TransactionID)
	assert.Equal(t, "https://qcgateway.zalopay.vn/openinapp?order=abc", order.OrderURL)
	assert.Equal(t, "tok", order.ZPTransToken)

	assert.Equal(t, 2553.0, got["app_id"])
	assert.Equal(t, "250101_PAY17356896000007", got["app_trans_id"])
	assert.Equal(t, "7", got["app_user"])
	assert.Equal(t, 100000.0, got["amount"])
	assert.Equal(t, 1735689600000.0, got["app_time"])
	assert.Equal(t, `{"redirecturl":"https://gym.example.com"}`, got["embed_data"])
	assert.Equal(t, "https://api.example.com/payment/callback", got["callback_url"])
	assert.Equal(t, "25460759e83e6e7ea58fa0fb6a65210485867f087a81ae000f9e05284441fd1f", got["mac"])
}

func TestClient_CreateOrder_RejectedByGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"return_code":        2,
			"return_message":     "Giao dịch thất bại",
			"sub_return_code":    -402,
			"sub_return_message": "mac invalid",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), testPayment())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateway))
	assert.Contains(t, err.Error(), "mac invalid")
}

func TestClient_CreateOrder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateOrder(context.Background(), testPayment())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateway))

	var svcErr *domain.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "GATEWAY_HTTP_STATUS", svcErr.Code)
}

func TestClient_CreateOrder_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.CreateOrder(context.Background(), testPayment())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateway))
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := c.QueryStatus(context.Background(), "250101_PAY1")
		require.Error(t, err)
	}

	_, err := c.QueryStatus(context.Background(), "250101_PAY1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateway))
	assert.Equal(t, int32(5), hits.Load())
}

func TestClient_QueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "250101_PAY1237", req["app_trans_id"])
		assert.Equal(t, "4b4bdd23efa76629f25ef8d21cc7213f8e7dd4e308cf97594cdf3c8c6577ec2b", req["mac"])

		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"","is_processing":false,"amount":100000,"zp_trans_id":250101000000123}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).QueryStatus(context.Background(), "250101_PAY1237")
	require.NoError(t, err)

	assert.Equal(t, domain.GatewayQuerySuccess, res.ReturnCode)
	assert.Equal(t, int64(100000), res.Amount)
	assert.Equal(t, int64(250101000000123), res.ZPTransID)
}
