package nalunch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginBody = `{"details":{"access_token":"tok-access","refresh_token":"tok-refresh"}}`

func testAccount(t *testing.T, handler http.Handler, opts ...Option) (*Account, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, opts...)
	return NewAccount(client, Credentials{Name: "main", Username: "user", Password: "pass"}), srv
}

func TestLoginSendsAppIdentityAndStoresTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "NaLaunch/174 CFNetwork/1410.0.3 Darwin/22.6.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "gzip, deflate, br", r.Header.Get("Accept-Encoding"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "user", creds["username"])
		assert.Equal(t, "pass", creds["password"])

		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/billing", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-access", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"compensationSum":1500,"spentSum":250}`)
	})
	account, _ := testAccount(t, mux)

	require.NoError(t, account.Login(context.Background()))

	balance, err := account.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1250, balance)
}

func TestBalanceBeforeLoginFails(t *testing.T) {
	account, _ := testAccount(t, http.NewServeMux())

	_, err := account.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestPayRewritesCheckPathToApprove(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	var paid string
	mux.HandleFunc("/payment/approve/abc123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		paid = r.URL.Path
		fmt.Fprint(w, `{"details":{"amount":"420.00"}}`)
	})
	account, _ := testAccount(t, mux)
	require.NoError(t, account.Login(context.Background()))

	// The decoded QR payload may lack the leading slash.
	amount, err := account.Pay(context.Background(), "payment/check/abc123")
	require.NoError(t, err)
	assert.Equal(t, 420, amount)
	assert.Equal(t, "/payment/approve/abc123", paid)
}

func TestPayVendingSendsTransactionBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/v3/vending/transaction", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			DeviceID    int           `json:"deviceId"`
			DateTimeUtc string        `json:"dateTimeUtc"`
			Items       []VendingItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 42, body.DeviceID)
		assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}$`), body.DateTimeUtc)
		assert.Equal(t, []VendingItem{{ID: "100", Count: 2}}, body.Items)
		fmt.Fprint(w, `{"details":{"sum":300}}`)
	})
	account, _ := testAccount(t, mux)
	require.NoError(t, account.Login(context.Background()))

	sum, err := account.PayVending(context.Background(), "42", []VendingItem{{ID: "100", Count: 2}})
	require.NoError(t, err)
	assert.Equal(t, 300, sum)
}

func TestVendorFailureKeepsResponseTextVerbatim(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/payment/approve/x", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, "insufficient funds")
	})
	account, _ := testAccount(t, mux)
	require.NoError(t, account.Login(context.Background()))

	_, err := account.Pay(context.Background(), "/payment/check/x")
	require.Error(t, err)
	assert.Equal(t, "Unable to pay: code = 402, text = insufficient funds", err.Error())
}

func TestGzipResponsesAreDecoded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, loginBody)
		_ = gz.Close()
	})
	account, _ := testAccount(t, mux)

	require.NoError(t, account.Login(context.Background()))
}

func TestStaleTokenIsRefreshedBeforeCalls(t *testing.T) {
	refreshes := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/v3/account/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-access", body["accessToken"])
		assert.Equal(t, "tok-refresh", body["refreshToken"])
		fmt.Fprint(w, `{"details":{"access_token":"tok-access-2","refresh_token":"tok-refresh-2"}}`)
	})
	mux.HandleFunc("/billing", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-access-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"compensationSum":100,"spentSum":0}`)
	})
	account, _ := testAccount(t, mux, WithRefreshInterval(time.Nanosecond))
	require.NoError(t, account.Login(context.Background()))
	time.Sleep(time.Millisecond)

	balance, err := account.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
	assert.Equal(t, 1, refreshes)
}

func TestRefreshFailureIsFatalToTheOperation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/v3/account/refresh", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "token revoked")
	})
	account, _ := testAccount(t, mux, WithRefreshInterval(time.Nanosecond))
	require.NoError(t, account.Login(context.Background()))
	time.Sleep(time.Millisecond)

	_, err := account.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to refresh")
}

func TestVendingProductsNormalizeIDsAndPrices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/v2/vending/products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "42", r.URL.Query().Get("deviceId"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"details":{"items":[
			{"id":4601234567890,"name":"Water","price":"150.00"},
			{"id":"4609876543210","name":"Sandwich","price":300}
		]}}`)
	})
	account, _ := testAccount(t, mux)
	require.NoError(t, account.Login(context.Background()))

	products, err := account.GetVendingProducts(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, Product{ID: "4601234567890", Name: "Water", Price: 150}, products[0])
	assert.Equal(t, Product{ID: "4609876543210", Name: "Sandwich", Price: 300}, products[1])
}

func TestVendingNameLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/account/auth", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, loginBody)
	})
	mux.HandleFunc("/v3/vending/77", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"details":{"restaurantName":"Office Lobby"}}`)
	})
	account, _ := testAccount(t, mux)
	require.NoError(t, account.Login(context.Background()))

	name, err := account.GetVendingName(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "Office Lobby", name)
}
