package nalunch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/nalunchbot/core/logger"
)

// Credentials identify one NaLunch account.
type Credentials struct {
	Name     string
	Username string
	Password string
}

// Account is an authenticated NaLunch session for a single set of credentials.
// It refreshes its access token automatically once it goes stale.
type Account struct {
	client *Client
	creds  Credentials

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshed    time.Time
}

// NewAccount binds credentials to a vendor client. Login must be called
// before any authenticated operation.
func NewAccount(client *Client, creds Credentials) *Account {
	return &Account{client: client, creds: creds}
}

// Name returns the configured display name of the account.
func (a *Account) Name() string { return a.creds.Name }

// Login authenticates the account and stores the token pair.
func (a *Account) Login(ctx context.Context) error {
	var out tokenDetails
	err := a.client.do(ctx, "login", http.MethodPost, a.client.baseURL+"/v3/account/auth", "", map[string]string{
		"username": a.creds.Username,
		"password": a.creds.Password,
	}, &out)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.accessToken = out.Details.AccessToken
	a.refreshToken = out.Details.RefreshToken
	a.refreshed = time.Now()
	a.mu.Unlock()

	logger.Info(ctx, "nalunch", "nalunch.login",
		slog.String("account", a.creds.Name),
	)
	return nil
}

// token returns a fresh access token, refreshing the pair first when the
// staleness window has elapsed. Refresh failure is fatal to the caller's
// operation; there is no silent retry.
func (a *Account) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken == "" {
		return "", fmt.Errorf("account %q is not logged in", a.creds.Name)
	}
	if time.Since(a.refreshed) <= a.client.refreshInterval {
		return a.accessToken, nil
	}

	var out tokenDetails
	err := a.client.do(ctx, "refresh", http.MethodPost, a.client.baseURL+"/v3/account/refresh", "", map[string]string{
		"accessToken":  a.accessToken,
		"refreshToken": a.refreshToken,
	}, &out)
	if err != nil {
		return "", err
	}
	a.accessToken = out.Details.AccessToken
	a.refreshToken = out.Details.RefreshToken
	a.refreshed = time.Now()

	logger.Debug(ctx, "nalunch", "nalunch.refresh",
		slog.String("account", a.creds.Name),
	)
	return a.accessToken, nil
}

// GetBalance returns the spendable balance in whole currency units.
func (a *Account) GetBalance(ctx context.Context) (int, error) {
	token, err := a.token(ctx)
	if err != nil {
		return 0, err
	}
	var out billingResponse
	if err := a.client.do(ctx, "get balance", http.MethodGet, a.client.baseURL+"/billing", token, nil, &out); err != nil {
		return 0, err
	}
	return int(out.CompensationSum) - int(out.SpentSum), nil
}

// Pay settles a QR bill identified by its decoded path and returns the
// charged amount. A "/check" segment in the path is rewritten to "/approve":
// the QR encodes the bill preview URL, the approve URL commits it.
func (a *Account) Pay(ctx context.Context, path string) (int, error) {
	token, err := a.token(ctx)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.ReplaceAll(path, "/check", "/approve")

	var out payResponse
	if err := a.client.do(ctx, "pay", http.MethodPut, a.client.baseURL+path, token, nil, &out); err != nil {
		return 0, err
	}

	logger.Info(ctx, "nalunch", "nalunch.pay",
		slog.String("account", a.creds.Name),
		slog.Int("amount", int(out.Details.Amount)),
	)
	return int(out.Details.Amount), nil
}

// PayVending settles a vending transaction for the given device and item
// counts, returning the charged sum.
func (a *Account) PayVending(ctx context.Context, deviceID string, items []VendingItem) (int, error) {
	token, err := a.token(ctx)
	if err != nil {
		return 0, err
	}
	numericID, err := strconv.Atoi(deviceID)
	if err != nil {
		return 0, fmt.Errorf("invalid vending device id %q: %w", deviceID, err)
	}

	body := map[string]any{
		"deviceId":    numericID,
		"dateTimeUtc": time.Now().UTC().Format("2006-01-02T15:04:05.000"),
		"items":       items,
	}
	var out vendingPayResponse
	if err := a.client.do(ctx, "pay", http.MethodPost, a.client.baseURL+"/v3/vending/transaction", token, body, &out); err != nil {
		return 0, err
	}

	logger.Info(ctx, "nalunch", "nalunch.pay_vending",
		slog.String("account", a.creds.Name),
		slog.String("device_id", deviceID),
		slog.Int("items", len(items)),
		slog.Int("amount", int(out.Details.Sum)),
	)
	return int(out.Details.Sum), nil
}

// GetVendingName resolves the display name of a vending device.
func (a *Account) GetVendingName(ctx context.Context, deviceID string) (string, error) {
	token, err := a.token(ctx)
	if err != nil {
		return "", err
	}
	var out vendingInfoResponse
	if err := a.client.do(ctx, "get vending info", http.MethodGet, a.client.baseURL+"/v3/vending/"+deviceID, token, nil, &out); err != nil {
		return "", err
	}
	return out.Details.RestaurantName, nil
}

// GetVendingProducts lists the products loaded into a vending device.
func (a *Account) GetVendingProducts(ctx context.Context, deviceID string) ([]Product, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/vending/products?deviceId=%s&page=1&limit=50", a.client.baseURL, deviceID)
	var out vendingProductsResponse
	if err := a.client.do(ctx, "get vending products", http.MethodPost, url, token, map[string]string{
		"code": "string",
	}, &out); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(out.Details.Items))
	for _, item := range out.Details.Items {
		products = append(products, Product{
			ID:    string(item.ID),
			Name:  item.Name,
			Price: int(item.Price),
		})
	}
	return products, nil
}
