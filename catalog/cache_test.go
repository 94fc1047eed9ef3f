package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/nalunchbot/nalunch"
)

func TestProductsCachesUntilExpiry(t *testing.T) {
	calls := 0
	cache := New(time.Hour, func(_ context.Context, deviceID string) ([]nalunch.Product, error) {
		calls++
		require.Equal(t, "42", deviceID)
		return []nalunch.Product{
			{ID: "100", Name: "Water", Price: 150},
			{ID: "200", Name: "Sandwich", Price: 300},
		}, nil
	})

	first, err := cache.Products(context.Background(), "42")
	require.NoError(t, err)
	second, err := cache.Products(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, nalunch.Product{ID: "100", Name: "Water", Price: 150}, first["100"])
}

func TestProductsRefreshesAfterTTL(t *testing.T) {
	calls := 0
	cache := New(30*time.Millisecond, func(context.Context, string) ([]nalunch.Product, error) {
		calls++
		return []nalunch.Product{{ID: "100", Name: "Water", Price: 150}}, nil
	})

	_, err := cache.Products(context.Background(), "42")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = cache.Products(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestProductsDoesNotCacheFailures(t *testing.T) {
	calls := 0
	fail := true
	cache := New(time.Hour, func(context.Context, string) ([]nalunch.Product, error) {
		calls++
		if fail {
			return nil, errors.New("vendor down")
		}
		return []nalunch.Product{{ID: "100", Name: "Water", Price: 150}}, nil
	})

	_, err := cache.Products(context.Background(), "42")
	require.Error(t, err)

	fail = false
	products, err := cache.Products(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, products, 1)
}

func TestDevicesAreCachedIndependently(t *testing.T) {
	cache := New(time.Hour, func(_ context.Context, deviceID string) ([]nalunch.Product, error) {
		if deviceID == "42" {
			return []nalunch.Product{{ID: "100", Name: "Water", Price: 150}}, nil
		}
		return []nalunch.Product{{ID: "300", Name: "Chips", Price: 90}}, nil
	})

	a, err := cache.Products(context.Background(), "42")
	require.NoError(t, err)
	b, err := cache.Products(context.Background(), "77")
	require.NoError(t, err)

	assert.Contains(t, a, "100")
	assert.NotContains(t, a, "300")
	assert.Contains(t, b, "300")
}
