package nalunch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VendingItem is one line of a vending transaction.
type VendingItem struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Product is one purchasable item of a vending device.
type Product struct {
	ID    string
	Name  string
	Price int
}

// flexInt accepts JSON numbers and numeric strings; the vendor is not
// consistent about which it sends.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("numeric string expected, got %s", s)
		}
		s = strings.TrimSpace(unquoted)
	}
	// Some fields arrive as decimals ("150.00"); truncate like the app does.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = flexInt(v)
	return nil
}

// flexString accepts JSON strings and numbers, normalizing both to a string.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type tokenDetails struct {
	Details struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"details"`
}

type billingResponse struct {
	CompensationSum flexInt `json:"compensationSum"`
	SpentSum        flexInt `json:"spentSum"`
}

type payResponse struct {
	Details struct {
		Amount flexInt `json:"amount"`
	} `json:"details"`
}

type vendingPayResponse struct {
	Details struct {
		Sum flexInt `json:"sum"`
	} `json:"details"`
}

type vendingInfoResponse struct {
	Details struct {
		RestaurantName string `json:"restaurantName"`
	} `json:"details"`
}

type vendingProductsResponse struct {
	Details struct {
		Items []struct {
			ID    flexString `json:"id"`
			Name  string     `json:"name"`
			Price flexInt    `json:"price"`
		} `json:"items"`
	} `json:"details"`
}
