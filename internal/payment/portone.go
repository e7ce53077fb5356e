package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type PortOneGateway struct {
	httpClient *http.Client
	baseURL    string
	apiSecret  string
}

func NewPortOneGateway(baseURL, apiSecret string, timeout time.Duration) *PortOneGateway {
	return &PortOneGateway{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiSecret:  apiSecret,
	}
}

type portOnePayment struct {
	Status string `json:"status"`
	Amount struct {
		Total int64 `json:"total"`
		Paid  int64 `json:"paid"`
	} `json:"amount"`
	Currency   string `json:"currency"`
	CustomData string `json:"customData"`
}

func (g *PortOneGateway) LookupPayment(ctx context.Context, paymentRef string) (*PaymentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/payments/"+url.PathEscape(paymentRef), nil)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "PortOne "+g.apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Provider: "portone", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var p portOnePayment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode portone payment: %w", err)
	}

	return &PaymentInfo{
		Reference:  paymentRef,
		Status:     strings.ToUpper(p.Status),
		PaidAmount: p.Amount.Paid,
		Currency:   p.Currency,
		CustomData: parseCustomData(p.CustomData),
	}, nil
}

// parseCustomData reads the JSON object the storefront attaches to a
// payment. Anything that is not an object yields an empty map.
func parseCustomData(raw string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return out
	}
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
