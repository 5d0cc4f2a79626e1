package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PaymentClient is the payment gate contract: a single question, "has this
// booking's payment been verified".
type PaymentClient interface {
	VerifyPayment(ctx context.Context, referenceCode string) (bool, error)
}

type HTTPPaymentClient struct {
	baseURL string
	client  *http.Client
}

func InitPaymentClient(url string) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: strings.TrimRight(url, "/"),
		client:  &http.Client{Timeout: 500 * time.Millisecond},
	}
}

type paymentStatusResponse struct {
	ReferenceCode string `json:"reference_code"`
	Verified      bool   `json:"verified"`
}

func (c *HTTPPaymentClient) VerifyPayment(ctx context.Context, referenceCode string) (bool, error) {
	url := fmt.Sprintf("%s/payments/%s/status", c.baseURL, referenceCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("payment gate returned %d", res.StatusCode)
	}
	var body paymentStatusResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Verified, nil
}
