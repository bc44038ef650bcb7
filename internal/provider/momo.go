package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

const momoChargePath = "/api/v1/collections/request-to-pay"

// MoMoAdapter requests a mobile-money collection from the customer's phone.
type MoMoAdapter struct {
	baseURL   string
	publicKey string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

func NewMoMoAdapter(p *providerDatamodel.Provider, deps Deps) (Adapter, error) {
	baseURL := strings.TrimRight(p.BaseURL, "/")
	switch {
	case baseURL == "":
		return nil, fmt.Errorf("provider %s: base url is missing", p.Name)
	case p.APIKey == "":
		return nil, fmt.Errorf("provider %s: public key is missing", p.Name)
	case p.APISecret == "":
		return nil, fmt.Errorf("provider %s: secret key is missing", p.Name)
	}
	return &MoMoAdapter{
		baseURL:   baseURL,
		publicKey: p.APIKey,
		secretKey: p.APISecret,
		client:    deps.HTTPClient,
		logger:    deps.Logger,
	}, nil
}

func (a *MoMoAdapter) Type() string {
	return providerDatamodel.TypeMoMo
}

type momoChargeRequest struct {
	Phone             string `json:"phone"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	ExternalReference string `json:"external_reference"`
	CallbackURL       string `json:"callback_url,omitempty"`
}

type momoChargeResponse struct {
	Reference string `json:"reference"`
	UUID      string `json:"uuid"`
	Data      *struct {
		Reference string `json:"reference"`
		UUID      string `json:"uuid"`
	} `json:"data"`
}

func (r momoChargeResponse) reference() string {
	if ref := firstNonEmpty(r.Reference, r.UUID); ref != "" {
		return ref
	}
	if r.Data != nil {
		return firstNonEmpty(r.Data.Reference, r.Data.UUID)
	}
	return ""
}

func (a *MoMoAdapter) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return "", errors.New("momo: phone number is required")
	}

	body, err := json.Marshal(momoChargeRequest{
		Phone:             phone,
		Amount:            req.Amount.IntPart(),
		Currency:          req.Currency,
		ExternalReference: req.PaymentID,
		CallbackURL:       req.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("momo: marshal charge: %w", err)
	}

	status, payload, err := a.post(ctx, a.baseURL+momoChargePath, body)
	if err != nil {
		return "", err
	}
	// some deployments only route the slash-terminated path
	if status == http.StatusNotFound {
		status, payload, err = a.post(ctx, a.baseURL+momoChargePath+"/", body)
		if err != nil {
			return "", err
		}
	}
	if status >= http.StatusBadRequest {
		return "", fmt.Errorf("momo: status %d: %s", status, truncate(payload, 256))
	}

	var resp momoChargeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("momo: non-JSON success response: %w", err)
	}
	ref := resp.reference()
	if ref == "" {
		return "", fmt.Errorf("momo: response missing reference: %s", truncate(payload, 256))
	}

	logger.FromOr(ctx, a.logger).Info("momo collection requested",
		"payment_id", req.PaymentID,
		"provider_reference", ref)
	return ref, nil
}

func (a *MoMoAdapter) post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("momo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-PUBLIC-KEY", a.publicKey)
	httpReq.Header.Set("X-SECRET-KEY", a.secretKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("momo: request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("momo: read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

// VerifyCallback expects the HMAC of the body keyed with the secret key.
func (a *MoMoAdapter) VerifyCallback(header http.Header, body []byte) error {
	return VerifySignature(a.secretKey, header, SignatureHeader, body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
