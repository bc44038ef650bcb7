package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

const defaultCardChargePath = "/v1/charges"

type cardConfig struct {
	ChargePath      string `json:"charge_path"`
	SignatureHeader string `json:"signature_header"`
}

// CardAdapter creates a hosted card charge. The customer completes it on the
// gateway's page and the gateway reports back through the callback.
type CardAdapter struct {
	chargeURL       string
	apiKey          string
	webhookSecret   string
	signatureHeader string
	client          *http.Client
	logger          *slog.Logger
}

func NewCardAdapter(p *providerDatamodel.Provider, deps Deps) (Adapter, error) {
	baseURL := strings.TrimRight(p.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base url is missing", p.Name)
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is missing", p.Name)
	}

	cfg := cardConfig{ChargePath: defaultCardChargePath, SignatureHeader: SignatureHeader}
	if len(p.Config) > 0 {
		if err := json.Unmarshal(p.Config, &cfg); err != nil {
			return nil, fmt.Errorf("provider %s: invalid config: %w", p.Name, err)
		}
		if cfg.ChargePath == "" {
			cfg.ChargePath = defaultCardChargePath
		}
		if cfg.SignatureHeader == "" {
			cfg.SignatureHeader = SignatureHeader
		}
	}

	return &CardAdapter{
		chargeURL:       baseURL + cfg.ChargePath,
		apiKey:          p.APIKey,
		webhookSecret:   p.APISecret,
		signatureHeader: cfg.SignatureHeader,
		client:          deps.HTTPClient,
		logger:          deps.Logger,
	}, nil
}

func (a *CardAdapter) Type() string {
	return providerDatamodel.TypeCard
}

func (a *CardAdapter) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"amount":       req.Amount.StringFixed(2),
		"currency":     req.Currency,
		"reference":    req.PaymentID,
		"phone":        req.Phone,
		"callback_url": req.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("card: marshal charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.chargeURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("card: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("card: request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("card: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("card: status %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	var out struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("card: decode response: %w", err)
	}
	ref := firstNonEmpty(out.ID, out.Reference)
	if ref == "" {
		return "", fmt.Errorf("card: response missing charge id")
	}

	logger.FromOr(ctx, a.logger).Info("card charge created",
		"payment_id", req.PaymentID,
		"provider_reference", ref)
	return ref, nil
}

// VerifyCallback checks the gateway's webhook signature. A provider row
// without an API secret rejects every callback.
func (a *CardAdapter) VerifyCallback(header http.Header, body []byte) error {
	return VerifySignature(a.webhookSecret, header, a.signatureHeader, body)
}
