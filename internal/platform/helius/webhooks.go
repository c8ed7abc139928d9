package helius

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"walletwatch/internal/domain"
)

// enhancedWebhookType asks the provider for parsed transaction payloads
// rather than raw ones.
const enhancedWebhookType = "enhanced"

// CreateWebhook registers a provider-side webhook covering the given
// addresses and returns its provider id.
func (c *Client) CreateWebhook(ctx context.Context, webhookURL string, addresses []string, txTypes []string) (string, error) {
	if len(txTypes) == 0 {
		txTypes = []string{"TRANSFER", "SWAP"}
	}

	req := webhookRequest{
		WebhookURL:       webhookURL,
		TransactionTypes: txTypes,
		AccountAddresses: addresses,
		WebhookType:      enhancedWebhookType,
	}

	var resp webhookResponse
	path := "/v0/webhooks?api-key=" + url.QueryEscape(c.apiKey)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("helius: create webhook: %w", err)
	}
	if resp.WebhookID == "" {
		return "", fmt.Errorf("helius: create webhook: empty webhook id in response")
	}
	return resp.WebhookID, nil
}

// ListWebhooks returns all provider-side webhooks for the account.
func (c *Client) ListWebhooks(ctx context.Context) ([]domain.WebhookRegistration, error) {
	var resp []webhookResponse
	path := "/v0/webhooks?api-key=" + url.QueryEscape(c.apiKey)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("helius: list webhooks: %w", err)
	}

	regs := make([]domain.WebhookRegistration, 0, len(resp))
	for _, w := range resp {
		regs = append(regs, domain.WebhookRegistration{
			ID:        w.WebhookID,
			URL:       w.WebhookURL,
			Addresses: w.AccountAddresses,
			TxTypes:   w.TransactionTypes,
			CreatedAt: time.Time{},
		})
	}
	return regs, nil
}

// DeleteWebhook removes a provider-side webhook.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	path := fmt.Sprintf("/v0/webhooks/%s?api-key=%s", url.PathEscape(id), url.QueryEscape(c.apiKey))
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("helius: delete webhook %s: %w", id, err)
	}
	return nil
}
