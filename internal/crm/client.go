// Package crm talks to the GoHighLevel CRM. A confirmed reconciliation
// becomes a membership update on the matched contact: type, amount,
// renewal date and paid status.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/recon"
)

const apiVersion = "2021-07-28"

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        zerolog.Logger
}

func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		log:        log,
	}
}

// UpdateMembership writes the membership fields onto the CRM contact.
// Transient failures (5xx, network) are retried; 4xx responses are
// returned immediately so the caller can roll back.
func (c *Client) UpdateMembership(ctx context.Context, upd recon.MembershipUpdate) (*recon.UpdateResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"customFields": map[string]string{
			"membership_type":   upd.MembershipType,
			"membership_amount": upd.Amount,
			"renewal_date":      upd.RenewalDate.Format("2006-01-02"),
		},
		"tags": []string{"membership_paid"},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding CRM update: %w", err)
	}

	url := fmt.Sprintf("%s/contacts/%s", c.baseURL, upd.ContactID)
	err = recon.WithRetry(ctx, func() error {
		return c.do(ctx, http.MethodPut, url, body)
	})
	if err != nil {
		return nil, fmt.Errorf("updating CRM contact %s: %w", upd.ContactID, err)
	}

	c.log.Info().Str("contact_id", upd.ContactID).Msg("CRM membership updated")
	return &recon.UpdateResult{Success: true}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &recon.HTTPStatusError{
			Collaborator: "GoHighLevel",
			StatusCode:   resp.StatusCode,
			Body:         string(msg),
		}
	}
	return nil
}
