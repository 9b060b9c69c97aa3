// Package cms talks to the WordPress user directory. A confirmed
// reconciliation promotes the member's site role so gated content
// unlocks without manual admin work.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/recon"
)

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

// UpdateMemberRole sets the member's WordPress role. Users are looked
// up by email; the membership app is not the source of truth for
// WordPress user IDs.
func (c *Client) UpdateMemberRole(ctx context.Context, upd recon.RoleUpdate) (*recon.UpdateResult, error) {
	body, err := json.Marshal(map[string]string{
		"email": upd.Email,
		"role":  upd.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding CMS update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/wp-json/membership/v1/users/%s/role", c.baseURL, url.PathEscape(upd.Email))
	err = recon.WithRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, endpoint, body)
	})
	if err != nil {
		return nil, fmt.Errorf("updating CMS role for %s: %w", upd.Email, err)
	}

	c.log.Info().Str("email", upd.Email).Str("role", upd.Role).Msg("CMS role updated")
	return &recon.UpdateResult{Success: true}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &recon.HTTPStatusError{
			Collaborator: "WordPress",
			StatusCode:   resp.StatusCode,
			Body:         string(msg),
		}
	}
	return nil
}
