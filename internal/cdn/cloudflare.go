package cdn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

// DefaultCloudflareURL is the Cloudflare v4 API root
const DefaultCloudflareURL = "https://api.cloudflare.com/client/v4"

const purgeCachePath = "/zones/{zone}/purge_cache"

// CloudflareConfig configures the Cloudflare client
type CloudflareConfig struct {
	ZoneID   string
	APIToken string

	// BaseURL overrides DefaultCloudflareURL
	BaseURL string

	Timeout time.Duration
}

// Cloudflare purges a Cloudflare zone
type Cloudflare struct {
	client *req.Client
	zoneID string
	log    logger.Logger
}

type purgeRequest struct {
	PurgeEverything bool `json:"purge_everything"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool         `json:"success"`
	Errors  []apiMessage `json:"errors"`
}

func (r *apiResponse) errorText() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("%d %s", e.Code, e.Message))
	}
	return strings.Join(msgs, "; ")
}

// NewCloudflare creates a Cloudflare client
func NewCloudflare(cfg CloudflareConfig) *Cloudflare {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudflareURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetUserAgent("pkgsync").
		SetCommonBearerAuthToken(cfg.APIToken)

	return &Cloudflare{
		client: client,
		zoneID: cfg.ZoneID,
		log:    logger.With("cdn", VendorCloudflare, "zone", cfg.ZoneID),
	}
}

// RefreshCache purges the whole zone; Cloudflare purges by URL only,
// which would need the full list of published files
func (c *Cloudflare) RefreshCache(ctx context.Context, path string) error {
	c.log.Info("Purging CDN cache.", "path", path)

	var result apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("zone", c.zoneID).
		SetBody(&purgeRequest{PurgeEverything: true}).
		SetSuccessResult(&result).
		SetErrorResult(&result).
		Post(purgeCachePath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: cloudflare purge %s: %w", domain.ErrRemoteIO, c.zoneID, err)
	}

	if resp.IsErrorState() || !result.Success {
		kind := classifyStatus(resp.GetStatusCode())
		if kind != nil {
			return fmt.Errorf("%w: cloudflare purge %s: status %d: %w: %s",
				domain.ErrRemoteIO, c.zoneID, resp.GetStatusCode(), kind, result.errorText())
		}
		return fmt.Errorf("%w: cloudflare purge %s: status %d: %s",
			domain.ErrRemoteIO, c.zoneID, resp.GetStatusCode(), result.errorText())
	}

	c.log.Info("Successfully purged CDN cache.")
	return nil
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrPermissionDenied
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}
