// Package cdn invalidates the cache in front of the indexed storage once a
// new repository index is published.
package cdn

import (
	"context"
	"fmt"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// CDN refreshes cached content after a publish
type CDN interface {
	// RefreshCache invalidates whatever the CDN caches for path.
	// Vendors that cannot purge by path purge everything.
	RefreshCache(ctx context.Context, path string) error
}

const (
	VendorCloudflare = "cloudflare"
	VendorNoop       = "noop"
)

// New creates the CDN client for vendor. An empty vendor means no CDN.
func New(vendor string, opts map[string]string) (CDN, error) {
	switch vendor {
	case "", VendorNoop:
		return Noop{}, nil
	case VendorCloudflare:
		zoneID := opts["zone-id"]
		token := opts["api-token"]
		if zoneID == "" || token == "" {
			return nil, fmt.Errorf("%w: cloudflare cdn requires \"zone-id\" and \"api-token\"", domain.ErrConfigInvalid)
		}
		return NewCloudflare(CloudflareConfig{
			ZoneID:   zoneID,
			APIToken: token,
			BaseURL:  opts["base-url"],
		}), nil
	default:
		return nil, fmt.Errorf("%w: cdn %s", domain.ErrUnknownVendor, vendor)
	}
}

// Noop is used when no CDN fronts the storage
type Noop struct{}

// RefreshCache does nothing
func (Noop) RefreshCache(ctx context.Context, path string) error {
	return ctx.Err()
}
