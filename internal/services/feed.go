package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/mmcdole/gofeed"
)

// fetchFeed downloads path through api and parses it as RSS or Atom.
func fetchFeed(ctx context.Context, api *APIClient, path string) (*gofeed.Feed, error) {
	resp, err := api.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed %s: %w", shared.ErrAPIRequest, path, err)
	}
	return feed, nil
}

// extensionValue returns the text of the first <ns:name> element on item.
func extensionValue(item *gofeed.Item, ns, name string) string {
	if item == nil || item.Extensions == nil {
		return ""
	}
	values := item.Extensions[ns][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}
