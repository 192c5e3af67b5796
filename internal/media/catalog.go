// Package media is the read-through catalog of story audio assets served
// from the media CMS. Rooms reference assets by numeric id; the catalog
// resolves ids to playable URLs and caches the answers for the life of
// the process (the CMS is treated as read-only while the server runs).
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Asset is one playable audio resource.
type Asset struct {
	ID        int    `json:"id"`
	URL       string `json:"url"`
	Extension string `json:"extension"`
	Title     string `json:"title"`
	Room      string `json:"room,omitempty"`
	Path      string `json:"path,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// Catalog resolves asset ids and room recordings.
type Catalog interface {
	Asset(ctx context.Context, id int) (*Asset, error)
	ForRoom(ctx context.Context, room string) ([]*Asset, error)
}

// CMSCatalog talks to the media CMS over its signed-query HTTP API.
// Lookups are cached; concurrent callers share one cache under a mutex.
type CMSCatalog struct {
	baseURL string
	user    string
	secret  string
	client  *http.Client

	mu     sync.Mutex
	byID   map[int]*Asset
	byRoom map[string][]*Asset
}

// NewCMSCatalog builds a catalog client for the given CMS endpoint.
func NewCMSCatalog(baseURL, user, secret string) *CMSCatalog {
	return &CMSCatalog{
		baseURL: baseURL,
		user:    user,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
		byID:    make(map[int]*Asset),
		byRoom:  make(map[string][]*Asset),
	}
}

// Asset resolves a single asset by id, fetching and caching on first use.
func (c *CMSCatalog) Asset(ctx context.Context, id int) (*Asset, error) {
	c.mu.Lock()
	cached, ok := c.byID[id]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	asset, err := c.fetchAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byID[id] = asset
	c.mu.Unlock()
	return asset, nil
}

// ForRoom returns the assets tagged with the given room name, in the
// CMS's search order.
func (c *CMSCatalog) ForRoom(ctx context.Context, room string) ([]*Asset, error) {
	c.mu.Lock()
	cached, ok := c.byRoom[room]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var hits []struct {
		Ref   string `json:"ref"`
		Title string `json:"field8"`
	}
	err := c.get(ctx, "do_search", url.Values{"search": {"room:" + room}}, &hits)
	if err != nil {
		return nil, fmt.Errorf("searching room %q: %w", room, err)
	}

	var assets []*Asset
	for _, hit := range hits {
		// Search matches on keywords, so filter to exact room title.
		if hit.Title != room {
			continue
		}
		id, err := strconv.Atoi(hit.Ref)
		if err != nil {
			return nil, fmt.Errorf("room %q: bad resource ref %q", room, hit.Ref)
		}
		asset, err := c.Asset(ctx, id)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	c.mu.Lock()
	c.byRoom[room] = assets
	c.mu.Unlock()
	return assets, nil
}

// Warm preloads the given asset ids so the first caller never waits on
// the CMS. Called at startup with every id the story references.
func (c *CMSCatalog) Warm(ctx context.Context, ids ...int) error {
	for _, id := range ids {
		if _, err := c.Asset(ctx, id); err != nil {
			return fmt.Errorf("warming asset %d: %w", id, err)
		}
	}
	return nil
}

func (c *CMSCatalog) fetchAsset(ctx context.Context, id int) (*Asset, error) {
	ref := strconv.Itoa(id)

	var data struct {
		Ref       string `json:"ref"`
		Extension string `json:"file_extension"`
		Title     string `json:"field8"`
	}
	err := c.get(ctx, "get_resource_data", url.Values{"resource": {ref}}, &data)
	if err != nil {
		return nil, fmt.Errorf("fetching asset %d: %w", id, err)
	}

	asset := &Asset{ID: id, Extension: data.Extension, Title: data.Title}

	// Story metadata (room, path, duration) lives in custom CMS fields.
	var fields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	err = c.get(ctx, "get_resource_field_data", url.Values{"resource": {ref}}, &fields)
	if err != nil {
		return nil, fmt.Errorf("fetching asset %d fields: %w", id, err)
	}
	for _, f := range fields {
		switch f.Name {
		case "room":
			asset.Room = f.Value
		case "path":
			asset.Path = f.Value
		case "duration":
			asset.Duration = f.Value
		}
	}

	var dataURL string
	err = c.get(ctx, "get_resource_path", url.Values{
		"ref":         {ref},
		"getfilepath": {"0"},
		"extension":   {asset.Extension},
	}, &dataURL)
	if err != nil {
		return nil, fmt.Errorf("fetching asset %d url: %w", id, err)
	}
	asset.URL = dataURL

	return asset, nil
}

// get performs one signed CMS API call. The signature is a sha256 over
// the private key concatenated with the encoded query string.
func (c *CMSCatalog) get(ctx context.Context, function string, params url.Values, out any) error {
	params.Set("function", function)
	params.Set("user", c.user)
	query := params.Encode()

	sum := sha256.Sum256([]byte(c.secret + query))
	reqURL := fmt.Sprintf("%s?%s&sign=%s", c.baseURL, query, hex.EncodeToString(sum[:]))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cms %s: %w", function, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cms %s: reading response: %w", function, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cms %s: status %d", function, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cms %s: decoding response: %w", function, err)
	}
	return nil
}
