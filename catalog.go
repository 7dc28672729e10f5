package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const catalogCacheSize = 256

// catalogClient looks up track metadata from the song catalog (the iTunes
// Search API by default). Lookups are deduplicated via singleflight and
// results cached by normalized query, so a lobby full of players typing the
// same song only costs one upstream request.
type catalogClient struct {
	baseURL string
	limit   int
	client  *http.Client
	cache   *lru.Cache
	group   singleflight.Group
}

func newCatalogClient(cfg *Config) *catalogClient {
	cache, err := lru.New(catalogCacheSize)
	if err != nil {
		cache = nil
	}

	return &catalogClient{
		baseURL: cfg.catalogURL,
		limit:   cfg.catalogLimit,
		client:  &http.Client{Timeout: cfg.catalogTimeout},
		cache:   cache,
	}
}

func (cc *catalogClient) search(query string) ([]Track, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return []Track{}, nil
	}

	if cc.cache != nil {
		if cached, ok := cc.cache.Get(key); ok {
			return cached.([]Track), nil
		}
	}

	result, err, _ := cc.group.Do(key, func() (any, error) {
		tracks, err := cc.fetch(key)
		if err != nil {
			return nil, err
		}
		if cc.cache != nil {
			cc.cache.Add(key, tracks)
		}
		return tracks, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]Track), nil
}

func (cc *catalogClient) fetch(term string) ([]Track, error) {
	u, err := url.Parse(cc.baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog url: %w", err)
	}

	q := u.Query()
	q.Set("term", term)
	q.Set("media", "music")
	q.Set("entity", "song")
	q.Set("limit", fmt.Sprintf("%d", cc.limit))
	u.RawQuery = q.Encode()

	resp, err := cc.client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog lookup: status %d", resp.StatusCode)
	}

	var result struct {
		ResultCount int `json:"resultCount"`
		Results     []struct {
			ArtistName    string `json:"artistName"`
			TrackName     string `json:"trackName"`
			PreviewURL    string `json:"previewUrl"`
			ArtworkURL100 string `json:"artworkUrl100"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}

	tracks := make([]Track, 0, len(result.Results))
	for _, item := range result.Results {
		if item.TrackName == "" || item.PreviewURL == "" {
			continue
		}
		tracks = append(tracks, Track{
			Title:      item.TrackName,
			Artist:     item.ArtistName,
			PreviewURL: item.PreviewURL,
			ArtworkURL: item.ArtworkURL100,
		})
	}

	return tracks, nil
}
