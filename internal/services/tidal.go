package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/tidewatch/internal/shared"
	"golang.org/x/oauth2"
)

// TidalSource implements [PlaylistSource] against the TIDAL v1 API.
//
// Requests carry a bearer token loaded from the configured token file
// (written externally, e.g. by tidal-dl-ng login). Paginated track
// listings are stitched into one complete result; any page failure fails
// the whole fetch so a partial list is never returned.
type TidalSource struct {
	baseURL     string
	countryCode string
	pageSize    int
	timeout     time.Duration
	httpClient  *http.Client
}

// tidalToken mirrors the token file layout shared with tidal-dl-ng.
type tidalToken struct {
	TokenType    string  `json:"token_type"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiryTime   float64 `json:"expiry_time"`
}

// NewTidalSource creates a TidalSource from configuration.
//
// The optional base client is wrapped with an [oauth2.Transport] so every
// request carries the bearer token; pass nil for [http.DefaultClient]'s
// transport.
func NewTidalSource(cfg shared.TidalConfig, base *http.Client) (*TidalSource, error) {
	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	var baseTransport http.RoundTripper
	if base != nil {
		baseTransport = base.Transport
	}

	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   baseTransport,
		},
		Timeout: cfg.FetchTimeoutDuration(),
	}

	return &TidalSource{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		countryCode: cfg.CountryCode,
		pageSize:    cfg.PageSize,
		timeout:     cfg.FetchTimeoutDuration(),
		httpClient:  client,
	}, nil
}

// NewTidalSourceWithClient creates a TidalSource that uses the given
// client as-is. Used in tests with [httptest.Server] clients.
func NewTidalSourceWithClient(baseURL, countryCode string, pageSize int, client *http.Client) *TidalSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TidalSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		countryCode: countryCode,
		pageSize:    pageSize,
		timeout:     time.Minute,
		httpClient:  client,
	}
}

// loadToken reads the token file and converts it to an [oauth2.Token].
func loadToken(path string) (*oauth2.Token, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read token file: %v", shared.ErrMissingConfig, err)
	}

	var t tidalToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token file: %v", shared.ErrInvalidConfig, err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: token file has no access token", shared.ErrInvalidConfig)
	}

	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiryTime > 0 {
		token.Expiry = time.Unix(int64(t.ExpiryTime), 0)
	}

	return token, nil
}

// Name returns the name of the source
func (s *TidalSource) Name() string { return "TIDAL" }

// tidalPlaylist is the wire format for playlist metadata.
type tidalPlaylist struct {
	UUID           string `json:"uuid"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	NumberOfTracks int    `json:"numberOfTracks"`
}

// tidalTrackPage is the wire format for one page of a track listing.
type tidalTrackPage struct {
	Limit              int          `json:"limit"`
	Offset             int          `json:"offset"`
	TotalNumberOfItems int          `json:"totalNumberOfItems"`
	Items              []tidalTrack `json:"items"`
}

type tidalTrack struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	Artist   struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		Title string `json:"title"`
	} `json:"album"`
}

// GetPlaylist retrieves playlist metadata by external ID.
func (s *TidalSource) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s", s.baseURL, url.PathEscape(playlistID))

	var pl tidalPlaylist
	if err := s.getJSON(ctx, endpoint, url.Values{}, &pl); err != nil {
		return nil, err
	}

	return &Playlist{
		ID:          pl.UUID,
		Name:        pl.Title,
		Description: pl.Description,
		TrackCount:  pl.NumberOfTracks,
	}, nil
}

// FetchTracks returns the complete ordered track list for a playlist.
func (s *TidalSource) FetchTracks(ctx context.Context, playlistID string) ([]Track, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s/tracks", s.baseURL, url.PathEscape(playlistID))

	var tracks []Track
	offset := 0

	for {
		params := url.Values{}
		params.Set("limit", fmt.Sprint(s.pageSize))
		params.Set("offset", fmt.Sprint(offset))

		var page tidalTrackPage
		if err := s.getJSON(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			tracks = append(tracks, Track{
				ID:       fmt.Sprint(item.ID),
				Title:    item.Title,
				Artist:   item.Artist.Name,
				Album:    item.Album.Title,
				Duration: item.Duration,
				Position: len(tracks),
			})
		}

		offset += len(page.Items)
		if offset >= page.TotalNumberOfItems || len(page.Items) == 0 {
			if offset < page.TotalNumberOfItems {
				// Provider reported more items than it returned
				return nil, fmt.Errorf("%w: incomplete track listing for %s (%d of %d)",
					shared.ErrFetch, playlistID, offset, page.TotalNumberOfItems)
			}
			break
		}
	}

	return tracks, nil
}

// getJSON performs one GET and decodes the JSON response, mapping
// transport and status failures into the fetch error taxonomy.
func (s *TidalSource) getJSON(ctx context.Context, endpoint string, params url.Values, target any) error {
	if s.countryCode != "" {
		params.Set("countryCode", s.countryCode)
	}

	full := endpoint
	if encoded := params.Encode(); encoded != "" {
		full += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrFetch, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
		}
		return fmt.Errorf("%w: request failed: %v", shared.ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d", shared.ErrFetch, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrFetch, err)
	}

	return nil
}
