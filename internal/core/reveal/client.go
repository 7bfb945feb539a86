// Package reveal is the authenticated client for the Reveal cloud REST API.
// HTTP-level failures degrade to empty results after logging; only
// transport errors surface to callers.
package reveal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dcrawley/reveald/internal/core/auth"
	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/normalize"
)

const (
	defaultBaseURL = "https://api.reveal.ishareit.net"
	apiVersion     = "v1"

	clientIdentity   = "RevealWeb/5.4.0"
	vendorOrigin     = "https://account.revealcellcam.com"
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

	// Window of recent photos used when stats must be computed locally.
	statsFetchSize = 1000
	// Averages are taken over the newest photos only.
	statsWindow = 10
)

// Client issues authenticated calls against the vendor REST surface. It
// owns the HTTP session and the token manager's validity checks.
type Client struct {
	http   *resty.Client
	tokens *auth.TokenManager
	log    *slog.Logger
}

// New creates a vendor client bound to the given token manager.
func New(tokens *auth.TokenManager, log *slog.Logger) *Client {
	r := resty.New().
		SetBaseURL(defaultBaseURL+"/"+apiVersion).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("reveal-user-agent", clientIdentity).
		SetHeader("Origin", vendorOrigin).
		SetHeader("Referer", vendorOrigin+"/").
		SetHeader("User-Agent", browserUserAgent)

	return &Client{http: r, tokens: tokens, log: log}
}

// SetBaseURL overrides the API base. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.http.SetBaseURL(url)
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// ResolveAccountID fetches /account and extracts the account id. Satisfies
// auth.AccountResolver.
func (c *Client) ResolveAccountID(ctx context.Context) (string, error) {
	var out struct {
		Response struct {
			Account struct {
				AccountID string `json:"accountId"`
			} `json:"account"`
			AccountID string `json:"accountId"`
		} `json:"response"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.AccessToken()).
		Get("/account")
	if err != nil {
		return "", fmt.Errorf("reveal: account: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("reveal: account: HTTP %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("reveal: account: parse: %w", err)
	}
	if out.Response.Account.AccountID != "" {
		return out.Response.Account.AccountID, nil
	}
	return out.Response.AccountID, nil
}

// ListCameras returns the raw camera list. A non-200 response is logged
// and yields an empty list, not an error.
func (c *Client) ListCameras(ctx context.Context) ([]model.RawCamera, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Response struct {
			Cameras []model.RawCamera `json:"cameras"`
		} `json:"response"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.AccessToken()).
		SetResult(&out).
		Get("/cameras")
	if err != nil {
		return nil, fmt.Errorf("reveal: list cameras: %w", err)
	}
	if resp.IsError() {
		c.log.Error("camera list request failed", "status", resp.StatusCode(), "body", truncate(resp.String(), 500))
		return nil, nil
	}

	c.log.Debug("fetched camera list", "count", len(out.Response.Cameras))
	return out.Response.Cameras, nil
}

// ListPhotos returns a page of raw photos, newest first as the vendor
// orders them. cameraID may be empty for an account-wide listing. Weather
// data inclusion is always requested.
func (c *Client) ListPhotos(ctx context.Context, size, page int, cameraID string) ([]model.RawPhoto, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Response struct {
			Photos []model.RawPhoto `json:"photos"`
		} `json:"response"`
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.AccessToken()).
		SetQueryParam("size", strconv.Itoa(size)).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("includeWeatherData", "true").
		SetResult(&out)
	if cameraID != "" {
		req.SetQueryParam("cameraId", cameraID)
	}

	resp, err := req.Get("/photos")
	if err != nil {
		return nil, fmt.Errorf("reveal: list photos: %w", err)
	}
	if resp.IsError() {
		c.log.Error("photo list request failed", "status", resp.StatusCode(), "camera_id", cameraID, "body", truncate(resp.String(), 500))
		return nil, nil
	}

	c.log.Debug("fetched photos", "count", len(out.Response.Photos), "camera_id", cameraID)
	return out.Response.Photos, nil
}

// LatestPhoto returns the most recent photo for one camera, or nil when
// the camera has none. Fetching per-camera is what guarantees an attached
// weather block; the bulk listing omits it.
func (c *Client) LatestPhoto(ctx context.Context, cameraID string) (*model.RawPhoto, error) {
	photos, err := c.ListPhotos(ctx, 1, 0, cameraID)
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, nil
	}
	return &photos[0], nil
}

// CameraStats fetches the dedicated stats endpoint. On 404 the statistics
// are computed locally from recent photos; other failures yield nil.
func (c *Client) CameraStats(ctx context.Context, cameraID string) (*model.Statistics, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Response struct {
			TotalPhotos    int     `json:"totalPhotos"`
			FirstPhotoDate string  `json:"firstPhotoDate"`
			LastPhotoDate  string  `json:"lastPhotoDate"`
			AverageBattery float64 `json:"averageBattery"`
			AverageSignal  float64 `json:"averageSignal"`
		} `json:"response"`
	}

	// This endpoint authorizes with the id token rather than the access
	// token; a vendor quirk.
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.IDToken()).
		SetResult(&out).
		Get("/cameras/" + cameraID + "/stats")
	if err != nil {
		c.log.Debug("stats request failed, computing locally", "camera_id", cameraID, "error", err)
		return c.computeStats(ctx, cameraID)
	}
	if resp.StatusCode() == 404 {
		return c.computeStats(ctx, cameraID)
	}
	if resp.IsError() {
		c.log.Error("stats request failed", "status", resp.StatusCode(), "camera_id", cameraID)
		return nil, nil
	}

	stats := &model.Statistics{TotalPhotos: out.Response.TotalPhotos}
	if t := normalize.ParseTime(out.Response.FirstPhotoDate); t != nil {
		stats.FirstPhoto = t
	}
	if t := normalize.ParseTime(out.Response.LastPhotoDate); t != nil {
		stats.LastPhoto = t
	}
	if out.Response.AverageBattery > 0 {
		v := out.Response.AverageBattery
		stats.AverageBattery = &v
	}
	if out.Response.AverageSignal > 0 {
		v := out.Response.AverageSignal
		stats.AverageSignal = &v
	}
	return stats, nil
}

// computeStats derives statistics from up to statsFetchSize recent photos
// when no stats endpoint exists. Averages use the newest statsWindow
// photos only.
func (c *Client) computeStats(ctx context.Context, cameraID string) (*model.Statistics, error) {
	photos, err := c.ListPhotos(ctx, statsFetchSize, 0, cameraID)
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, nil
	}

	stats := &model.Statistics{
		TotalPhotos: len(photos),
		LastPhoto:   normalize.ParseTime(photos[0].PhotoDateUTC),
		FirstPhoto:  normalize.ParseTime(photos[len(photos)-1].PhotoDateUTC),
	}

	window := photos
	if len(window) > statsWindow {
		window = window[:statsWindow]
	}

	// Zero readings mean the camera did not report the value; skip them.
	var batSum, batN, sigSum, sigN int
	for _, p := range window {
		if v, ok := metaInt(p.Metadata, "batteryLevel"); ok && v != 0 {
			batSum += v
			batN++
			if stats.CurrentBattery == nil {
				cur := v
				stats.CurrentBattery = &cur
			}
		}
		if v, ok := metaInt(p.Metadata, "signal"); ok && v != 0 {
			sigSum += v
			sigN++
			if stats.CurrentSignal == nil {
				cur := v
				stats.CurrentSignal = &cur
			}
		}
	}
	if batN > 0 {
		avg := float64(batSum) / float64(batN)
		stats.AverageBattery = &avg
	}
	if sigN > 0 {
		avg := float64(sigSum) / float64(sigN)
		stats.AverageSignal = &avg
	}
	return stats, nil
}

// UpdateSettings submits a full replacement of the camera's settings list.
// The vendor has no partial patch; callers round-trip the whole list.
func (c *Client) UpdateSettings(ctx context.Context, cameraID string, settings []model.Setting) (bool, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return false, err
	}

	body := map[string]any{"settings": settings}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.AccessToken()).
		SetBody(body).
		Post("/cameras/" + cameraID)
	if err != nil {
		return false, fmt.Errorf("reveal: update settings: %w", err)
	}
	if resp.IsError() {
		c.log.Error("settings update failed", "status", resp.StatusCode(), "camera_id", cameraID, "body", truncate(resp.String(), 500))
		return false, nil
	}

	c.log.Info("settings updated", "camera_id", cameraID)
	return true, nil
}

// RequestPhoto asks the camera to take a photo on demand.
func (c *Client) RequestPhoto(ctx context.Context, cameraID string) (bool, error) {
	return c.captureRequest(ctx, cameraID, "photo-request")
}

// RequestVideo asks the camera to record a video on demand.
func (c *Client) RequestVideo(ctx context.Context, cameraID string) (bool, error) {
	return c.captureRequest(ctx, cameraID, "video-request")
}

func (c *Client) captureRequest(ctx context.Context, cameraID, endpoint string) (bool, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return false, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.tokens.AccessToken()).
		Post("/cameras/" + cameraID + "/" + endpoint)
	if err != nil {
		return false, fmt.Errorf("reveal: %s: %w", endpoint, err)
	}
	if resp.IsError() {
		c.log.Error("capture request failed", "endpoint", endpoint, "status", resp.StatusCode(), "camera_id", cameraID)
		return false, nil
	}

	c.log.Info("capture requested", "endpoint", endpoint, "camera_id", cameraID)
	return true, nil
}

// --- helpers ---

func metaInt(meta map[string]any, key string) (int, bool) {
	v, ok := meta[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	case int:
		return n, true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
