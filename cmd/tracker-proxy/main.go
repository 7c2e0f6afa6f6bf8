// Command tracker-proxy serves bird observation data through the shared
// resource layer: one connection pool, response cache and rate limiter for
// all request handlers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/config"
	"github.com/tuibird/tracker-core/pkg/core"
	"github.com/tuibird/tracker-core/pkg/geocode"
	"github.com/tuibird/tracker-core/pkg/logging"
	"github.com/tuibird/tracker-core/pkg/ratelimit"
	"github.com/tuibird/tracker-core/pkg/store"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: os.Getenv("LOG_PRETTY") == "true",
		Output: os.Stderr,
	})

	cfg, err := config.Load(getEnv("CONFIG_FILE", "tracker.yaml"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		logger = logging.Setup(logging.Config{
			Level:  logging.LogLevel(cfg.LogLevel),
			Pretty: os.Getenv("LOG_PRETTY") == "true",
			Output: os.Stderr,
		})
	}

	apiToken := os.Getenv("EBIRD_API_TOKEN")
	if apiToken == "" {
		logger.Fatal().Msg("EBIRD_API_TOKEN is required")
	}

	deps := core.Deps{
		Provider: &ebirdProvider{
			baseURL: getEnv("EBIRD_API_URL", "https://api.ebird.org/v2"),
			token:   apiToken,
			client:  &http.Client{Timeout: 30 * time.Second},
		},
		Geocoder: &nominatimGeocoder{
			baseURL: getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
			client:  &http.Client{Timeout: 30 * time.Second},
		},
		Store: store.NewSQLiteDriver(getEnv("DB_PATH", "tracker.db"), cfg.StorageMode, logger),
	}

	c, err := core.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize resource layer")
	}
	defer c.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/observations/", observationsHandler(c, logger))
	mux.HandleFunc("/api/geocode", geocodeHandler(c, logger))
	mux.HandleFunc("/api/species", speciesHandler(c, logger))

	addr := ":" + getEnv("PORT", "8080")
	logger.Info().Str("addr", addr).Msg("Starting tracker proxy")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// observationsHandler serves /api/observations/{region}, passing query
// parameters through to the provider. Responses are cached by fingerprint.
func observationsHandler(c *core.Core, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := strings.TrimPrefix(r.URL.Path, "/api/observations/")
		if region == "" || strings.Contains(region, "/") {
			http.Error(w, "region code required", http.StatusBadRequest)
			return
		}

		body, err := c.CachedFetch(r.Context(), core.Request{
			Endpoint:   "recent-observations",
			PathParams: map[string]string{"region": region},
			Query:      r.URL.Query(),
		}, 0)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// geocodeHandler serves /api/geocode?place=... for forward lookups and
// /api/geocode?lat=...&lng=... for reverse lookups.
func geocodeHandler(c *core.Core, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if place := q.Get("place"); place != "" {
			coords, err := c.GeocodeForward(r.Context(), place)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, map[string]float64{"lat": coords.Lat, "lng": coords.Lng})
			return
		}

		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
		if errLat != nil || errLng != nil {
			http.Error(w, "place or lat/lng required", http.StatusBadRequest)
			return
		}
		place, err := c.GeocodeReverse(r.Context(), lat, lng)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, map[string]string{"place": place})
	}
}

// speciesHandler serves /api/species?name=... from the embedded store.
func speciesHandler(c *core.Core, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}

		db, err := c.Species()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		matches, err := db.FindByName(r.Context(), name)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, matches)
	}
}

// writeError maps resource layer errors to HTTP status codes. Transient
// resource pressure becomes 503 with a Retry-After hint so clients back off
// instead of piling on.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case core.Retryable(err):
		w.Header().Set("Retry-After", "5")
		http.Error(w, "service busy, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrSpeciesNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		logger.Error().Err(err).Msg("Request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ebirdProvider fetches observation data from the eBird API. A 429 from the
// API is surfaced as the limiter's throttling signal.
type ebirdProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func (p *ebirdProvider) Fetch(ctx context.Context, req core.Request) ([]byte, error) {
	u, err := p.buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("X-eBirdApiToken", p.token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("eBird API throttled: %w", ratelimit.ErrExternallyLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("eBird API returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (p *ebirdProvider) buildURL(req core.Request) (string, error) {
	region := req.PathParams["region"]
	var path string
	switch req.Endpoint {
	case "recent-observations":
		path = "/data/obs/" + url.PathEscape(region) + "/recent"
	case "notable-observations":
		path = "/data/obs/" + url.PathEscape(region) + "/recent/notable"
	default:
		return "", fmt.Errorf("unknown endpoint %q", req.Endpoint)
	}
	u := p.baseURL + path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u, nil
}

// nominatimGeocoder resolves placenames via the Nominatim API.
type nominatimGeocoder struct {
	baseURL string
	client  *http.Client
}

func (g *nominatimGeocoder) Forward(ctx context.Context, placename string) (geocode.Coordinates, error) {
	u := g.baseURL + "/search?format=json&limit=1&q=" + url.QueryEscape(placename)
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := g.getJSON(ctx, u, &results); err != nil {
		return geocode.Coordinates{}, err
	}
	if len(results) == 0 {
		return geocode.Coordinates{}, fmt.Errorf("no results for %q", placename)
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geocode.Coordinates{}, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geocode.Coordinates{}, fmt.Errorf("parse longitude: %w", err)
	}
	return geocode.Coordinates{Lat: lat, Lng: lng}, nil
}

func (g *nominatimGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	u := fmt.Sprintf("%s/reverse?format=json&lat=%f&lon=%f", g.baseURL, lat, lng)
	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := g.getJSON(ctx, u, &result); err != nil {
		return "", err
	}
	if result.DisplayName == "" {
		return "", fmt.Errorf("no result for %s", geocode.FormatCoordinates(lat, lng))
	}
	return result.DisplayName, nil
}

func (g *nominatimGeocoder) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "tracker-core/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("geocoder throttled: %w", ratelimit.ErrExternallyLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
