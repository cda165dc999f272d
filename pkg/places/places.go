package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/logger"
)

const (
	defaultMapsAPIBase = "https://maps.googleapis.com/maps/api"
	defaultRadius      = 1000
	maxResults         = 3
)

// Pharmacy is one nearby search result enriched with phone and
// distance details.
type Pharmacy struct {
	Name     string
	Address  string
	Phone    string
	Distance string
	Lat      float64
	Lng      float64
}

// Client queries the Google Places nearby search, place details and
// distance matrix endpoints.
type Client struct {
	apiBase    string
	apiKey     string
	radius     int
	httpClient *http.Client
}

func NewClient(cfg config.MapsConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("maps API key is required")
	}

	radius := cfg.RadiusMeters
	if radius <= 0 {
		radius = defaultRadius
	}

	return &Client{
		apiBase:    defaultMapsAPIBase,
		apiKey:     cfg.APIKey,
		radius:     radius,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type nearbyResponse struct {
	Results []struct {
		PlaceID  string `json:"place_id"`
		Name     string `json:"name"`
		Vicinity string `json:"vicinity"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

type detailsResponse struct {
	Result struct {
		FormattedPhoneNumber string `json:"formatted_phone_number"`
	} `json:"result"`
}

type distanceResponse struct {
	Rows []struct {
		Elements []struct {
			Distance struct {
				Text string `json:"text"`
			} `json:"distance"`
			Status string `json:"status"`
		} `json:"elements"`
	} `json:"rows"`
}

// NearbyPharmacies returns up to three pharmacies around the given
// coordinates. Phone and distance lookups are best effort: a failed
// detail call leaves placeholder text instead of failing the search.
func (c *Client) NearbyPharmacies(ctx context.Context, lat, lng float64) ([]Pharmacy, error) {
	origin := fmt.Sprintf("%f,%f", lat, lng)

	q := url.Values{}
	q.Set("location", origin)
	q.Set("radius", fmt.Sprintf("%d", c.radius))
	q.Set("type", "pharmacy")
	q.Set("language", "zh-TW")
	q.Set("key", c.apiKey)

	var nearby nearbyResponse
	if err := c.getJSON(ctx, c.apiBase+"/place/nearbysearch/json?"+q.Encode(), &nearby); err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	results := nearby.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	pharmacies := make([]Pharmacy, 0, len(results))
	for _, place := range results {
		p := Pharmacy{
			Name:     place.Name,
			Address:  place.Vicinity,
			Phone:    "電話不詳",
			Distance: "距離不詳",
			Lat:      place.Geometry.Location.Lat,
			Lng:      place.Geometry.Location.Lng,
		}
		if p.Name == "" {
			p.Name = "藥局名稱未知"
		}
		if p.Address == "" {
			p.Address = "地址不詳"
		}

		if phone, err := c.placePhone(ctx, place.PlaceID); err == nil && phone != "" {
			p.Phone = phone
		} else if err != nil {
			logger.WarnCF("places", "Place details lookup failed", map[string]interface{}{
				"place_id": place.PlaceID,
				"error":    err.Error(),
			})
		}

		dest := fmt.Sprintf("%f,%f", p.Lat, p.Lng)
		if distance, err := c.distanceText(ctx, origin, dest); err == nil && distance != "" {
			p.Distance = distance
		} else if err != nil {
			logger.WarnCF("places", "Distance lookup failed", map[string]interface{}{
				"place_id": place.PlaceID,
				"error":    err.Error(),
			})
		}

		pharmacies = append(pharmacies, p)
	}

	return pharmacies, nil
}

func (c *Client) placePhone(ctx context.Context, placeID string) (string, error) {
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", "name,formatted_phone_number")
	q.Set("key", c.apiKey)

	var details detailsResponse
	if err := c.getJSON(ctx, c.apiBase+"/place/details/json?"+q.Encode(), &details); err != nil {
		return "", err
	}
	return details.Result.FormattedPhoneNumber, nil
}

func (c *Client) distanceText(ctx context.Context, origin, dest string) (string, error) {
	q := url.Values{}
	q.Set("origins", origin)
	q.Set("destinations", dest)
	q.Set("key", c.apiKey)

	var dist distanceResponse
	if err := c.getJSON(ctx, c.apiBase+"/distancematrix/json?"+q.Encode(), &dist); err != nil {
		return "", err
	}
	if len(dist.Rows) == 0 || len(dist.Rows[0].Elements) == 0 {
		return "", nil
	}
	return dist.Rows[0].Elements[0].Distance.Text, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("maps API HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
