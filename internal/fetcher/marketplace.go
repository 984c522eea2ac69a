package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"surplus-watcher/internal/inventory"
)

const (
	searchPath = "/item/v8/"
	// The upstream API caps page size at 400 and a realistic region never
	// spans more than 20 pages.
	maxPageSize = 400
	maxMaxPages = 20
)

// MarketplaceOptions parameterise the surplus-marketplace client.
type MarketplaceOptions struct {
	BaseURL        string
	AccessToken    string
	UserAgent      string
	PageSize       int
	MaxPages       int
	RequestsPerMin int
	Timeout        time.Duration
}

// Marketplace fetches item availability from the surplus marketplace API,
// paging through results with a client-side rate limit between pages.
type Marketplace struct {
	opts    MarketplaceOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewMarketplace constructs a marketplace fetcher.
func NewMarketplace(opts MarketplaceOptions, logger zerolog.Logger) *Marketplace {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.PageSize <= 0 || opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	if opts.MaxPages <= 0 || opts.MaxPages > maxMaxPages {
		opts.MaxPages = maxMaxPages
	}

	perMin := opts.RequestsPerMin
	if perMin <= 0 {
		perMin = 6
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)

	return &Marketplace{
		opts:    opts,
		logger:  logger.With().Str("component", "marketplace_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchItems pages through the region search until a short page or the page
// cap, concatenating results. HTTP 401/403 are permanent failures; 429,
// 5xx, and network errors are transient.
func (m *Marketplace) FetchItems(ctx context.Context, query Query) ([]inventory.Item, error) {
	if m.baseURL == "" {
		return nil, Permanent(errors.New("marketplace base url not configured"))
	}
	if m.opts.AccessToken == "" {
		return nil, Permanent(errors.New("marketplace access token not configured"))
	}

	var items []inventory.Item
	for page := 1; page <= m.opts.MaxPages; page++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, Transient(err)
		}

		results, err := m.fetchPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			break
		}

		for _, result := range results {
			items = append(items, result.toItem())
		}
		m.logger.Debug().Int("page", page).Int("results", len(results)).Msg("fetched search page")

		if len(results) < m.opts.PageSize {
			break
		}
	}

	return items, nil
}

func (m *Marketplace) fetchPage(ctx context.Context, query Query, page int) ([]resultPayload, error) {
	payload := searchRequest{
		Latitude:      query.Latitude,
		Longitude:     query.Longitude,
		Radius:        query.RadiusMeters,
		Page:          page,
		PageSize:      m.opts.PageSize,
		FavoritesOnly: false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal search request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.opts.AccessToken)
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("search request: %w", err))
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read search response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, payloadBytes)
	}

	var decoded searchResponse
	if err := json.Unmarshal(payloadBytes, &decoded); err != nil {
		return nil, Transient(fmt.Errorf("decode search response: %w", err))
	}

	return decoded.Results, nil
}

func classifyStatus(status int, payload []byte) *Error {
	err := fmt.Errorf("marketplace api: %s", summarizeBody(payload))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindPermanent, Status: status, Err: err}
	case status == http.StatusTooManyRequests || status >= 500:
		return &Error{Kind: KindTransient, Status: status, Err: err}
	default:
		return &Error{Kind: KindPermanent, Status: status, Err: err}
	}
}

func summarizeBody(payload []byte) string {
	var apiErr struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Description != "" {
			return apiErr.Description
		}
	}
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed == "" {
		return "empty response body"
	}
	return trimmed
}

type searchRequest struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Radius        int     `json:"radius"`
	Page          int     `json:"page"`
	PageSize      int     `json:"page_size"`
	FavoritesOnly bool    `json:"favorites_only"`
}

type searchResponse struct {
	Results []resultPayload `json:"results"`
}

type resultPayload struct {
	Item struct {
		ItemID              string       `json:"item_id"`
		Name                string       `json:"name"`
		PriceIncludingTaxes pricePayload `json:"price_including_taxes"`
		ValueIncludingTaxes pricePayload `json:"value_including_taxes"`
	} `json:"item"`
	Store struct {
		StoreID   string `json:"store_id"`
		StoreName string `json:"store_name"`
	} `json:"store"`
	DisplayName    string `json:"display_name"`
	PickupInterval struct {
		Start *time.Time `json:"start,omitempty"`
		End   *time.Time `json:"end,omitempty"`
	} `json:"pickup_interval"`
	ItemsAvailable int        `json:"items_available"`
	SoldOutAt      *time.Time `json:"sold_out_at,omitempty"`
	InSalesWindow  bool       `json:"in_sales_window"`
	NewItem        bool       `json:"new_item"`
	Favorite       bool       `json:"favorite"`
}

type pricePayload struct {
	Code       string `json:"code"`
	MinorUnits int64  `json:"minor_units"`
	Decimals   int32  `json:"decimals"`
}

func (p pricePayload) toPrice() inventory.Price {
	return inventory.Price{Code: p.Code, MinorUnits: p.MinorUnits, Decimals: p.Decimals}
}

func (r resultPayload) toItem() inventory.Item {
	name := r.Item.Name
	if name == "" {
		name = r.DisplayName
	}
	return inventory.Item{
		ItemID:         r.Item.ItemID,
		Name:           name,
		StoreID:        r.Store.StoreID,
		StoreName:      r.Store.StoreName,
		Quantity:       r.ItemsAvailable,
		Price:          r.Item.PriceIncludingTaxes.toPrice(),
		Value:          r.Item.ValueIncludingTaxes.toPrice(),
		WindowStart:    r.PickupInterval.Start,
		WindowEnd:      r.PickupInterval.End,
		SoldOutAt:      r.SoldOutAt,
		InSalesWindow:  r.InSalesWindow,
		NewItem:        r.NewItem,
		MatchesFilters: r.Favorite,
	}
}

var _ ItemFetcher = (*Marketplace)(nil)
