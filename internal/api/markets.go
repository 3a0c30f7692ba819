package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// StatusOpen selects markets that are currently trading.
const StatusOpen = "open"

// maxPageSize is the largest page GET /markets returns.
const maxPageSize = 1000

// GetMarkets fetches a page of markets.
func (c *Client) GetMarkets(ctx context.Context, opts GetMarketsOptions) (*MarketsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.EventTicker != "" {
		query.Set("event_ticker", opts.EventTicker)
	}
	if opts.SeriesTicker != "" {
		query.Set("series_ticker", opts.SeriesTicker)
	}
	if len(opts.Tickers) > 0 {
		query.Set("tickers", strings.Join(opts.Tickers, ","))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	var resp MarketsResponse
	if err := c.get(ctx, "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	return &resp, nil
}

// GetAllMarkets fetches all markets matching opts by paginating through
// results.
func (c *Client) GetAllMarkets(ctx context.Context, opts GetMarketsOptions) ([]APIMarket, error) {
	var allMarkets []APIMarket
	opts.Limit = maxPageSize

	for {
		resp, err := c.GetMarkets(ctx, opts)
		if err != nil {
			return nil, err
		}

		allMarkets = append(allMarkets, resp.Markets...)

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return allMarkets, nil
}

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*APIMarket, error) {
	var resp SingleMarketResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker), nil, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return &resp.Market, nil
}

// OpenTickers returns the tickers of every open market in the given series,
// in series order with duplicates removed.
func (c *Client) OpenTickers(ctx context.Context, seriesTickers []string) ([]string, error) {
	seen := make(map[string]struct{})
	var tickers []string

	for _, series := range seriesTickers {
		markets, err := c.GetAllMarkets(ctx, GetMarketsOptions{
			SeriesTicker: series,
			Status:       StatusOpen,
		})
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", series, err)
		}

		for _, m := range markets {
			if _, ok := seen[m.Ticker]; ok || m.Ticker == "" {
				continue
			}
			seen[m.Ticker] = struct{}{}
			tickers = append(tickers, m.Ticker)
		}
		c.logger.Debug("discovered markets", "series", series, "markets", len(markets))
	}

	return tickers, nil
}
