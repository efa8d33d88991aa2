package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"beepgenesis/internal/config"
)

const scraperHTTPTimeout = 20 * time.Second

// scraperClient talks to the external scraping service that extracts the
// main content of a page.
type scraperClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newScraperClient(cfg config.ScraperConfig) *scraperClient {
	return &scraperClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: scraperHTTPTimeout},
	}
}

func (c *scraperClient) configured() bool {
	return c != nil && c.apiKey != "" && c.baseURL != ""
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error"`
}

// scrape asks the service for the page's main content as markdown.
func (c *scraperClient) scrape(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	payload, err := json.Marshal(scrapeRequest{URL: parsed.String(), Formats: []string{"markdown"}})
	if err != nil {
		return "", fmt.Errorf("encode scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "BeepGenesis-Scraper/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	const maxBodySize = 1 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scrape service: %s", resp.Status)
	}

	var decoded scrapeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode scrape response: %w", err)
	}
	if !decoded.Success {
		if decoded.Error != "" {
			return "", fmt.Errorf("scrape service: %s", decoded.Error)
		}
		return "", errors.New("scrape service reported failure")
	}
	return decoded.Data.Markdown, nil
}
