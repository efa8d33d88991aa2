package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"beepgenesis/internal/config"
	"beepgenesis/internal/models"
)

// Summarizer condenses fetched page text; ChatService implements it.
type Summarizer interface {
	SummarizeText(ctx context.Context, text string) (string, error)
}

// scrapeContentLimit bounds how much fetched page text reaches the
// summarization prompt.
const scrapeContentLimit = 15000

// InitToolsChain assembles the tool set the model may invoke mid-generation.
// Every tool converts its failures into readable strings so a broken tool
// degrades the conversation instead of aborting it.
func InitToolsChain(cfg *config.Config, summarizer Summarizer) []tool.BaseTool {
	scrape := newScrapeTool(newScraperClient(cfg.Scraper), summarizer)
	search := newSearchTool(scrape, initDDGSearch())

	return []tool.BaseTool{
		utils.NewTool(searchToolInfo(), search.run),
		utils.NewTool(scrapeToolInfo(), scrape.run),
		utils.NewTool(calendarToolInfo(), runCalendarTool),
	}
}

// initDDGSearch builds the token-free DuckDuckGo fallback used for queries
// outside the keyword map. A construction failure just disables the fallback.
func initDDGSearch() tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		log.Printf("duckduckgo fallback disabled: %v", err)
		return nil
	}
	return duckTool
}

// search tool

type searchTool struct {
	scrape *scrapeTool
	duck   tool.InvokableTool
}

type searchParams struct {
	Query string `json:"query"`
}

type searchEnvelope struct {
	Type    string                `json:"type"`
	Results []models.SearchResult `json:"results"`
}

// keyword -> source URL. There is no general search index behind this tool;
// queries resolve to one of these curated pages.
var searchSources = []struct {
	keywords []string
	title    string
	url      string
}{
	{[]string{"weather", "forecast", "temperature"}, "Weather.com", "https://weather.com"},
	{[]string{"market", "stock", "finance", "price"}, "Bloomberg Markets", "https://www.bloomberg.com/markets"},
	{[]string{"news", "headline", "today"}, "AP News", "https://apnews.com"},
}

func searchToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "search",
		Desc: "Search the web for current information. Returns a JSON envelope of search results.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query describing what to look up",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func newSearchTool(scrape *scrapeTool, duck tool.InvokableTool) *searchTool {
	return &searchTool{scrape: scrape, duck: duck}
}

func (t *searchTool) run(ctx context.Context, params *searchParams) (string, error) {
	query := ""
	if params != nil {
		query = strings.TrimSpace(params.Query)
	}
	if query == "" {
		return "Search failed: the query was empty.", nil
	}

	title, target, matched := resolveSearchSource(query)
	if !matched && t.duck != nil {
		payload, err := json.Marshal(map[string]string{"query": query})
		if err == nil {
			if result, derr := t.duck.InvokableRun(ctx, string(payload)); derr == nil {
				return result, nil
			} else {
				log.Printf("duckduckgo search for %q failed: %v", query, derr)
			}
		}
	}

	snippet, err := t.scrape.scrapeAndSummarize(ctx, target)
	if err != nil {
		// scrape errors come back as readable strings already
		snippet = err.Error()
	}
	envelope := searchEnvelope{
		Type: "searchResults",
		Results: []models.SearchResult{
			{Title: title, Link: target, Snippet: snippet},
		},
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "Search failed: could not encode results.", nil
	}
	return string(encoded), nil
}

func resolveSearchSource(query string) (title, url string, matched bool) {
	lower := strings.ToLower(query)
	for _, src := range searchSources {
		for _, kw := range src.keywords {
			if strings.Contains(lower, kw) {
				return src.title, src.url, true
			}
		}
	}
	// unmatched queries land on the news page
	last := searchSources[len(searchSources)-1]
	return last.title, last.url, false
}

// scrape-and-summarize tool

type scrapeTool struct {
	scraper    *scraperClient
	summarizer Summarizer
}

type scrapeParams struct {
	URL string `json:"url"`
}

func scrapeToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "scrapeAndSummarizeWebsite",
		Desc: "Fetch the main content of a web page and summarize it. Returns plain text.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"url": {
				Desc:     "Absolute http(s) URL of the page to read",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func newScrapeTool(scraper *scraperClient, summarizer Summarizer) *scrapeTool {
	return &scrapeTool{scraper: scraper, summarizer: summarizer}
}

func (t *scrapeTool) run(ctx context.Context, params *scrapeParams) (string, error) {
	target := ""
	if params != nil {
		target = strings.TrimSpace(params.URL)
	}
	if target == "" {
		return "Scrape failed: no URL was provided.", nil
	}
	result, err := t.scrapeAndSummarize(ctx, target)
	if err != nil {
		return err.Error(), nil
	}
	return result, nil
}

// scrapeAndSummarize fetches the page and condenses it. Errors are returned
// as descriptive values; callers render them as tool output, never panics.
func (t *scrapeTool) scrapeAndSummarize(ctx context.Context, target string) (string, error) {
	if !t.scraper.configured() {
		return "", fmt.Errorf("Website reading is unavailable: the scraping service API key is not configured.")
	}
	content, err := t.scraper.scrape(ctx, target)
	if err != nil {
		log.Printf("scrape %s failed: %v", target, err)
		return "", fmt.Errorf("Could not read %s: the page could not be fetched.", target)
	}
	if len(content) > scrapeContentLimit {
		content = content[:scrapeContentLimit]
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("Could not read %s: the page had no readable content.", target)
	}
	summary, err := t.summarizer.SummarizeText(ctx, content)
	if err != nil {
		log.Printf("summarize scraped content of %s failed: %v", target, err)
		return "", fmt.Errorf("Could not summarize the content of %s.", target)
	}
	return summary, nil
}

// calendar tool

type calendarEnvelope struct {
	Type   string                 `json:"type"`
	Events []models.CalendarEvent `json:"events"`
}

func calendarToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "getCalendarEvents",
		Desc:        "Look up today's calendar events. Takes no input and returns a JSON envelope of events.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

type calendarParams struct{}

// runCalendarTool returns a fixed mock schedule; there is no real calendar
// integration behind it.
func runCalendarTool(ctx context.Context, _ *calendarParams) (string, error) {
	day := time.Now().Format("2006-01-02")
	envelope := calendarEnvelope{
		Type: "calendarResults",
		Events: []models.CalendarEvent{
			{
				Summary:   "Morning sync",
				Start:     day + "T09:00:00",
				End:       day + "T09:30:00",
				Attendees: []string{"you", "the Genesis team"},
			},
			{
				Summary:     "Deep work block",
				Start:       day + "T10:00:00",
				End:         day + "T12:00:00",
				Description: "Focus time, notifications off",
			},
			{
				Summary:   "Project review",
				Start:     day + "T15:00:00",
				End:       day + "T16:00:00",
				Attendees: []string{"you", "ops"},
			},
		},
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "Calendar lookup failed: could not encode events.", nil
	}
	return string(encoded), nil
}
