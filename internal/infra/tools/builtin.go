package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

const (
	maxSearchResults = 5
	maxPageText      = 4000
	userAgent        = "Mozilla/5.0 (compatible; BotPanel/1.0)"
)

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func (r *Registry) registerBuiltins() {
	r.Register(repo.ToolSpec{
		Name:        "web_search",
		Description: "Search the web and return the top results with title, link and snippet.",
		Parameters:  object(map[string]interface{}{"query": stringProp("Search query")}, "query"),
	}, r.webSearch)

	r.Register(repo.ToolSpec{
		Name:        "fetch_page",
		Description: "Fetch a web page and return its readable text.",
		Parameters:  object(map[string]interface{}{"url": stringProp("Absolute http(s) URL")}, "url"),
	}, r.fetchPage)

	r.Register(repo.ToolSpec{
		Name:        "get_weather",
		Description: "Get the current weather for a city.",
		Parameters:  object(map[string]interface{}{"city": stringProp("City name, e.g. Paris")}, "city"),
	}, r.weather)

	r.Register(repo.ToolSpec{
		Name:        "convert_currency",
		Description: "Convert an amount between two ISO 4217 currencies using current exchange rates.",
		Parameters: object(map[string]interface{}{
			"amount": map[string]interface{}{"type": "number", "description": "Amount to convert"},
			"from":   stringProp("Source currency code, e.g. USD"),
			"to":     stringProp("Target currency code, e.g. EUR"),
		}, "amount", "from", "to"),
	}, r.convertCurrency)

	r.Register(repo.ToolSpec{
		Name:        "get_time",
		Description: "Get the current date and time, optionally in an IANA timezone.",
		Parameters:  object(map[string]interface{}{"timezone": stringProp("IANA timezone, e.g. Europe/Paris")}),
	}, r.currentTime)
}

func (r *Registry) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (r *Registry) getJSON(ctx context.Context, rawURL string) (gjson.Result, error) {
	resp, err := r.get(ctx, rawURL)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", rawURL)
	}
	return gjson.ParseBytes(body), nil
}

func (r *Registry) webSearch(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error) {
	query := strings.TrimSpace(args.Get("query").String())
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	resp, err := r.get(ctx, r.cfg.SearchURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse results: %w", err)
	}

	var sb strings.Builder
	n := 0
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		n++
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", n, title, resolveResultLink(href)))
		if snippet := strings.TrimSpace(s.Find(".result__snippet").Text()); snippet != "" {
			sb.WriteString("   " + snippet + "\n")
		}
		return n < maxSearchResults
	})
	if n == 0 {
		return "No results found.", nil
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// resolveResultLink unwraps redirect links of the form /l/?uddg=<target>
func resolveResultLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func (r *Registry) fetchPage(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error) {
	raw := args.Get("url").String()
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("url must be an absolute http(s) URL")
	}
	resp, err := r.get(ctx, u.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxPageText {
		text = text[:maxPageText] + "..."
	}
	if title != "" {
		return title + "\n\n" + text, nil
	}
	return text, nil
}

func (r *Registry) weather(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error) {
	city := strings.TrimSpace(args.Get("city").String())
	if city == "" {
		return "", fmt.Errorf("city is required")
	}
	geo, err := r.getJSON(ctx, fmt.Sprintf("%s?name=%s&count=1", r.cfg.GeocodeURL, url.QueryEscape(city)))
	if err != nil {
		return "", fmt.Errorf("geocode: %w", err)
	}
	place := geo.Get("results.0")
	if !place.Exists() {
		return fmt.Sprintf("No location found for %q.", city), nil
	}

	forecast, err := r.getJSON(ctx, fmt.Sprintf("%s?latitude=%s&longitude=%s&current=temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
		r.cfg.WeatherURL, place.Get("latitude").Raw, place.Get("longitude").Raw))
	if err != nil {
		return "", fmt.Errorf("forecast: %w", err)
	}
	cur := forecast.Get("current")
	if !cur.Exists() {
		return "", fmt.Errorf("forecast has no current conditions")
	}
	return fmt.Sprintf("%s, %s: %s, %.1f°C, humidity %d%%, wind %.1f km/h",
		place.Get("name").String(), place.Get("country").String(),
		weatherDescription(int(cur.Get("weather_code").Int())),
		cur.Get("temperature_2m").Float(),
		cur.Get("relative_humidity_2m").Int(),
		cur.Get("wind_speed_10m").Float(),
	), nil
}

// weatherDescription maps WMO weather codes
func weatherDescription(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}

func (r *Registry) convertCurrency(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error) {
	amount := args.Get("amount").Float()
	from := strings.ToUpper(strings.TrimSpace(args.Get("from").String()))
	to := strings.ToUpper(strings.TrimSpace(args.Get("to").String()))
	if len(from) != 3 || len(to) != 3 {
		return "", fmt.Errorf("from and to must be 3-letter currency codes")
	}
	rates, err := r.getJSON(ctx, strings.TrimRight(r.cfg.CurrencyURL, "/")+"/"+from)
	if err != nil {
		return "", fmt.Errorf("exchange rates: %w", err)
	}
	if res := rates.Get("result").String(); res != "" && res != "success" {
		return "", fmt.Errorf("exchange rates: %s", rates.Get("error-type").String())
	}
	rate := rates.Get("rates." + to)
	if !rate.Exists() {
		return fmt.Sprintf("No exchange rate from %s to %s.", from, to), nil
	}
	return fmt.Sprintf("%.2f %s = %.2f %s (rate %.4f)", amount, from, amount*rate.Float(), to, rate.Float()), nil
}

func (r *Registry) currentTime(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error) {
	now := r.now()
	if tz := strings.TrimSpace(args.Get("timezone").String()); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return now.Format("Monday, 2 January 2006 15:04 MST"), nil
}
