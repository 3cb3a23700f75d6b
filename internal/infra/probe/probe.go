package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// platform describes how liveness shows up on a streaming site
type platform struct {
	// headless platforms only render their live state with JS
	headless bool
	// markers are raw substrings present only while live
	markers []string
}

var platforms = map[string]platform{
	"youtube": {markers: []string{`"isLiveNow":true`, `"isLive":true`}},
	"twitch":  {},
	"kick":    {headless: true, markers: []string{`"is_live":true`}},
	"tiktok":  {headless: true, markers: []string{`"status":2`, `"liveRoomUserInfo"`}},
}

// Renderer returns the DOM of a page after scripts ran
type Renderer func(ctx context.Context, url string) (string, error)

// Prober is the LiveProber for streaming profiles
type Prober struct {
	client   *http.Client
	headless bool
	timeout  time.Duration
	render   Renderer
	log      logrus.FieldLogger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewProber creates a prober. With headless off, JS platforms fall back to
// the static page.
func NewProber(headless bool, timeout time.Duration, log logrus.FieldLogger) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Prober{
		client:   &http.Client{Timeout: timeout},
		headless: headless,
		timeout:  timeout,
		log:      log,
	}
	p.render = p.renderWithBrowser
	return p
}

// Probe reports whether the profile is live right now
func (p *Prober) Probe(ctx context.Context, profile domain.LiveProfile) (bool, error) {
	plat, known := platforms[strings.ToLower(profile.Platform)]
	if !known {
		plat = platform{markers: []string{`"isLiveNow":true`}}
	}

	var html string
	var err error
	if plat.headless && p.headless {
		html, err = p.render(ctx, profile.URL)
		if err != nil {
			p.log.WithError(err).WithField("url", profile.URL).Debug("headless render failed, using static page")
		}
	}
	if html == "" {
		html, err = p.fetch(ctx, profile.URL)
		if err != nil {
			return false, err
		}
	}
	return isLive(html, plat.markers)
}

func (p *Prober) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}

// isLive applies the HTML heuristics: schema.org data first, then markers
func isLive(html string, markers []string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page: %w", err)
	}

	live := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		live = broadcastLive(gjson.Parse(s.Text()))
		return !live
	})
	if live {
		return true, nil
	}

	for _, m := range markers {
		if strings.Contains(html, m) {
			return true, nil
		}
	}
	return false, nil
}

// broadcastLive checks schema.org BroadcastEvent data, which may be an
// object, an array or an @graph
func broadcastLive(doc gjson.Result) bool {
	switch {
	case doc.IsArray():
		for _, item := range doc.Array() {
			if broadcastLive(item) {
				return true
			}
		}
		return false
	case doc.IsObject() && doc.Map()["@graph"].IsArray():
		return broadcastLive(doc.Map()["@graph"])
	}
	for _, path := range []string{"publication", "publication.0"} {
		pub := doc.Get(path)
		if pub.Get("isLiveBroadcast").Bool() && !pub.Get("endDate").Exists() {
			return true
		}
	}
	return doc.Get("isLiveBroadcast").Bool() && !doc.Get("endDate").Exists()
}

// renderWithBrowser renders the page in a stealth headless browser
func (p *Prober) renderWithBrowser(ctx context.Context, url string) (string, error) {
	browser, err := p.browserInstance()
	if err != nil {
		return "", err
	}
	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(p.timeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}
	return page.HTML()
}

// browserInstance launches the shared browser on first use
func (p *Prober) browserInstance() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Devtools(false).
		Set("disable-blink-features", "AutomationControlled")
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	p.browser = browser
	return browser, nil
}

// Close shuts down the headless browser if one was started
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
