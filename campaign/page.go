// Package campaign reads order counts from merch campaign pages.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/onnwee/merchbot/poll"
)

const (
	// DefaultBaseURL is prefixed to campaign ids.
	DefaultBaseURL = "https://teespring.com/twitch/"

	countClass = "persistent_timer__order_count"
	nameClass  = "campaign__name"

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultTimeout   = 5 * time.Second
	maxPageBytes     = 4 << 20
)

// ErrCountNotFound is returned when the page has no order count element.
var ErrCountNotFound = errors.New("order count element not found")

// PageFetcher fetches a campaign page and extracts its order count and name.
type PageFetcher struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
}

func (p *PageFetcher) url(id string) string {
	base := p.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(id, "/")
}

// Fetch implements poll.Fetcher; id is the campaign id (the last path segment
// of the campaign URL).
func (p *PageFetcher) Fetch(ctx context.Context, id string) (poll.Reading, error) {
	if strings.TrimSpace(id) == "" {
		return poll.Reading{}, errors.New("campaign id empty")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(id), nil)
	if err != nil {
		return poll.Reading{}, err
	}
	ua := p.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html")

	hc := p.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return poll.Reading{}, fmt.Errorf("fetch campaign %s: %w", id, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return poll.Reading{}, fmt.Errorf("fetch campaign %s: %s", id, resp.Status)
	}

	count, name, err := Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return poll.Reading{}, fmt.Errorf("campaign %s: %w", id, err)
	}
	if name == "" {
		name = id
	}
	return poll.Reading{Value: count, Label: name}, nil
}

// Parse extracts the order count and campaign name from a campaign page. The
// count is the first word of the first order count element's text; a missing
// name yields an empty string.
func Parse(r io.Reader) (int, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return 0, "", fmt.Errorf("parse html: %w", err)
	}
	countNode := findByClass(doc, countClass)
	if countNode == nil {
		return 0, "", ErrCountNotFound
	}
	fields := strings.Fields(textOf(countNode))
	if len(fields) == 0 {
		return 0, "", fmt.Errorf("order count element is empty")
	}
	count, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0, "", fmt.Errorf("order count %q: %w", fields[0], err)
	}

	var name string
	if n := findByClass(doc, nameClass); n != nil {
		name = strings.Join(strings.Fields(textOf(n)), " ")
	}
	return count, name, nil
}

// findByClass returns the first element in document order carrying class.
func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
