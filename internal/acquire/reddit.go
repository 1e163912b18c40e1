package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/resilience"
)

// maxFeedBytes caps a single feed download.
const maxFeedBytes = 4 << 20

// Reddit reads subreddit and search Atom feeds.
type Reddit struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *adaptiveLimiter
	breaker   *resilience.Breaker
	parser    *gofeed.Parser
}

// NewReddit creates a Reddit source. breaker may be nil.
func NewReddit(cfg config.AcquireConfig, breaker *resilience.Breaker) *Reddit {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://www.reddit.com"
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "painpoint-radar/1.0"
	}
	if breaker == nil {
		breaker = resilience.NewBreaker("reddit", resilience.FromSettings(0, 0))
	}
	return &Reddit{
		client:    &http.Client{Timeout: timeout},
		baseURL:   base,
		userAgent: ua,
		limiter:   newAdaptiveLimiter(cfg.RequestsPerSecond),
		breaker:   breaker,
		parser:    gofeed.NewParser(),
	}
}

// Fetch implements Source. It reads the newest posts and comments of the
// subreddit named by sourceID and keeps those created after since.
func (r *Reddit) Fetch(ctx context.Context, sourceID string, since time.Time) ([]Candidate, error) {
	sub := url.PathEscape(strings.TrimPrefix(sourceID, "r/"))

	var out []Candidate
	for _, path := range []string{"/r/" + sub + "/new/.rss?limit=100", "/r/" + sub + "/comments/.rss?limit=100"} {
		items, err := r.feed(ctx, r.baseURL+path)
		if err != nil {
			return nil, eris.Wrapf(err, "acquire: fetch %s", sourceID)
		}
		for _, item := range items {
			c, ok := toCandidate(sourceID, item)
			if !ok || !c.CreatedAt.After(since) {
				continue
			}
			out = append(out, c)
		}
	}

	zap.L().Debug("acquire: fetched source",
		zap.String("source", sourceID),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

// Search implements Source.
func (r *Reddit) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 25
	}
	u := fmt.Sprintf("%s/search.rss?q=%s&sort=new&limit=%d", r.baseURL, url.QueryEscape(query), limit)
	items, err := r.feed(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: search %q", query)
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		if c, ok := toCandidate(subredditOf(item.Link), item); ok {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Reddit) feed(ctx context.Context, u string) ([]*gofeed.Item, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limit wait")
	}

	return resilience.Call(ctx, r.breaker, func(ctx context.Context) ([]*gofeed.Item, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "http get")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode == http.StatusTooManyRequests {
			r.limiter.onThrottled()
		}
		if resp.StatusCode >= 400 {
			err := eris.Errorf("feed returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		r.limiter.onSuccess()

		feed, err := r.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return nil, eris.Wrap(err, "parse feed")
		}
		return feed.Items, nil
	})
}

// toCandidate maps an Atom entry. Entry ids carry the Reddit fullname:
// t3_ for posts, t1_ for comments.
func toCandidate(source string, item *gofeed.Item) (Candidate, bool) {
	if item == nil {
		return Candidate{}, false
	}
	c := Candidate{Source: source}

	switch {
	case strings.HasPrefix(item.GUID, "t3_"):
		c.Kind = model.KindPost
		c.ExternalID = strings.TrimPrefix(item.GUID, "t3_")
	case strings.HasPrefix(item.GUID, "t1_"):
		c.Kind = model.KindComment
		c.ExternalID = strings.TrimPrefix(item.GUID, "t1_")
		c.ParentID = postIDOf(item.Link)
	default:
		return Candidate{}, false
	}

	if item.Author != nil {
		c.Author = strings.TrimPrefix(item.Author.Name, "/u/")
	}
	switch {
	case item.PublishedParsed != nil:
		c.CreatedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		c.CreatedAt = item.UpdatedParsed.UTC()
	}

	body := htmlToText(item.Content)
	if c.Kind == model.KindPost && item.Title != "" {
		body = strings.TrimSpace(item.Title + "\n" + body)
	}
	c.Text = body

	return c, c.Usable()
}

// postIDOf extracts the post id from a permalink like
// https://www.reddit.com/r/SaaS/comments/abc123/title/def456/.
func postIDOf(link string) string {
	parts := strings.Split(strings.Trim(linkPath(link), "/"), "/")
	for i, p := range parts {
		if p == "comments" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// subredditOf extracts the subreddit name from a permalink.
func subredditOf(link string) string {
	parts := strings.Split(strings.Trim(linkPath(link), "/"), "/")
	for i, p := range parts {
		if p == "r" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "search"
}

func linkPath(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Path
}
