package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

const letterboxdURL = "https://letterboxd.com"

var filmLink = regexp.MustCompile(`/film/([^/]+)/`)

// LetterboxdSourceOpts configures a [LetterboxdSource].
type LetterboxdSourceOpts struct {
	BaseURL    string
	Usernames  []string
	Feed       bool // read each user's diary RSS
	Watchlist  bool // scrape each user's public watchlist
	MaxPages   int
	PageDelay  time.Duration
	HTTPClient *http.Client
	Retry      shared.RetryPolicy
	Logger     *log.Logger
}

// LetterboxdSource reads diary feeds and watchlists for a set of Letterboxd users.
//
// Failures for one user or one watchlist page make the result partial; items already collected are kept.
type LetterboxdSource struct {
	api       *APIClient
	pages     *APIClient
	usernames []string
	feed      bool
	watchlist bool
	maxPages  int
	logger    *log.Logger
}

// NewLetterboxdSource creates a Letterboxd source.
func NewLetterboxdSource(opts LetterboxdSourceOpts) *LetterboxdSource {
	if opts.BaseURL == "" {
		opts.BaseURL = letterboxdURL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &LetterboxdSource{
		api:       NewAPIClient(opts.BaseURL, opts.HTTPClient, opts.Retry),
		pages:     NewAPIClient(opts.BaseURL, opts.HTTPClient, opts.Retry).WithInterval(opts.PageDelay),
		usernames: opts.Usernames,
		feed:      opts.Feed,
		watchlist: opts.Watchlist,
		maxPages:  opts.MaxPages,
		logger:    shared.WithLogger(opts.Logger, "source", models.SourceLetterboxd),
	}
}

func (l *LetterboxdSource) Name() string { return models.SourceLetterboxd }

// Fetch reads every configured user. It fails only when no user produced anything.
func (l *LetterboxdSource) Fetch(ctx context.Context, _ FetchOptions) (*FetchResult, error) {
	result := &FetchResult{}
	attempted, succeeded := 0, 0

	for _, user := range l.usernames {
		if l.feed {
			attempted++
			items, err := l.fetchFeed(ctx, user)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				l.logger.Warn("feed fetch failed", "user", user, "error", err)
				result.fail(fmt.Errorf("letterboxd feed for %s: %w", user, err))
			} else {
				succeeded++
				result.Items = append(result.Items, items...)
			}
		}

		if l.watchlist {
			attempted++
			items, err := l.fetchWatchlist(ctx, user)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				l.logger.Warn("watchlist scrape incomplete", "user", user, "items", len(items), "error", err)
				result.fail(fmt.Errorf("letterboxd watchlist for %s: %w", user, err))
			}
			if err == nil || len(items) > 0 {
				succeeded++
			}
			result.Items = append(result.Items, items...)
		}
	}

	if attempted > 0 && succeeded == 0 {
		return nil, errors.Join(result.Failures...)
	}
	return result, nil
}

func (l *LetterboxdSource) fetchFeed(ctx context.Context, user string) ([]models.WatchItem, error) {
	feed, err := fetchFeed(ctx, l.api, "/"+user+"/rss/")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]models.WatchItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if item, ok := letterboxdFeedItem(user, entry, now); ok {
			items = append(items, item)
		}
	}
	l.logger.Debug("fetched feed", "user", user, "items", len(items))
	return items, nil
}

// letterboxdFeedItem converts a diary entry. Entries without a film title, such as list posts, are skipped.
func letterboxdFeedItem(user string, entry *gofeed.Item, now time.Time) (models.WatchItem, bool) {
	title := extensionValue(entry, "letterboxd", "filmTitle")
	if title == "" {
		return models.WatchItem{}, false
	}

	year, _ := strconv.Atoi(extensionValue(entry, "letterboxd", "filmYear"))

	var rating *float64
	if v := extensionValue(entry, "letterboxd", "memberRating"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rating = models.Rating(f)
		}
	}

	id := entry.GUID
	if id == "" {
		id = shared.NormalizeTitleKey(title) + "-" + strconv.Itoa(year)
	}

	var slug string
	if m := filmLink.FindStringSubmatch(entry.Link); m != nil {
		slug = m[1]
	}

	return models.WatchItem{
		Source:       models.SourceLetterboxd,
		ExternalID:   user + "-" + id,
		Title:        title,
		Year:         year,
		Kind:         models.KindMovie,
		IDs:          models.ProviderIDs{TMDB: extensionValue(entry, "tmdb", "movieId")},
		Rating:       rating,
		Slug:         slug,
		DiscoveredAt: now,
	}, true
}

// fetchWatchlist scrapes watchlist pages until one is empty, the advertised total is reached,
// there is no next link, or MaxPages is hit. On error the items collected so far are returned with it.
func (l *LetterboxdSource) fetchWatchlist(ctx context.Context, user string) ([]models.WatchItem, error) {
	var items []models.WatchItem
	seen := mapset.NewThreadUnsafeSet[string]()
	now := time.Now().UTC()
	total := -1

	for page := 1; page <= l.maxPages; page++ {
		path := "/" + user + "/watchlist/"
		if page > 1 {
			path = fmt.Sprintf("/%s/watchlist/page/%d/", user, page)
		}

		resp, err := l.pages.Get(ctx, path, nil)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusNotFound && page > 1 {
				break
			}
			return items, fmt.Errorf("page %d: %w", page, err)
		}

		parsed, err := parseWatchlistPage(resp.Body)
		if err != nil {
			return items, fmt.Errorf("page %d: %w", page, err)
		}
		if total < 0 {
			total = parsed.total
		}
		if len(parsed.posters) == 0 {
			break
		}

		for _, p := range parsed.posters {
			if p.slug == "" || seen.Contains(p.slug) {
				continue
			}
			seen.Add(p.slug)
			items = append(items, p.item(user, now))
		}

		if (total >= 0 && len(items) >= total) || !parsed.hasNext {
			break
		}
	}

	l.logger.Debug("scraped watchlist", "user", user, "items", len(items))
	return items, nil
}

type watchlistPoster struct {
	filmID string
	slug   string
	name   string
}

func (p watchlistPoster) item(user string, now time.Time) models.WatchItem {
	name := p.name
	if name == "" {
		name = strings.ReplaceAll(p.slug, "-", " ")
	}
	title, year := splitTitleYear(name)

	id := p.filmID
	if id == "" {
		id = p.slug
	}

	return models.WatchItem{
		Source:       models.SourceLetterboxd,
		ExternalID:   "watchlist-" + user + "-" + id,
		Title:        title,
		Year:         year,
		Kind:         models.KindMovie,
		Slug:         p.slug,
		DiscoveredAt: now,
	}
}

type watchlistPage struct {
	posters []watchlistPoster
	total   int
	hasNext bool
}

func parseWatchlistPage(body []byte) (watchlistPage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return watchlistPage{}, fmt.Errorf("failed to parse watchlist html: %w", err)
	}

	page := watchlistPage{total: -1}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if v, ok := attr(n, "data-num-entries"); ok && page.total < 0 {
				if total, err := strconv.Atoi(v); err == nil {
					page.total = total
				}
			}

			if class, _ := attr(n, "data-component-class"); class == "LazyPoster" {
				page.posters = append(page.posters, posterFromNode(n))
			}

			if n.Data == "a" {
				if class, _ := attr(n, "class"); hasClass(class, "next") {
					page.hasNext = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return page, nil
}

func posterFromNode(n *html.Node) watchlistPoster {
	p := watchlistPoster{}
	p.filmID, _ = attr(n, "data-film-id")
	p.slug, _ = attr(n, "data-item-slug")
	if p.slug == "" {
		link, _ := attr(n, "data-item-link")
		if m := filmLink.FindStringSubmatch(link); m != nil {
			p.slug = m[1]
		}
	}
	p.name, _ = attr(n, "data-item-name")
	if p.name == "" {
		p.name, _ = attr(n, "data-item-full-display-name")
	}
	return p
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(classes, want string) bool {
	for _, c := range strings.Fields(classes) {
		if c == want {
			return true
		}
	}
	return false
}

// LetterboxdEnricher reads the TMDB id embedded in a film page for items that carry a Letterboxd slug.
type LetterboxdEnricher struct {
	api *APIClient
}

// NewLetterboxdEnricher creates a film page enricher.
func NewLetterboxdEnricher(baseURL string, client *http.Client, policy shared.RetryPolicy, delay time.Duration) *LetterboxdEnricher {
	if baseURL == "" {
		baseURL = letterboxdURL
	}
	return &LetterboxdEnricher{api: NewAPIClient(baseURL, client, policy).WithInterval(delay)}
}

func (e *LetterboxdEnricher) Enrich(ctx context.Context, item models.WatchItem) (models.ProviderIDs, error) {
	if item.Slug == "" || item.Kind != models.KindMovie {
		return models.ProviderIDs{}, nil
	}

	resp, err := e.api.Get(ctx, "/film/"+item.Slug+"/", nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return models.ProviderIDs{}, nil
		}
		return models.ProviderIDs{}, err
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return models.ProviderIDs{}, fmt.Errorf("failed to parse film page: %w", err)
	}

	var ids models.ProviderIDs
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "body" {
			ids.TMDB, _ = attr(n, "data-tmdb-id")
			return
		}
		for c := n.FirstChild; c != nil && ids.TMDB == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return ids, nil
}
