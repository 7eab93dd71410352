package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

// ArrOpts holds the settings shared by Radarr and Sonarr clients.
type ArrOpts struct {
	URL              string
	APIKey           string
	QualityProfileID int
	RootFolderPath   string
	Monitored        bool
	SearchOnAdd      bool
	RateLimit        float64 // requests per second, 0 for unlimited
	HTTPClient       *http.Client
	Retry            shared.RetryPolicy
	Logger           *log.Logger
}

func newArrAPI(opts ArrOpts) *APIClient {
	return NewAPIClient(opts.URL, opts.HTTPClient, opts.Retry).
		WithHeader("X-Api-Key", opts.APIKey).
		WithHeader("Accept", "application/json").
		WithRateLimit(opts.RateLimit)
}

type arrValidationError struct {
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// arrAddError classifies a failed add. Validation errors saying the item exists count as already present;
// every other 4xx is a permanent rejection.
func arrAddError(err error) (AddOutcome, error) {
	var se *StatusError
	if !errors.As(err, &se) {
		return 0, err
	}
	if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
		return 0, fmt.Errorf("%w: %w", shared.ErrAuthFailed, se)
	}

	var problems []arrValidationError
	_ = json.Unmarshal(se.Body, &problems)

	messages := make([]string, 0, len(problems))
	for _, p := range problems {
		if strings.Contains(strings.ToLower(p.ErrorMessage), "already been added") || p.ErrorCode == "MovieExistsValidator" || p.ErrorCode == "SeriesExistsValidator" {
			return AlreadyPresent, nil
		}
		if p.ErrorMessage != "" {
			messages = append(messages, p.ErrorMessage)
		}
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("%w: %w", shared.ErrTargetRejection, se)
	}
	return 0, fmt.Errorf("%w: %s", shared.ErrTargetRejection, strings.Join(messages, "; "))
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// RadarrClient adds movies to Radarr through the v3 API.
type RadarrClient struct {
	api    *APIClient
	opts   ArrOpts
	logger *log.Logger
}

// NewRadarrClient creates a Radarr target.
func NewRadarrClient(opts ArrOpts) *RadarrClient {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &RadarrClient{
		api:    newArrAPI(opts),
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "target", models.TargetRadarr),
	}
}

func (r *RadarrClient) Name() string { return models.TargetRadarr }

type radarrMovie struct {
	ID        int    `json:"id,omitempty"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	TMDBID    int    `json:"tmdbId"`
	IMDBID    string `json:"imdbId,omitempty"`
	TitleSlug string `json:"titleSlug,omitempty"`
}

type radarrAddRequest struct {
	Title            string           `json:"title"`
	TMDBID           int              `json:"tmdbId"`
	Year             int              `json:"year,omitempty"`
	IMDBID           string           `json:"imdbId,omitempty"`
	TitleSlug        string           `json:"titleSlug,omitempty"`
	QualityProfileID int              `json:"qualityProfileId"`
	RootFolderPath   string           `json:"rootFolderPath"`
	Monitored        bool             `json:"monitored"`
	AddOptions       radarrAddOptions `json:"addOptions"`
}

type radarrAddOptions struct {
	SearchForMovie bool `json:"searchForMovie"`
}

// AddMovie adds item unless Radarr already has it. The item must carry a TMDB or IMDb id.
func (r *RadarrClient) AddMovie(ctx context.Context, item models.WatchItem) (AddOutcome, error) {
	if item.IDs.TMDB == "" && item.IDs.IMDB == "" {
		return 0, fmt.Errorf("%w: radarr needs a tmdb or imdb id for %s", shared.ErrUnresolvedIdentifier, item)
	}

	if item.IDs.TMDB != "" {
		existing, err := r.existing(ctx, item.IDs.TMDB)
		if err != nil {
			return 0, err
		}
		if existing {
			r.logger.Debug("movie already present", "title", item.String(), "tmdb", item.IDs.TMDB)
			return AlreadyPresent, nil
		}
	}

	movie, err := r.lookup(ctx, item.IDs)
	if err != nil {
		return 0, err
	}

	if item.IDs.TMDB == "" && movie.TMDBID > 0 {
		existing, err := r.existing(ctx, strconv.Itoa(movie.TMDBID))
		if err != nil {
			return 0, err
		}
		if existing {
			return AlreadyPresent, nil
		}
	}

	req := radarrAddRequest{
		Title:            movie.Title,
		TMDBID:           movie.TMDBID,
		Year:             movie.Year,
		IMDBID:           movie.IMDBID,
		TitleSlug:        movie.TitleSlug,
		QualityProfileID: r.opts.QualityProfileID,
		RootFolderPath:   r.opts.RootFolderPath,
		Monitored:        r.opts.Monitored,
		AddOptions:       radarrAddOptions{SearchForMovie: r.opts.SearchOnAdd},
	}
	if req.Title == "" {
		req.Title = item.Title
	}
	if req.Year == 0 {
		req.Year = item.Year
	}
	if req.IMDBID == "" {
		req.IMDBID = item.IDs.IMDB
	}

	if _, err := r.api.Post(ctx, "/api/v3/movie", req); err != nil {
		return arrAddError(err)
	}

	r.logger.Info("added movie", "title", item.String(), "tmdb", req.TMDBID)
	return Added, nil
}

func (r *RadarrClient) existing(ctx context.Context, tmdbID string) (bool, error) {
	query := url.Values{}
	query.Set("tmdbId", tmdbID)

	var movies []radarrMovie
	if err := r.api.GetJSON(ctx, "/api/v3/movie", query, &movies); err != nil {
		return false, fmt.Errorf("radarr movie check: %w", err)
	}
	return len(movies) > 0, nil
}

func (r *RadarrClient) lookup(ctx context.Context, ids models.ProviderIDs) (radarrMovie, error) {
	query := url.Values{}
	path := "/api/v3/movie/lookup/tmdb"
	if ids.TMDB != "" {
		query.Set("tmdbId", ids.TMDB)
	} else {
		path = "/api/v3/movie/lookup/imdb"
		query.Set("imdbId", ids.IMDB)
	}

	var movie radarrMovie
	if err := r.api.GetJSON(ctx, path, query, &movie); err != nil {
		if isNotFound(err) {
			return movie, fmt.Errorf("%w: radarr has no movie for %s", shared.ErrTargetRejection, ids)
		}
		return movie, fmt.Errorf("radarr lookup: %w", err)
	}
	if movie.TMDBID == 0 {
		return movie, fmt.Errorf("%w: radarr lookup returned no tmdb id for %s", shared.ErrTargetRejection, ids)
	}
	return movie, nil
}

// Ping checks connectivity and the API key.
func (r *RadarrClient) Ping(ctx context.Context) error {
	_, err := r.api.Get(ctx, "/api/v3/system/status", nil)
	return err
}
