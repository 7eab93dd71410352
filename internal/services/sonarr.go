package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

// SonarrOpts adds the series specific settings to [ArrOpts].
type SonarrOpts struct {
	ArrOpts
	Monitor      string // all, future, missing, existing, none
	SeriesType   string // standard, daily, anime
	SeasonFolder bool
}

// SonarrClient adds shows to Sonarr through the v3 API.
type SonarrClient struct {
	api    *APIClient
	opts   SonarrOpts
	logger *log.Logger
}

// NewSonarrClient creates a Sonarr target.
func NewSonarrClient(opts SonarrOpts) *SonarrClient {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Monitor == "" {
		opts.Monitor = "all"
	}
	if opts.SeriesType == "" {
		opts.SeriesType = "standard"
	}
	return &SonarrClient{
		api:    newArrAPI(opts.ArrOpts),
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "target", models.TargetSonarr),
	}
}

func (s *SonarrClient) Name() string { return models.TargetSonarr }

type sonarrSeries struct {
	ID        int    `json:"id,omitempty"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	TVDBID    int    `json:"tvdbId"`
	TMDBID    int    `json:"tmdbId,omitempty"`
	IMDBID    string `json:"imdbId,omitempty"`
	TitleSlug string `json:"titleSlug,omitempty"`
}

type sonarrAddRequest struct {
	Title            string           `json:"title"`
	TVDBID           int              `json:"tvdbId"`
	TMDBID           int              `json:"tmdbId,omitempty"`
	IMDBID           string           `json:"imdbId,omitempty"`
	TitleSlug        string           `json:"titleSlug,omitempty"`
	QualityProfileID int              `json:"qualityProfileId"`
	RootFolderPath   string           `json:"rootFolderPath"`
	SeriesType       string           `json:"seriesType"`
	SeasonFolder     bool             `json:"seasonFolder"`
	Monitored        bool             `json:"monitored"`
	AddOptions       sonarrAddOptions `json:"addOptions"`
}

type sonarrAddOptions struct {
	Monitor                  string `json:"monitor"`
	SearchForMissingEpisodes bool   `json:"searchForMissingEpisodes"`
}

// AddSeries adds item unless Sonarr already has it. The item must carry a TVDB, TMDB or IMDb id.
func (s *SonarrClient) AddSeries(ctx context.Context, item models.WatchItem) (AddOutcome, error) {
	if item.IDs.Empty() {
		return 0, fmt.Errorf("%w: sonarr needs a provider id for %s", shared.ErrUnresolvedIdentifier, item)
	}

	if item.IDs.TVDB != "" {
		existing, err := s.existing(ctx, item.IDs.TVDB)
		if err != nil {
			return 0, err
		}
		if existing {
			s.logger.Debug("series already present", "title", item.String(), "tvdb", item.IDs.TVDB)
			return AlreadyPresent, nil
		}
	}

	series, err := s.lookup(ctx, item.IDs)
	if err != nil {
		return 0, err
	}

	if item.IDs.TVDB == "" {
		existing, err := s.existing(ctx, strconv.Itoa(series.TVDBID))
		if err != nil {
			return 0, err
		}
		if existing {
			return AlreadyPresent, nil
		}
	}

	req := sonarrAddRequest{
		Title:            series.Title,
		TVDBID:           series.TVDBID,
		TMDBID:           series.TMDBID,
		IMDBID:           series.IMDBID,
		TitleSlug:        series.TitleSlug,
		QualityProfileID: s.opts.QualityProfileID,
		RootFolderPath:   s.opts.RootFolderPath,
		SeriesType:       s.opts.SeriesType,
		SeasonFolder:     s.opts.SeasonFolder,
		Monitored:        s.opts.Monitored,
		AddOptions: sonarrAddOptions{
			Monitor:                  s.opts.Monitor,
			SearchForMissingEpisodes: s.opts.SearchOnAdd,
		},
	}
	if req.Title == "" {
		req.Title = item.Title
	}
	if req.IMDBID == "" {
		req.IMDBID = item.IDs.IMDB
	}
	if req.TMDBID == 0 && item.IDs.TMDB != "" {
		req.TMDBID, _ = strconv.Atoi(item.IDs.TMDB)
	}

	if _, err := s.api.Post(ctx, "/api/v3/series", req); err != nil {
		return arrAddError(err)
	}

	s.logger.Info("added series", "title", item.String(), "tvdb", req.TVDBID)
	return Added, nil
}

func (s *SonarrClient) existing(ctx context.Context, tvdbID string) (bool, error) {
	query := url.Values{}
	query.Set("tvdbId", tvdbID)

	var series []sonarrSeries
	if err := s.api.GetJSON(ctx, "/api/v3/series", query, &series); err != nil {
		return false, fmt.Errorf("sonarr series check: %w", err)
	}
	return len(series) > 0, nil
}

// lookup searches by the most specific id available: tvdb, then imdb, then tmdb.
func (s *SonarrClient) lookup(ctx context.Context, ids models.ProviderIDs) (sonarrSeries, error) {
	var term string
	switch {
	case ids.TVDB != "":
		term = "tvdb:" + ids.TVDB
	case ids.IMDB != "":
		term = "imdb:" + ids.IMDB
	default:
		term = "tmdb:" + ids.TMDB
	}

	query := url.Values{}
	query.Set("term", term)

	var results []sonarrSeries
	if err := s.api.GetJSON(ctx, "/api/v3/series/lookup", query, &results); err != nil {
		if isNotFound(err) {
			return sonarrSeries{}, fmt.Errorf("%w: sonarr has no series for %s", shared.ErrTargetRejection, term)
		}
		return sonarrSeries{}, fmt.Errorf("sonarr lookup: %w", err)
	}
	if len(results) == 0 || results[0].TVDBID == 0 {
		return sonarrSeries{}, fmt.Errorf("%w: sonarr has no series for %s", shared.ErrTargetRejection, term)
	}
	return results[0], nil
}

// Ping checks connectivity and the API key.
func (s *SonarrClient) Ping(ctx context.Context) error {
	_, err := s.api.Get(ctx, "/api/v3/system/status", nil)
	return err
}
