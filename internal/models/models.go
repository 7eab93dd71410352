// package models defines the data model for the watch-intent sync engine
package models

import (
	"fmt"
	"strconv"
	"time"
)

// MediaKind distinguishes movies, which go to Radarr, from shows, which go to Sonarr.
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindShow  MediaKind = "show"
)

// ParseMediaKind maps source spellings onto a [MediaKind].
func ParseMediaKind(s string) (MediaKind, bool) {
	switch s {
	case "movie", "movies", "film":
		return KindMovie, true
	case "show", "shows", "series", "tv":
		return KindShow, true
	default:
		return "", false
	}
}

// Source names
const (
	SourcePlex       = "plex"
	SourceLetterboxd = "letterboxd"
	SourceTrakt      = "trakt"
)

// Target names
const (
	TargetRadarr = "radarr"
	TargetSonarr = "sonarr"
)

// ProviderIDs holds the external catalogue identifiers of an item. Empty strings mean unknown.
type ProviderIDs struct {
	TMDB string `json:"tmdb,omitempty"`
	TVDB string `json:"tvdb,omitempty"`
	IMDB string `json:"imdb,omitempty"`
}

// Empty reports whether no identifier is known.
func (p ProviderIDs) Empty() bool {
	return p.TMDB == "" && p.TVDB == "" && p.IMDB == ""
}

// Merge fills the empty fields of p from o. Known fields are never overwritten.
func (p ProviderIDs) Merge(o ProviderIDs) ProviderIDs {
	if p.TMDB == "" {
		p.TMDB = o.TMDB
	}
	if p.TVDB == "" {
		p.TVDB = o.TVDB
	}
	if p.IMDB == "" {
		p.IMDB = o.IMDB
	}
	return p
}

// Required returns the identifier the target for kind keys on: TMDB for movies, TVDB for shows.
func (p ProviderIDs) Required(kind MediaKind) string {
	if kind == KindShow {
		return p.TVDB
	}
	return p.TMDB
}

func (p ProviderIDs) String() string {
	return fmt.Sprintf("tmdb=%s tvdb=%s imdb=%s", p.TMDB, p.TVDB, p.IMDB)
}

// WatchItem is one entry of a watch-intent list as seen on a single fetch.
//
// Items are rebuilt on every fetch and never persisted directly; the ledger stores their keys.
type WatchItem struct {
	Source       string      `json:"source"`
	ExternalID   string      `json:"external_id"`
	Title        string      `json:"title"`
	Year         int         `json:"year,omitempty"`
	Kind         MediaKind   `json:"kind"`
	IDs          ProviderIDs `json:"ids"`
	Rating       *float64    `json:"rating,omitempty"`
	Slug         string      `json:"slug,omitempty"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// Key identifies the item across passes: source, kind and external id.
func (w WatchItem) Key() string {
	return w.Source + ":" + string(w.Kind) + ":" + w.ExternalID
}

// Target is the name of the automation service responsible for the item's kind.
func (w WatchItem) Target() string {
	if w.Kind == KindShow {
		return TargetSonarr
	}
	return TargetRadarr
}

// HasRating reports whether the source supplied a rating.
func (w WatchItem) HasRating() bool {
	return w.Rating != nil
}

func (w WatchItem) String() string {
	if w.Year > 0 {
		return w.Title + " (" + strconv.Itoa(w.Year) + ")"
	}
	return w.Title
}

// Rating is a convenience for building rated items.
func Rating(v float64) *float64 {
	return &v
}
