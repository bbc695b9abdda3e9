package domain

import (
	"errors"
	"time"
)

// Site identifies which upstream catalog a record came from.
type Site int

const (
	SiteSearchAPI Site = 1
	SiteScraped   Site = 2
)

// ErrPageExhausted is returned by a catalog source when pagination has ended.
// It is a control-flow signal, never retried.
var ErrPageExhausted = errors.New("pagination exhausted")

var ErrCategoryNotFound = errors.New("category not found")

type Video struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Views           int         `json:"views"`
	Rating          float64     `json:"rating"`
	URL             string      `json:"url"`
	AddedAt         time.Time   `json:"added_at"`
	AddedAtKnown    bool        `json:"added_at_known"` // false when the upstream date could not be parsed
	DurationSeconds int         `json:"duration_seconds"`
	DurationText    string      `json:"duration_text"`
	Embed           string      `json:"embed"`
	Site            Site        `json:"site"`
	DefaultThumb    Thumbnail   `json:"default_thumb"`
	Thumbnails      []Thumbnail `json:"thumbnails"`
	Tags            []string    `json:"tags"`
}

type Thumbnail struct {
	Size      string `json:"size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Src       string `json:"src"`
	IsDefault bool   `json:"is_default"`
}

type Term struct {
	ID    int64  `db:"id"`
	Label string `db:"termo"`
}

type Category struct {
	ID             int64   `db:"id"`
	Name           string  `db:"nome"`
	TranslatedName *string `db:"nome_traduzido"`
	ShowInMenu     bool    `db:"exibir_menu"`
}

// CategoryCursor is a category joined with its crawl progress. Reading the
// cursor is how a pass finds the page to resume at.
type CategoryCursor struct {
	Category
	LastPage int `db:"ultima_pagina"`
}

func (c CategoryCursor) ResumePage() int {
	return c.LastPage + 1
}

type DeletedVideo struct {
	VideoID  string
	URL      string
	EmbedURL string
}

// Ordering of upstream search results.
type Ordering string

const (
	OrderingNone   Ordering = ""
	OrderingNewest Ordering = "newest"
	OrderingOldest Ordering = "oldest"
)

type PageQuery struct {
	Page     int
	Category string
	Ordering Ordering
	PageSize int
}

// Page is one successfully fetched, already normalized upstream page.
type Page struct {
	Number int
	Videos []Video
	Total  int
}
