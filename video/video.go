// Package video holds the catalogue core: the video model, the listing query pipeline
// (visibility, search, sort, pagination), the upload orchestrator and the owner-only
// mutations. Persistence and the media host are reached through the Repository and
// MediaProvider interfaces so the pipeline runs against Postgres and Bunny in production
// and against fakes in tests.
package video

import (
	"fmt"
	"strings"
	"time"
)

// Visibility is the access flag on a video.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility accepts exactly "public" or "private" (case-insensitive).
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	}
	return "", invalid(fmt.Sprintf("visibility must be public or private, got %q", s))
}

// Video is one catalogued recording. UserID is empty when the owner has been removed.
type Video struct {
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ID           string     `json:"id"`
	UserID       string     `json:"userId,omitempty"`
	VideoID      string     `json:"videoId"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ThumbnailURL string     `json:"thumbnailUrl"`
	VideoURL     string     `json:"videoUrl"`
	Visibility   Visibility `json:"visibility"`
	Duration     int        `json:"duration"`
	Views        int64      `json:"views"`
}

// Owner is the minimal user projection joined onto listings.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Item pairs a video with its owner. User is nil when the owner row is gone.
type Item struct {
	User  *Owner `json:"user"`
	Video Video  `json:"video"`
}

// Profile is the public projection of a user shown on their profile page.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Email string `json:"email"`
}

// Page is one page of the global listing.
type Page struct {
	Videos     []Item     `json:"videos"`
	Pagination Pagination `json:"pagination"`
}

// OwnerListing is the unpaginated profile listing.
type OwnerListing struct {
	User   Profile `json:"user"`
	Videos []Item  `json:"videos"`
	Count  int     `json:"count"`
}

// ListParams are the inputs of the global listing.
type ListParams struct {
	Search   string
	Sort     SortKey
	Page     int
	PageSize int
}
