package video

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/snapcast/telemetry"
)

// Repository persists videos and reads users.
type Repository interface {
	List(ctx context.Context, viewerID string, p ListParams) (*Page, error)
	Profile(ctx context.Context, userID string) (*Profile, error)
	ListByOwner(ctx context.Context, ownerID, viewerID, search string, sort SortKey) ([]Item, error)
	Get(ctx context.Context, id string) (*Item, error)
	Insert(ctx context.Context, v *Video) error
	Delete(ctx context.Context, id string) error
	UpdateVisibility(ctx context.Context, id string, vis Visibility, at time.Time) error
	UpdateDetails(ctx context.Context, id, title, description string, at time.Time) error
	IncrementViews(ctx context.Context, id string) error
}

// UploadTarget is a signed target for the video bytes.
type UploadTarget struct {
	VideoID   string `json:"videoId"`
	UploadURL string `json:"uploadUrl"`
	AccessKey string `json:"accessKey"`
}

// ThumbnailTarget is a signed target for the thumbnail bytes plus its public URL.
type ThumbnailTarget struct {
	UploadURL string `json:"uploadUrl"`
	AccessKey string `json:"accessKey"`
	CDNURL    string `json:"cdnUrl"`
}

// ProcessingStatus is the encoding state reported by the media host.
type ProcessingStatus struct {
	IsProcessed      bool `json:"isProcessed"`
	EncodingProgress int  `json:"encodingProgress"`
	Status           int  `json:"status"`
}

// MediaProvider is the remote media host.
type MediaProvider interface {
	CreateVideo(ctx context.Context, title string) (*UploadTarget, error)
	ThumbnailTarget(ctx context.Context, videoID string) (*ThumbnailTarget, error)
	Transfer(ctx context.Context, uploadURL, accessKey string, f *File) error
	UpdateVideo(ctx context.Context, videoID, title, description string) error
	VideoStatus(ctx context.Context, videoID string) (*ProcessingStatus, error)
	DeleteVideo(ctx context.Context, videoID string) error
	DeleteThumbnail(ctx context.Context, thumbnailURL string) error
	PlaybackURL(videoID string) string
}

// Limiter answers whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ListingCache stores serialized listing pages. Slot resolves a page key to its place in
// the current generation; Get and Set address that slot. Invalidate retires every slot
// handed out so far.
type ListingCache interface {
	Slot(ctx context.Context, key string) (string, error)
	Get(ctx context.Context, slot string) ([]byte, bool, error)
	Set(ctx context.Context, slot string, val []byte) error
	Invalidate(ctx context.Context) error
}

// Service runs the catalogue operations. Repo and Media are required; Limiter and
// Cache may be nil.
type Service struct {
	Repo             Repository
	Media            MediaProvider
	Limiter          Limiter
	Cache            ListingCache
	Now              func() time.Time
	NewID            func() string
	MaxVideoSize     int64
	MaxThumbnailSize int64
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New().String()
}

// ListVideos returns one page of the videos the viewer may see. viewerID is empty for
// anonymous callers. Pages past the end are empty, not errors.
func (s *Service) ListVideos(ctx context.Context, viewerID string, p ListParams) (*Page, error) {
	p.Page = NormalizePage(p.Page)
	p.PageSize = NormalizePageSize(p.PageSize)
	p.Search = strings.TrimSpace(p.Search)

	slot := s.cacheSlot(ctx, listingKey(viewerID, p))
	if page, ok := s.cachedPage(ctx, slot); ok {
		return page, nil
	}

	start := time.Now()
	page, err := s.Repo.List(ctx, viewerID, p)
	telemetry.ObserveListing(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	s.storePage(ctx, slot, page)
	return page, nil
}

func listingKey(viewerID string, p ListParams) string {
	if viewerID == "" {
		viewerID = "anon"
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s", viewerID, p.Sort, p.Page, p.PageSize, strings.ToLower(p.Search))
}

// cacheSlot resolves the cache slot before the listing query runs. An empty slot
// disables the cache for this request.
func (s *Service) cacheSlot(ctx context.Context, key string) string {
	if s.Cache == nil {
		return ""
	}
	slot, err := s.Cache.Slot(ctx, key)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("listing cache read failed", slog.Any("err", err))
		return ""
	}
	return slot
}

func (s *Service) cachedPage(ctx context.Context, slot string) (*Page, bool) {
	if slot == "" {
		return nil, false
	}
	raw, ok, err := s.Cache.Get(ctx, slot)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("listing cache read failed", slog.Any("err", err))
		return nil, false
	}
	if !ok {
		telemetry.ObserveCache(false)
		return nil, false
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false
	}
	telemetry.ObserveCache(true)
	return &page, true
}

func (s *Service) storePage(ctx context.Context, slot string, page *Page) {
	if slot == "" {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, slot, raw); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("listing cache write failed", slog.Any("err", err))
	}
}

func (s *Service) invalidateListings(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("listing cache invalidation failed", slog.Any("err", err))
	}
}

// ListByOwner returns a profile and its videos. The owner sees all of their videos,
// other viewers only the public ones.
func (s *Service) ListByOwner(ctx context.Context, viewerID, ownerID, search string, sort SortKey) (*OwnerListing, error) {
	profile, err := s.Repo.Profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items, err := s.Repo.ListByOwner(ctx, ownerID, viewerID, strings.TrimSpace(search), sort)
	if err != nil {
		return nil, err
	}
	return &OwnerListing{User: *profile, Videos: items, Count: len(items)}, nil
}

func (s *Service) visible(ctx context.Context, viewerID, id string) (*Item, error) {
	it, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Video.Visibility != VisibilityPublic && (viewerID == "" || it.Video.UserID != viewerID) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return it, nil
}

// GetVideo returns a video the viewer may see and counts the view.
func (s *Service) GetVideo(ctx context.Context, viewerID, id string) (*Item, error) {
	it, err := s.visible(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.IncrementViews(ctx, id); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("view count update failed", slog.String("video", id), slog.Any("err", err))
	} else {
		it.Video.Views++
	}
	return it, nil
}

// Status reports the media host's encoding progress for a visible video.
func (s *Service) Status(ctx context.Context, viewerID, id string) (*ProcessingStatus, error) {
	it, err := s.visible(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	return s.Media.VideoStatus(ctx, it.Video.VideoID)
}

func (s *Service) owned(ctx context.Context, userID, id string) (*Item, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	it, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Video.UserID != userID {
		return nil, fmt.Errorf("video %s: %w", id, ErrForbidden)
	}
	return it, nil
}

func (s *Service) allow(ctx context.Context, key string) error {
	if s.Limiter == nil {
		return nil
	}
	ok, err := s.Limiter.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// SetVisibility changes the access flag of one of the caller's videos.
func (s *Service) SetVisibility(ctx context.Context, userID, id string, vis Visibility) (*Video, error) {
	it, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, "visibility:"+userID); err != nil {
		return nil, err
	}
	at := s.now()
	if err := s.Repo.UpdateVisibility(ctx, id, vis, at); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	s.invalidateListings(ctx)
	it.Video.Visibility = vis
	it.Video.UpdatedAt = at
	return &it.Video, nil
}

// UpdateDetails edits title and description locally and at the media host.
func (s *Service) UpdateDetails(ctx context.Context, userID, id, title, description string) (*Video, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if title == "" || description == "" {
		return nil, invalid("Please fill in all the details")
	}
	it, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.Media.UpdateVideo(ctx, it.Video.VideoID, title, description); err != nil {
		return nil, fmt.Errorf("%w: update media metadata: %w", ErrPersistenceFailed, err)
	}
	at := s.now()
	if err := s.Repo.UpdateDetails(ctx, id, title, description, at); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	s.invalidateListings(ctx)
	it.Video.Title, it.Video.Description, it.Video.UpdatedAt = title, description, at
	return &it.Video, nil
}

// Delete removes the remote video, the remote thumbnail and the row, in that order.
// The three steps are not atomic; a failure leaves the earlier steps applied.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	it, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.Media.DeleteVideo(ctx, it.Video.VideoID); err != nil {
		return fmt.Errorf("delete video asset: %w", err)
	}
	if err := s.Media.DeleteThumbnail(ctx, it.Video.ThumbnailURL); err != nil {
		return fmt.Errorf("delete thumbnail asset: %w", err)
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete video row: %w", err)
	}
	s.invalidateListings(ctx)
	telemetry.LoggerWithCorr(ctx).Info("video deleted", slog.String("video", id), slog.String("user", userID))
	return nil
}
