package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the Postgres-backed Repository.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it                       Item
		userID                   sql.NullString
		ownerID, ownerName, oImg sql.NullString
		vis                      string
	)
	v := &it.Video
	if err := row.Scan(&v.ID, &userID, &v.VideoID, &v.Title, &v.Description, &v.ThumbnailURL,
		&v.VideoURL, &vis, &v.Duration, &v.Views, &v.CreatedAt, &v.UpdatedAt,
		&ownerID, &ownerName, &oImg); err != nil {
		return Item{}, err
	}
	v.UserID = userID.String
	v.Visibility = Visibility(vis)
	if ownerID.Valid {
		it.User = &Owner{ID: ownerID.String, Name: ownerName.String, Image: oImg.String}
	}
	return it, nil
}

func (s *Store) queryItems(ctx context.Context, q string, args []any) ([]Item, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	items := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List runs the count and the page query over the same composed filter.
func (s *Store) List(ctx context.Context, viewerID string, p ListParams) (*Page, error) {
	q := composeListing(viewerID, p.Search, p.Sort)

	countSQL, countArgs := q.countSQL()
	var total int
	if err := s.DB.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}

	offset := Offset(p.Page, p.PageSize)
	if offset >= total {
		return &Page{Videos: []Item{}, Pagination: newPagination(total, p.Page, p.PageSize)}, nil
	}
	pageSQL, pageArgs := q.pageSQL(p.PageSize, offset)
	items, err := s.queryItems(ctx, pageSQL, pageArgs)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return &Page{Videos: items, Pagination: newPagination(total, p.Page, p.PageSize)}, nil
}

// Profile loads the public projection of a user.
func (s *Store) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	var img sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, image, email FROM users WHERE id=$1`, userID).
		Scan(&p.ID, &p.Name, &img, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.Image = img.String
	return &p, nil
}

// ListByOwner returns every matching video of one owner, unpaginated.
func (s *Store) ListByOwner(ctx context.Context, ownerID, viewerID, search string, sort SortKey) ([]Item, error) {
	q, args := composeOwnerListing(ownerID, viewerID, search, sort).selectSQL()
	items, err := s.queryItems(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("list videos of %s: %w", ownerID, err)
	}
	return items, nil
}

// Get loads a single video with its owner.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("video %q: %w", id, ErrNotFound)
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+itemColumns+`
FROM videos v LEFT JOIN users u ON u.id = v.user_id
WHERE v.id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// Insert persists a new video row.
func (s *Store) Insert(ctx context.Context, v *Video) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO videos
        (id, user_id, video_id, title, description, thumbnail_url, video_url, visibility, duration, views, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11)`,
		v.ID, v.UserID, v.VideoID, v.Title, v.Description, v.ThumbnailURL, v.VideoURL,
		string(v.Visibility), v.Duration, v.CreatedAt, v.UpdatedAt)
	return err
}

// Delete removes the row for a video.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM videos WHERE id=$1`, id)
}

// UpdateVisibility flips the access flag.
func (s *Store) UpdateVisibility(ctx context.Context, id string, vis Visibility, at time.Time) error {
	return s.execOne(ctx, `UPDATE videos SET visibility=$1, updated_at=$2 WHERE id=$3`, string(vis), at, id)
}

// UpdateDetails edits title and description.
func (s *Store) UpdateDetails(ctx context.Context, id, title, description string, at time.Time) error {
	return s.execOne(ctx, `UPDATE videos SET title=$1, description=$2, updated_at=$3 WHERE id=$4`, title, description, at, id)
}

// IncrementViews bumps the view counter.
func (s *Store) IncrementViews(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE videos SET views = views + 1 WHERE id=$1`, id)
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
