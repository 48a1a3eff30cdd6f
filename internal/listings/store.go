package listings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists listings.
type Repository interface {
	Upsert(ctx context.Context, l *Listing) (*Listing, error)
	GetByID(ctx context.Context, id string) (*Listing, error)
	GetByPostID(ctx context.Context, postID string) (*Listing, error)
	ListByCompany(ctx context.Context, companyID string) ([]*Listing, error)
}

func normalize(l *Listing) (*Listing, error) {
	if l == nil || strings.TrimSpace(l.CompanyID) == "" {
		return nil, errors.New("listings: company id required")
	}
	out := l.clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Currency == "" {
		out.Currency = DefaultCurrency
	}
	out.InstagramPostID = strings.TrimSpace(out.InstagramPostID)
	return out, nil
}

func (l *Listing) clone() *Listing {
	out := *l
	if l.Price != nil {
		v := *l.Price
		out.Price = &v
	}
	if l.AreaSqft != nil {
		v := *l.AreaSqft
		out.AreaSqft = &v
	}
	if l.Bedrooms != nil {
		v := *l.Bedrooms
		out.Bedrooms = &v
	}
	if l.Bathrooms != nil {
		v := *l.Bathrooms
		out.Bathrooms = &v
	}
	out.Amenities = append([]string(nil), l.Amenities...)
	return &out
}

// MemoryRepository keeps listings in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	listings map[string]*Listing
	byPost   map[string]string
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		listings: make(map[string]*Listing),
		byPost:   make(map[string]string),
	}
}

func (r *MemoryRepository) Upsert(_ context.Context, in *Listing) (*Listing, error) {
	l, err := normalize(in)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if l.InstagramPostID != "" {
		if owner, ok := r.byPost[l.InstagramPostID]; ok && owner != l.ID {
			return nil, fmt.Errorf("listings: post %s already linked to listing %s", l.InstagramPostID, owner)
		}
	}
	if existing, ok := r.listings[l.ID]; ok {
		l.CreatedAt = existing.CreatedAt
		if existing.InstagramPostID != "" && existing.InstagramPostID != l.InstagramPostID {
			delete(r.byPost, existing.InstagramPostID)
		}
	} else {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	r.listings[l.ID] = l
	if l.InstagramPostID != "" {
		r.byPost[l.InstagramPostID] = l.ID
	}
	return l.clone(), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return l.clone(), nil
}

func (r *MemoryRepository) GetByPostID(_ context.Context, postID string) (*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPost[postID]
	if !ok {
		return nil, ErrListingNotFound
	}
	return r.listings[id].clone(), nil
}

func (r *MemoryRepository) ListByCompany(_ context.Context, companyID string) ([]*Listing, error) {
	r.mu.RLock()
	out := make([]*Listing, 0)
	for _, l := range r.listings {
		if l.CompanyID == companyID {
			out = append(out, l.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostgresRepository stores listings in the listings table.
type PostgresRepository struct {
	db pgQuerier
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("listings: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db pgQuerier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// instagram_post_id is nullable so the unique index ignores unlinked rows.
const listingColumns = `id::text, company_id, title, description, property_type, location, price, currency,
	bedrooms, bathrooms, area_sqft, amenities, COALESCE(instagram_post_id, ''), notes, created_at, updated_at`

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.CompanyID, &l.Title, &l.Description, &l.PropertyType, &l.Location, &l.Price,
		&l.Currency, &l.Bedrooms, &l.Bathrooms, &l.AreaSqft, &l.Amenities, &l.InstagramPostID, &l.Notes,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("listings: scan listing: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, in *Listing) (*Listing, error) {
	l, err := normalize(in)
	if err != nil {
		return nil, err
	}
	amenities := l.Amenities
	if amenities == nil {
		amenities = []string{}
	}
	query := `
		INSERT INTO listings (id, company_id, title, description, property_type, location, price, currency,
			bedrooms, bathrooms, area_sqft, amenities, instagram_post_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			property_type = EXCLUDED.property_type,
			location = EXCLUDED.location,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			area_sqft = EXCLUDED.area_sqft,
			amenities = EXCLUDED.amenities,
			instagram_post_id = EXCLUDED.instagram_post_id,
			notes = EXCLUDED.notes,
			updated_at = now()
		WHERE listings.company_id = EXCLUDED.company_id
		RETURNING ` + listingColumns
	out, err := scanListing(r.db.QueryRow(ctx, query,
		l.ID, l.CompanyID, l.Title, l.Description, l.PropertyType, l.Location, l.Price, l.Currency,
		l.Bedrooms, l.Bathrooms, l.AreaSqft, amenities, l.InstagramPostID, l.Notes,
	))
	if errors.Is(err, ErrListingNotFound) {
		// conflict on an id owned by another company
		return nil, fmt.Errorf("listings: listing %s belongs to another company", l.ID)
	}
	return out, err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrListingNotFound
	}
	return scanListing(r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByPostID(ctx context.Context, postID string) (*Listing, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, ErrListingNotFound
	}
	return scanListing(r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE instagram_post_id = $1`, postID))
}

func (r *PostgresRepository) ListByCompany(ctx context.Context, companyID string) ([]*Listing, error) {
	rows, err := r.db.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listings: list: %w", err)
	}
	defer rows.Close()
	out := make([]*Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listings: list: %w", err)
	}
	return out, nil
}

// Pricer exposes listing prices to lead scoring.
type Pricer struct {
	repo Repository
}

func NewPricer(repo Repository) *Pricer {
	return &Pricer{repo: repo}
}

// ListingPrice returns nil when the listing is gone or has no price.
func (p *Pricer) ListingPrice(ctx context.Context, listingID string) (*float64, error) {
	l, err := p.repo.GetByID(ctx, listingID)
	if errors.Is(err, ErrListingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.Price, nil
}
