package services

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

const menuCacheSize = 128

// MenuFilter narrows a menu listing.
type MenuFilter struct {
	Search   string
	Category string
}

func (f MenuFilter) normalized() MenuFilter {
	f.Search = strings.TrimSpace(f.Search)
	f.Category = strings.TrimSpace(f.Category)
	if strings.EqualFold(f.Category, "all") {
		f.Category = ""
	}
	return f
}

func (f MenuFilter) cacheKey() string {
	return f.Category + "\x00" + f.Search
}

// MenuService reads the catalog.
type MenuService struct {
	db    *gorm.DB
	cache *expirable.LRU[string, []models.MenuItem]
}

// NewMenuService creates a MenuService. Listings are cached for ttl; a
// non-positive ttl disables the cache.
func NewMenuService(db *gorm.DB, ttl time.Duration) *MenuService {
	s := &MenuService{db: db}
	if ttl > 0 {
		s.cache = expirable.NewLRU[string, []models.MenuItem](menuCacheSize, nil, ttl)
	}
	return s
}

// List returns the available menu items matching filter, ordered by
// sort_order then name.
func (s *MenuService) List(ctx context.Context, filter MenuFilter) ([]models.MenuItem, error) {
	filter = filter.normalized()
	key := filter.cacheKey()
	if s.cache != nil {
		if items, ok := s.cache.Get(key); ok {
			return items, nil
		}
	}

	query := s.db.WithContext(ctx).Model(&models.MenuItem{}).Where("is_available = ?", true)
	if filter.Search != "" {
		// Case-insensitive on every dialect; Postgres LIKE is not.
		term := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", term, term)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var items []models.MenuItem
	if err := query.Order("sort_order ASC").Order("name ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Add(key, items)
	}
	return items, nil
}

// Snapshot reads the available catalog entries for ids inside tx. Missing or
// unavailable ids are simply absent from the result.
func (s *MenuService) Snapshot(tx *gorm.DB, ids []int) (map[int]CatalogEntry, error) {
	catalog := make(map[int]CatalogEntry, len(ids))
	if len(ids) == 0 {
		return catalog, nil
	}

	var rows []models.MenuItem
	if err := tx.Where("id IN ? AND is_available = ?", ids, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		catalog[row.ID] = CatalogEntry{
			Name:      row.Name,
			Price:     row.Price,
			Available: row.IsAvailable,
			ImageURL:  row.ImageURL,
		}
	}
	return catalog, nil
}
