package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thebtf/clusterlens/pkg/models"
)

// ItemStore provides item (vector store) operations using GORM.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(store *Store) *ItemStore {
	return &ItemStore{db: store.DB}
}

// InsertItem appends a new, unassigned item and returns it with its id.
func (s *ItemStore) InsertItem(ctx context.Context, name, blobKey string, embedding models.Embedding) (*models.Item, error) {
	row := &Item{
		Name:       name,
		BlobKey:    nullString(blobKey),
		Embedding:  embedding,
		Dimensions: len(embedding),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return toModelItem(row), nil
}

// GetItem retrieves an item by id. Returns ErrItemNotFound if missing.
func (s *ItemStore) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	var row Item
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelItem(&row), nil
}

// GetItemByBlobKey retrieves an item by its blob key. Returns ErrItemNotFound if missing.
func (s *ItemStore) GetItemByBlobKey(ctx context.Context, key string) (*models.Item, error) {
	var row Item
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelItem(&row), nil
}

// ListItems returns every item ordered by id.
func (s *ItemStore) ListItems(ctx context.Context) ([]*models.Item, error) {
	var rows []Item
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelItems(rows), nil
}

// GetItemsByIDs returns the items with the given ids ordered by id.
func (s *ItemStore) GetItemsByIDs(ctx context.Context, ids []int64) ([]*models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Item
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelItems(rows), nil
}

// CountItems returns the number of stored items.
func (s *ItemStore) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Item{}).Count(&count).Error
	return count, err
}

// Dimensions returns the embedding length of the oldest item, or 0 when empty.
func (s *ItemStore) Dimensions(ctx context.Context) (int, error) {
	var row Item
	err := s.db.WithContext(ctx).Select("dimensions").Order("id ASC").Limit(1).Find(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Dimensions, nil
}
