package gorm

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/clusterlens/pkg/models"
)

type ItemStoreSuite struct {
	suite.Suite
	store *Store
	items *ItemStore
}

func (s *ItemStoreSuite) SetupTest() {
	s.store = testStore(s.T())
	s.items = NewItemStore(s.store)
}

func TestItemStoreSuite(t *testing.T) {
	suite.Run(t, new(ItemStoreSuite))
}

func (s *ItemStoreSuite) TestInsertAndGet() {
	ctx := s.T().Context()

	item, err := s.items.InsertItem(ctx, "cat.jpg", "k1.jpg", models.Embedding{0.5, 1, -1})
	s.Require().NoError(err)
	s.Positive(item.ID)
	s.Nil(item.ClusterLabel)
	s.NotEmpty(item.CreatedAt)

	got, err := s.items.GetItem(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal("cat.jpg", got.Name)
	s.Equal("k1.jpg", got.BlobKey)
	s.Equal(models.Embedding{0.5, 1, -1}, got.Embedding)

	byKey, err := s.items.GetItemByBlobKey(ctx, "k1.jpg")
	s.Require().NoError(err)
	s.Equal(item.ID, byKey.ID)
}

func (s *ItemStoreSuite) TestGetMissing() {
	_, err := s.items.GetItem(s.T().Context(), 999)
	s.ErrorIs(err, ErrItemNotFound)

	_, err = s.items.GetItemByBlobKey(s.T().Context(), "nope")
	s.ErrorIs(err, ErrItemNotFound)
}

func (s *ItemStoreSuite) TestItemsWithoutBlobs() {
	ctx := s.T().Context()
	_, err := s.items.InsertItem(ctx, "a", "", models.Embedding{1})
	s.Require().NoError(err)
	_, err = s.items.InsertItem(ctx, "b", "", models.Embedding{1})
	s.Require().NoError(err, "empty blob keys are stored as NULL and do not collide")
}

func (s *ItemStoreSuite) TestListOrderAndDimensions() {
	ctx := s.T().Context()

	dims, err := s.items.Dimensions(ctx)
	s.Require().NoError(err)
	s.Zero(dims)

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.items.InsertItem(ctx, name, "", models.Embedding{1, 2, 3, 4})
		s.Require().NoError(err)
	}

	items, err := s.items.ListItems(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.Equal("a", items[0].Name)
	s.Equal("c", items[2].Name)
	s.Less(items[0].ID, items[1].ID)

	dims, err = s.items.Dimensions(ctx)
	s.Require().NoError(err)
	s.Equal(4, dims)

	subset, err := s.items.GetItemsByIDs(ctx, []int64{items[2].ID, items[0].ID})
	s.Require().NoError(err)
	s.Len(subset, 2)
	s.Equal(items[0].ID, subset[0].ID)
}

func (s *ItemStoreSuite) TestIDsNeverReused() {
	ctx := s.T().Context()

	first, err := s.items.InsertItem(ctx, "a", "", models.Embedding{1})
	s.Require().NoError(err)
	s.Require().NoError(NewRegistry(s.store).ClearAll(ctx))

	second, err := s.items.InsertItem(ctx, "b", "", models.Embedding{1})
	s.Require().NoError(err)
	s.Greater(second.ID, first.ID)
}
