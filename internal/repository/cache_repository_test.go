package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "tutor:", nil)
	ctx := context.Background()

	var dest []string
	err := repo.Get(ctx, "free-slots:T1", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
	assert.NoError(t, repo.Set(ctx, "free-slots:T1", []string{"a"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "free-slots:*"))
	assert.Equal(t, "tutor:free-slots:T1", repo.key("free-slots:T1"))
}

func TestCacheRepositoryKeyNamespace(t *testing.T) {
	assert.Equal(t, "tutor-booking:free-slots:T1", NewCacheRepository(nil, "tutor-booking", nil).key("free-slots:T1"))
	assert.Equal(t, "free-slots:T1", NewCacheRepository(nil, "", nil).key("free-slots:T1"))
}
