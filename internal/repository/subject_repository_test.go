package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectRepositoryListAndFind(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)
	ctx := context.Background()

	columns := []string{"id", "code", "name", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, name, created_at, updated_at FROM subjects ORDER BY name ASC")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("s1", "BIO", "Biology", time.Now(), time.Now()).
			AddRow("s2", "MATH", "Mathematics", time.Now(), time.Now()))
	subjects, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, subjects, 2)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE UPPER(code) = UPPER($1)")).
		WithArgs("math").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("s2", "MATH", "Mathematics", time.Now(), time.Now()))
	subject, err := repo.FindByCode(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, "MATH", subject.Code)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE UPPER(code) = UPPER($1)")).
		WithArgs("ART").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByCode(ctx, "ART")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	assert.NoError(t, mock.ExpectationsWereMet())
}
