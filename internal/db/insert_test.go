package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(context.TODO(), nil, InsertIgnoreConfig{
		Table:        "leads",
		Columns:      []string{"id", "source_url"},
		ConflictKeys: []string{"job_id", "source_url"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_MissingConfig(t *testing.T) {
	_, err := BulkInsertIgnore(context.TODO(), nil, InsertIgnoreConfig{
		Table:   "leads",
		Columns: []string{"id"},
	}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict keys")
}

func TestBulkInsertIgnore_SkipsConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE tmp_leads_insert")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_leads_insert"}, []string{"id", "job_id", "source_url"}).
		WillReturnResult(3)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (job_id, source_url) DO NOTHING")).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"l1", "j1", "https://a"},
		{"l2", "j1", "https://b"},
		{"l3", "j1", "https://a"},
	}
	n, err := BulkInsertIgnore(context.Background(), mock, InsertIgnoreConfig{
		Table:        "leads",
		Columns:      []string{"id", "job_id", "source_url"},
		ConflictKeys: []string{"job_id", "source_url"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertIgnore_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE tmp_leads_insert")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_leads_insert"}, []string{"id"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkInsertIgnore(context.Background(), mock, InsertIgnoreConfig{
		Table:        "leads",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"l1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO tmp_leads_insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}
