package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresSaveGoodUpsertsAndAppendsHistory(t *testing.T) {
	s, mock := newPostgresMock(t)
	v := sampleValue("WALCL")
	payload, err := json.Marshal(v)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO indicator_lkg")).
		WithArgs("WALCL", payload).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO indicator_history")).
		WithArgs("WALCL", v.Current, v.Confidence, v.Provider, v.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SaveGood(context.Background(), v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLastKnownGood(t *testing.T) {
	s, mock := newPostgresMock(t)
	v := sampleValue("TGA")
	payload, err := json.Marshal(v)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM indicator_lkg WHERE indicator_id = $1")).
		WithArgs("TGA").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, found, err := s.LastKnownGood(context.Background(), "TGA")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v.Current, got.Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLastKnownGoodMissing(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM indicator_lkg WHERE indicator_id = $1")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, found, err := s.LastKnownGood(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresHistory(t *testing.T) {
	s, mock := newPostgresMock(t)
	v := sampleValue("WALCL")

	rows := sqlmock.NewRows([]string{"indicator_id", "current", "confidence", "provider", "observed_at"}).
		AddRow("WALCL", 7500.0, 0.95, "fred", v.Timestamp).
		AddRow("WALCL", 7450.0, 0.95, "fred", v.Timestamp.Add(-24*time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM indicator_history")).
		WithArgs("WALCL", 2).
		WillReturnRows(rows)

	got, err := s.History(context.Background(), "WALCL", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 7500.0, got[0].Current)
	assert.Equal(t, "fred", got[0].Provider)
}

func TestPostgresEnsureSchema(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS indicator_lkg")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
}
