package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

func newMockClient(t *testing.T) (*Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock, &Config{Database: "testdb"}), mock
}

func TestClient_Query(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT id, title FROM books").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title"}).
			AddRow("b1", "The Go Programming Language"))

	rows, err := client.Query(context.Background(), "SELECT id, title FROM books")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var id, title string
	require.NoError(t, rows.Scan(&id, &title))
	assert.Equal(t, "b1", id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_QueryErrorIsClassified(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	_, err := client.Query(context.Background(), "SELECT nope FROM missing")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeInternalDatabase, apierr.GetCode(err))
}

func TestClient_QueryContextCanceled(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT").WillReturnError(context.Canceled)

	_, err := client.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeUnavailable, apierr.GetCode(err))
}

func TestClient_Exec(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("DELETE FROM books").
		WithArgs("b1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	tag, err := client.Exec(context.Background(), "DELETE FROM books WHERE id = $1", "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.RowsAffected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Begin(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := client.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_HealthFailure(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierr.CodeUnavailable, apierr.GetCode(err))
}

func TestClient_Health(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectPing()
	assert.NoError(t, client.Health(context.Background()))
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeValidation, apierr.GetCode(err))
}
