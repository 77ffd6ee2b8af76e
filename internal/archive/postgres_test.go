package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/codec"
	"smsrelay/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows for testing Read results.
type mockRows struct {
	data   [][]any
	idx    int
	closed bool
	errVal error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *int64:
			*v = row[i].(int64)
		case *bool:
			*v = row[i].(bool)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- PostgresStore Tests ---

func TestPostgresStore_Append_CountsOnlyInsertedRows(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)
	ctx := context.Background()
	month := Month{Year: 2026, Month: time.January}

	// The first record is new, the second hits the hash conflict.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()

	added, err := store.Append(ctx, month, testRecords(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	db.AssertExpectations(t)
}

func TestPostgresStore_Append_DBError(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := store.Append(ctx, Month{Year: 2026, Month: time.January}, testRecords(1))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeArchive, types.CodeOf(err))
}

func TestPostgresStore_Append_EmptyBatchTouchesNothing(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)

	added, err := store.Append(context.Background(), Month{Year: 2026, Month: time.January}, nil)
	require.NoError(t, err)
	assert.Zero(t, added)
	db.AssertExpectations(t)
}

func TestPostgresStore_Read_DecodesContent(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"hash-a", int64(5), "+4915112345678", "2026-01-05T10:00:00Z", "OTP 123456", false},
		{"hash-b", int64(6), "+4915112345678", "2026-01-06T10:00:00Z", "OTP 654321", true},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	records, err := store.Read(ctx, Month{Year: 2026, Month: time.January})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hash-a", records[0].Hash)
	assert.Equal(t, int64(5), records[0].ID)
	assert.Equal(t, "OTP 123456", records[0].Content)
	assert.True(t, records[1].Read)
	assert.True(t, rows.closed)
}

func TestPostgresStore_Read_QueryError(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := store.Read(context.Background(), Month{Year: 2026, Month: time.January})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeArchive, types.CodeOf(err))
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db, codec.PlainCodec{}, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Twice()

	require.NoError(t, store.EnsureSchema(ctx))
	db.AssertExpectations(t)
}
