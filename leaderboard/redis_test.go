package leaderboard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusengage/points-engine/leaderboard"
	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/ledger/memstore"
)

const key = "test:board"

func seedUsers(t *testing.T) *memstore.Memory {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	for _, u := range []ledger.User{
		{ID: "u-a", RollNo: "CS001", Name: "Alice", Role: ledger.RoleStudent},
		{ID: "u-b", RollNo: "CS002", Name: "Bob", Role: ledger.RoleStudent},
		{ID: "u-admin", RollNo: "ADM01", Name: "Admin", Role: ledger.RoleAdmin},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	return store
}

func TestBalanceChanged_ZAdd(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	mock.ExpectZAdd(key, &redis.Z{Score: 75, Member: "u-a"}).SetVal(1)

	require.NoError(t, board.BalanceChanged(context.Background(), "u-a", 75))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceChanged_RedisDown(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	mock.ExpectZAdd(key, &redis.Z{Score: 75, Member: "u-a"}).SetErr(errors.New("connection refused"))

	assert.Error(t, board.BalanceChanged(context.Background(), "u-a", 75))
}

func TestBalanceChanged_NonStudentRemoved(t *testing.T) {
	// GIVEN: an admin whose balance changes
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	// THEN: the admin is removed, never added
	mock.ExpectZRem(key, "u-admin").SetVal(0)
	mock.ExpectZRem(key, "u-gone").SetVal(0)

	require.NoError(t, board.BalanceChanged(context.Background(), "u-admin", 500))
	require.NoError(t, board.BalanceChanged(context.Background(), "u-gone", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTop_ReadsPastNonStudents(t *testing.T) {
	// GIVEN: a stale admin member at the top of the set
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	mock.ExpectZRevRangeWithScores(key, 0, 1).SetVal([]redis.Z{
		{Score: 500, Member: "u-admin"},
		{Score: 50, Member: "u-a"},
	})
	mock.ExpectZRevRangeWithScores(key, 2, 3).SetVal([]redis.Z{
		{Score: 40, Member: "u-b"},
	})

	// WHEN
	top, err := board.Top(context.Background(), 2)

	// THEN: two students are returned
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, ledger.UserID("u-a"), top[0].ID)
	assert.Equal(t, ledger.UserID("u-b"), top[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTop_ReadsOnWhileScoresTie(t *testing.T) {
	// GIVEN: bob fills the first page but alice ties him on the next
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	mock.ExpectZRevRangeWithScores(key, 0, 0).SetVal([]redis.Z{{Score: 50, Member: "u-b"}})
	mock.ExpectZRevRangeWithScores(key, 1, 1).SetVal([]redis.Z{{Score: 50, Member: "u-a"}})
	mock.ExpectZRevRangeWithScores(key, 2, 2).SetVal(nil)

	top, err := board.Top(context.Background(), 1)

	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "CS001", top[0].RollNo)
}

func TestTop_TiesByRollAndSkipsNonStudents(t *testing.T) {
	// GIVEN: Redis ranks bob above alice on a tie, admin is in the set
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, key, seedUsers(t))

	mock.ExpectZRevRangeWithScores(key, 0, 9).SetVal([]redis.Z{
		{Score: 50, Member: "u-b"},
		{Score: 50, Member: "u-a"},
		{Score: 10, Member: "u-admin"},
		{Score: 5, Member: "u-gone"},
	})

	// WHEN
	top, err := board.Top(context.Background(), 10)

	// THEN: ties resolve by roll number, unknown and admin ids are dropped
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "CS001", top[0].RollNo)
	assert.Equal(t, "CS002", top[1].RollNo)
	assert.Equal(t, int64(50), top[0].TotalPoints)
}

func TestRebuild_SwapsInStudents(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := seedUsers(t)
	board := leaderboard.New(rdb, key, store)

	// ListUsers is ordered by id: u-a, u-admin, u-b
	mock.ExpectZAdd(key+":rebuild",
		&redis.Z{Score: 0, Member: "u-a"},
		&redis.Z{Score: 0, Member: "u-b"},
	).SetVal(2)
	mock.ExpectRename(key+":rebuild", key).SetVal("OK")

	n, err := board.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_DefaultKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	board := leaderboard.New(rdb, "", seedUsers(t))

	mock.ExpectZAdd(leaderboard.DefaultKey, &redis.Z{Score: 1, Member: "u-b"}).SetVal(1)
	require.NoError(t, board.BalanceChanged(context.Background(), "u-b", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}
