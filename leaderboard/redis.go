// Package leaderboard keeps a Redis sorted set of student totals so the
// leaderboard can be served without scanning the users table.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/campusengage/points-engine/ledger"
)

const DefaultKey = "points:leaderboard"

// Board is a points.BalanceObserver backed by a sorted set. Scores are
// cached totals; the store stays the source of truth and Rebuild can
// always reload the set from it.
type Board struct {
	rdb   redis.Cmdable
	key   string
	users ledger.Reader
}

func New(rdb redis.Cmdable, key string, users ledger.Reader) *Board {
	if key == "" {
		key = DefaultKey
	}
	return &Board{rdb: rdb, key: key, users: users}
}

// BalanceChanged implements points.BalanceObserver. Only students are
// ranked; any other user is removed from the set.
func (b *Board) BalanceChanged(ctx context.Context, user ledger.UserID, total int64) error {
	u, err := b.users.GetUser(ctx, user)
	if err != nil {
		return fmt.Errorf("leaderboard user lookup: %w", err)
	}
	if u == nil || u.Role != ledger.RoleStudent {
		if err := b.rdb.ZRem(ctx, b.key, string(user)).Err(); err != nil {
			return fmt.Errorf("leaderboard zrem: %w", err)
		}
		return nil
	}
	if err := b.rdb.ZAdd(ctx, b.key, &redis.Z{Score: float64(total), Member: string(user)}).Err(); err != nil {
		return fmt.Errorf("leaderboard zadd: %w", err)
	}
	return nil
}

// Rebuild replaces the set with the students currently in the store.
// The new set is written under a temporary key and renamed into place.
func (b *Board) Rebuild(ctx context.Context) (int, error) {
	users, err := b.users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	members := make([]*redis.Z, 0, len(users))
	for _, u := range users {
		if u.Role != ledger.RoleStudent {
			continue
		}
		members = append(members, &redis.Z{Score: float64(u.TotalPoints), Member: string(u.ID)})
	}

	if len(members) == 0 {
		if err := b.rdb.Del(ctx, b.key).Err(); err != nil {
			return 0, fmt.Errorf("leaderboard clear: %w", err)
		}
		return 0, nil
	}

	tmp := b.key + ":rebuild"
	if err := b.rdb.ZAdd(ctx, tmp, members...).Err(); err != nil {
		return 0, fmt.Errorf("leaderboard rebuild: %w", err)
	}
	if err := b.rdb.Rename(ctx, tmp, b.key).Err(); err != nil {
		return 0, fmt.Errorf("leaderboard swap: %w", err)
	}
	return len(members), nil
}

// Top returns up to n students ordered by total descending, roll number
// ascending. Ids come from Redis and profiles from the store. Users that
// are gone or not students are dropped, and further pages are read until
// n students are found or no lower score could still tie.
func (b *Board) Top(ctx context.Context, n int) ([]ledger.User, error) {
	var out []ledger.User
	if n <= 0 {
		ranked, err := b.page(ctx, 0, -1)
		if err != nil {
			return nil, err
		}
		out, err = b.hydrate(ctx, out, ranked)
		if err != nil {
			return nil, err
		}
		sortUsers(out)
		return out, nil
	}

	for start := int64(0); ; start += int64(n) {
		ranked, err := b.page(ctx, start, start+int64(n)-1)
		if err != nil {
			return nil, err
		}
		if out, err = b.hydrate(ctx, out, ranked); err != nil {
			return nil, err
		}
		if len(ranked) < n {
			break
		}
		sortUsers(out)
		if len(out) >= n && ranked[len(ranked)-1].Score < float64(out[n-1].TotalPoints) {
			break
		}
	}

	sortUsers(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (b *Board) page(ctx context.Context, start, stop int64) ([]redis.Z, error) {
	ranked, err := b.rdb.ZRevRangeWithScores(ctx, b.key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard range: %w", err)
	}
	return ranked, nil
}

func (b *Board) hydrate(ctx context.Context, out []ledger.User, ranked []redis.Z) ([]ledger.User, error) {
	for _, z := range ranked {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		u, err := b.users.GetUser(ctx, ledger.UserID(id))
		if err != nil {
			return nil, err
		}
		if u == nil || u.Role != ledger.RoleStudent {
			continue
		}
		u.TotalPoints = int64(z.Score)
		out = append(out, *u)
	}
	return out, nil
}

func sortUsers(users []ledger.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].TotalPoints != users[j].TotalPoints {
			return users[i].TotalPoints > users[j].TotalPoints
		}
		return users[i].RollNo < users[j].RollNo
	})
}
