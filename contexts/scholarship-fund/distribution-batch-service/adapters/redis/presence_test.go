package redisadapter

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemberProfileRoundTripTrimsFields(t *testing.T) {
	raw, err := encodeMember(entities.Member{
		MemberID:    " m-1 ",
		DisplayName: " Ada ",
		Email:       "ada@example.org",
		IsAdmin:     true,
	})
	require.NoError(t, err)

	member, err := decodeMember(raw)
	require.NoError(t, err)
	require.Equal(t, entities.Member{
		MemberID:    "m-1",
		DisplayName: "Ada",
		Email:       "ada@example.org",
		IsAdmin:     true,
	}, member)
}

func TestTrackerKeysUsePrefix(t *testing.T) {
	tracker := NewPresenceTracker(nil, "", nil)
	require.Equal(t, "scholarship:presence:seen", tracker.seenKey())
	require.Equal(t, "scholarship:presence:members", tracker.membersKey())

	custom := NewPresenceTracker(nil, "board-a", nil)
	require.Equal(t, "board-a:seen", custom.seenKey())
}

func TestMemberStringAcceptsRedisMemberTypes(t *testing.T) {
	require.Equal(t, "m-1", memberString("m-1"))
	require.Equal(t, "m-2", memberString([]byte("m-2")))
	require.Equal(t, "", memberString(42))
}

// Runs against a live server only when REDIS_ADDR is set.
func TestTrackerAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "presence-test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	tracker := NewPresenceTracker(client, prefix, nil)
	t.Cleanup(func() { client.Del(ctx, tracker.seenKey(), tracker.membersKey()) })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tracker.Touch(ctx, entities.Member{MemberID: "m-2", DisplayName: "Bea"}, now.Add(-10*time.Second)))
	require.NoError(t, tracker.Touch(ctx, entities.Member{MemberID: "m-1", DisplayName: "Ada", IsAdmin: true}, now.Add(-5*time.Second)))
	require.NoError(t, tracker.Touch(ctx, entities.Member{MemberID: "m-3", DisplayName: "Cal"}, now.Add(-2*time.Minute)))

	online, err := tracker.ListOnline(ctx, now, 45*time.Second)
	require.NoError(t, err)
	require.Len(t, online, 2)
	ids := []string{online[0].Member.MemberID, online[1].Member.MemberID}
	require.ElementsMatch(t, []string{"m-1", "m-2"}, ids)
	for _, entry := range online {
		if entry.Member.MemberID == "m-1" {
			require.True(t, entry.Member.IsAdmin)
			require.Equal(t, now.Add(-5*time.Second), entry.LastSeen)
		}
	}

	removed, err := tracker.Prune(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	online, err = tracker.ListOnline(ctx, now, time.Hour)
	require.NoError(t, err)
	require.Len(t, online, 2)
}
