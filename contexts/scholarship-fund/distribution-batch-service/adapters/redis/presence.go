package redisadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "scholarship:presence"

// PresenceTracker keeps last-seen times in a sorted set scored by unix
// milliseconds, with member profiles in a companion hash. Several API
// replicas can share one tracker this way.
type PresenceTracker struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

type presenceRecord struct {
	MemberID    string `json:"member_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"is_admin"`
}

func NewPresenceTracker(client *redis.Client, prefix string, logger *slog.Logger) *PresenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &PresenceTracker{client: client, prefix: prefix, logger: logger}
}

func (p *PresenceTracker) seenKey() string {
	return p.prefix + ":seen"
}

func (p *PresenceTracker) membersKey() string {
	return p.prefix + ":members"
}

func (p *PresenceTracker) Touch(ctx context.Context, member entities.Member, seenAt time.Time) error {
	memberID := strings.TrimSpace(member.MemberID)
	if memberID == "" {
		return domainerrors.ErrInvalidInput
	}
	profile, err := encodeMember(member)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, p.seenKey(), redis.Z{Score: float64(seenAt.UTC().UnixMilli()), Member: memberID})
		pipe.HSet(ctx, p.membersKey(), memberID, profile)
		return nil
	})
	if err != nil {
		return p.logError("distribution_presence_touch_failed", err, "member_id", memberID)
	}
	return nil
}

func (p *PresenceTracker) ListOnline(ctx context.Context, now time.Time, window time.Duration) ([]entities.PresenceEntry, error) {
	minScore := strconv.FormatInt(now.Add(-window).UTC().UnixMilli(), 10)
	scored, err := p.client.ZRangeByScoreWithScores(ctx, p.seenKey(), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, p.logError("distribution_presence_list_failed", err)
	}
	if len(scored) == 0 {
		return []entities.PresenceEntry{}, nil
	}

	ids := make([]string, 0, len(scored))
	for _, item := range scored {
		ids = append(ids, memberString(item.Member))
	}
	profiles, err := p.client.HMGet(ctx, p.membersKey(), ids...).Result()
	if err != nil {
		return nil, p.logError("distribution_presence_profiles_failed", err)
	}

	entries := make([]entities.PresenceEntry, 0, len(scored))
	for i, item := range scored {
		member := entities.Member{MemberID: ids[i]}
		if raw, ok := profiles[i].(string); ok {
			if decoded, err := decodeMember(raw); err == nil {
				member = decoded
			}
		}
		entries = append(entries, entities.PresenceEntry{
			Member:   member,
			LastSeen: time.UnixMilli(int64(item.Score)).UTC(),
		})
	}
	entities.SortPresence(entries)
	return entries, nil
}

func (p *PresenceTracker) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	maxScore := "(" + strconv.FormatInt(olderThan.UTC().UnixMilli(), 10)
	stale, err := p.client.ZRangeByScore(ctx, p.seenKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, p.logError("distribution_presence_prune_scan_failed", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	members := make([]any, 0, len(stale))
	for _, id := range stale {
		members = append(members, id)
	}
	var removed *redis.IntCmd
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, p.seenKey(), members...)
		pipe.HDel(ctx, p.membersKey(), stale...)
		return nil
	})
	if err != nil {
		return 0, p.logError("distribution_presence_prune_failed", err)
	}
	return int(removed.Val()), nil
}

func (p *PresenceTracker) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	p.logger.Error("presence tracker operation failed", fields...)
	return err
}

func encodeMember(member entities.Member) (string, error) {
	payload, err := json.Marshal(presenceRecord{
		MemberID:    strings.TrimSpace(member.MemberID),
		DisplayName: strings.TrimSpace(member.DisplayName),
		Email:       strings.TrimSpace(member.Email),
		IsAdmin:     member.IsAdmin,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeMember(raw string) (entities.Member, error) {
	var record presenceRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return entities.Member{}, err
	}
	return entities.Member{
		MemberID:    record.MemberID,
		DisplayName: record.DisplayName,
		Email:       record.Email,
		IsAdmin:     record.IsAdmin,
	}, nil
}

func memberString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return ""
	}
}

var _ ports.PresenceTracker = (*PresenceTracker)(nil)
