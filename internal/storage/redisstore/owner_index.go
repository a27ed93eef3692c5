package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// OwnerIndex keeps each team's ongoing and completed job IDs in two Redis
// sets. Both keys share the "{team}" hash tag so the MULTI that moves a job
// stays on one cluster slot.
type OwnerIndex struct {
	client redis.UniversalClient
	prefix string
}

// NewOwnerIndex wraps an existing client. An empty prefix selects the default.
func NewOwnerIndex(client redis.UniversalClient, prefix string) *OwnerIndex {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &OwnerIndex{client: client, prefix: prefix}
}

// AddOngoing runs SADD on the ongoing set; re-adding is a no-op.
func (x *OwnerIndex) AddOngoing(ctx context.Context, teamID, jobID string) error {
	if err := x.client.SAdd(ctx, x.ongoingKey(teamID), jobID).Err(); err != nil {
		return unavailable("add ongoing "+jobID, err)
	}
	return nil
}

// MoveToCompleted runs SREM + SADD in one MULTI. SMOVE is not used because it
// does nothing when the job is missing from the source set, and a job that was
// never indexed as ongoing must still land in completed.
func (x *OwnerIndex) MoveToCompleted(ctx context.Context, teamID, jobID string) error {
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, x.ongoingKey(teamID), jobID)
		pipe.SAdd(ctx, x.completedKey(teamID), jobID)
		return nil
	})
	if err != nil {
		return unavailable("move to completed "+jobID, err)
	}
	return nil
}

// ListOngoing returns SMEMBERS of the ongoing set.
func (x *OwnerIndex) ListOngoing(ctx context.Context, teamID string) ([]string, error) {
	return x.members(ctx, x.ongoingKey(teamID))
}

// ListCompleted returns SMEMBERS of the completed set.
func (x *OwnerIndex) ListCompleted(ctx context.Context, teamID string) ([]string, error) {
	return x.members(ctx, x.completedKey(teamID))
}

// Remove deletes jobID from both sets in one MULTI.
func (x *OwnerIndex) Remove(ctx context.Context, teamID, jobID string) error {
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, x.ongoingKey(teamID), jobID)
		pipe.SRem(ctx, x.completedKey(teamID), jobID)
		return nil
	})
	if err != nil {
		return unavailable("remove "+jobID, err)
	}
	return nil
}

func (x *OwnerIndex) members(ctx context.Context, key string) ([]string, error) {
	ids, err := x.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("list "+key, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (x *OwnerIndex) ongoingKey(teamID string) string {
	return x.prefix + "team:{" + teamID + "}:ongoing"
}

func (x *OwnerIndex) completedKey(teamID string) string {
	return x.prefix + "team:{" + teamID + "}:completed"
}
