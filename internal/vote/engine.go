package vote

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/protocol"
)

// Storage is the persistence surface the engine needs. *Store satisfies it;
// tests substitute an in-memory implementation.
type Storage interface {
	Upsert(ctx context.Context, postID, userID string, optionIndex int) error
	Tally(ctx context.Context, postID string) (map[int]int, int, error)
}

// Broadcaster pushes a recomputed tally to the poll's community room. The ws
// dispatcher satisfies it; a nil broadcaster disables push (polling fallback
// reads still work).
type Broadcaster interface {
	EmitPollTally(communityID string, tally protocol.PollTallyPayload)
}

// Result is the outcome of a cast or a tally read.
type Result struct {
	Tally      map[int]int `json:"tally"`
	TotalVotes int         `json:"totalVotes"`
}

// Engine is the vote aggregation unit: it upserts the vote, recomputes the
// full tally from storage, and broadcasts the result. The tally is always
// re-derived from the vote set, never incremented, so a lost broadcast or a
// concurrent cast can never leave a drifted counter behind.
type Engine struct {
	store       Storage
	broadcaster Broadcaster
}

// NewEngine creates an Engine over the given storage and broadcaster.
func NewEngine(store Storage, broadcaster Broadcaster) *Engine {
	return &Engine{store: store, broadcaster: broadcaster}
}

// CastVote records a vote and returns the resulting tally.
//
// A storage failure on the upsert aborts before any recompute, so a partial
// tally is never broadcast. A failure after the vote is durable (recompute or
// broadcast) is logged and swallowed: the vote persists, and the next tally
// read self-corrects.
func (e *Engine) CastVote(ctx context.Context, postID, communityID, voterID string, optionIndex int) (Result, error) {
	if err := e.store.Upsert(ctx, postID, voterID, optionIndex); err != nil {
		return Result{}, fmt.Errorf("vote: cast for post %s: %w", postID, err)
	}
	metrics.VotesCast.Inc()

	tally, total, err := e.store.Tally(ctx, postID)
	if err != nil {
		// The vote is durable; only this broadcast is lost.
		log.Printf("vote: tally recompute failed post=%s: %v", postID, err)
		return Result{}, fmt.Errorf("vote: recompute for post %s: %w", postID, err)
	}

	result := Result{Tally: tally, TotalVotes: total}
	if e.broadcaster != nil {
		e.broadcaster.EmitPollTally(communityID, protocol.PollTallyPayload{
			PostID:     postID,
			Tally:      wireTally(tally),
			TotalVotes: total,
		})
	}
	return result, nil
}

// ReadTally returns the current tally with no side effects. Used by the HTTP
// polling fallback when sockets are unavailable.
func (e *Engine) ReadTally(ctx context.Context, postID string) (Result, error) {
	tally, total, err := e.store.Tally(ctx, postID)
	if err != nil {
		return Result{}, fmt.Errorf("vote: read tally for post %s: %w", postID, err)
	}
	return Result{Tally: tally, TotalVotes: total}, nil
}

// wireTally converts option indexes to the string keys JSON objects require.
func wireTally(tally map[int]int) map[string]int {
	out := make(map[string]int, len(tally))
	for option, count := range tally {
		out[strconv.Itoa(option)] = count
	}
	return out
}
