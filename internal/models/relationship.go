package models

// RelationshipState is the derived relationship between an actor and a target.
// It is never persisted: it is always computed from the two aggregates plus the
// actor's pending requests, with blocking overriding everything else.
type RelationshipState string

const (
	RelationshipNone      RelationshipState = "none"
	RelationshipRequested RelationshipState = "requested"
	RelationshipFollowing RelationshipState = "following"
	RelationshipMutual    RelationshipState = "mutual"
	RelationshipBlocked   RelationshipState = "blocked"
)

// DeriveState computes the relationship state from actor to target.
// pending holds the follow requests involving either user that are still
// unresolved; only a pending request from actor to target yields REQUESTED.
// Precedence: blocked > requested > mutual > following > none.
func DeriveState(actor, target *User, pending []FollowRequest) RelationshipState {
	if actor.BlockedEitherWay(target) {
		return RelationshipBlocked
	}
	for _, req := range pending {
		if req.Status == FollowRequestStatusPending &&
			req.RequesterID == actor.ID && req.TargetID == target.ID {
			return RelationshipRequested
		}
	}
	if actor.Following.Contains(target.ID) {
		if target.Following.Contains(actor.ID) {
			return RelationshipMutual
		}
		return RelationshipFollowing
	}
	return RelationshipNone
}

// RelationshipSummary is a list item returned by the query service: the peer's
// public summary plus the derived per-item flags.
type RelationshipSummary struct {
	User      *UserSummary `json:"user"`
	IsMutual  bool         `json:"isMutual"`
	IsPending bool         `json:"isPending"`
}
