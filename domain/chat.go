package domain

import (
	"github.com/samber/lo"
	"strings"
)

type ChatID string

type UserID string

const DefaultGroupName = "Group Chat"

// Chat owns its participant list. Order is kept for display; membership is a set.
type Chat struct {
	ID           ChatID   `json:"id"`
	IsGroup      bool     `json:"isGroup"`
	Name         string   `json:"name,omitempty"`
	Participants []UserID `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
	LastActivity int64    `json:"lastActivity"`
}

func (c Chat) HasParticipant(userID UserID) bool {
	return lo.Contains(c.Participants, userID)
}

// NormalizeParticipants puts the requester first and drops blanks and duplicates,
// keeping the first occurrence of each id.
func NormalizeParticipants(requester UserID, participants []UserID) []UserID {
	all := append([]UserID{requester}, participants...)
	all = lo.Map(all, func(id UserID, _ int) UserID {
		return UserID(strings.TrimSpace(string(id)))
	})
	all = lo.Filter(all, func(id UserID, _ int) bool { return id != "" })
	return lo.Uniq(all)
}

// PairKey orders two user ids so a direct chat has one key whoever starts it.
func PairKey(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}
