// Copyright (c) 2023 BVK Chaitanya

package telegram

import (
	"fmt"
	"slices"
	"strings"
)

// Secrets hold the bot token and the telegram user names the bot serves.
// User names are matched without the leading "@" and ignoring case.
type Secrets struct {
	BotToken string `json:"token"`

	// OwnerID is the operator. Owner receives every notification and may run
	// every command, including the ones that change the session.
	OwnerID string `json:"owner"`

	// OtherIDs receive notifications and may run the read-only commands.
	OtherIDs []string `json:"others"`
}

func normalizeUser(user string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(user), "@"))
}

func (v *Secrets) Check() error {
	if len(v.BotToken) == 0 {
		return fmt.Errorf("bot token cannot be empty")
	}
	owner := normalizeUser(v.OwnerID)
	if len(owner) == 0 {
		return fmt.Errorf("owner id cannot be empty")
	}
	seen := map[string]bool{owner: true}
	for _, other := range v.OtherIDs {
		id := normalizeUser(other)
		if len(id) == 0 {
			return fmt.Errorf("empty string in other ids is not a valid id")
		}
		if id == owner {
			return fmt.Errorf("owner id should not be repeated in other ids")
		}
		if seen[id] {
			return fmt.Errorf("other id %q is repeated", other)
		}
		seen[id] = true
	}
	return nil
}

// Clone returns a copy with normalized user names.
func (v *Secrets) Clone() *Secrets {
	others := make([]string, 0, len(v.OtherIDs))
	for _, other := range v.OtherIDs {
		others = append(others, normalizeUser(other))
	}
	return &Secrets{
		BotToken: v.BotToken,
		OwnerID:  normalizeUser(v.OwnerID),
		OtherIDs: others,
	}
}

func (v *Secrets) IsOwner(user string) bool {
	return len(user) != 0 && normalizeUser(user) == normalizeUser(v.OwnerID)
}

// IsAllowed returns true for the owner and the other users.
func (v *Secrets) IsAllowed(user string) bool {
	if v.IsOwner(user) {
		return true
	}
	id := normalizeUser(user)
	return len(id) != 0 && slices.ContainsFunc(v.OtherIDs, func(other string) bool {
		return normalizeUser(other) == id
	})
}

// Receivers returns the normalized user names that get notifications, owner
// first.
func (v *Secrets) Receivers() []string {
	receivers := []string{normalizeUser(v.OwnerID)}
	for _, other := range v.OtherIDs {
		receivers = append(receivers, normalizeUser(other))
	}
	return receivers
}
