// Copyright (c) 2023 BVK Chaitanya

package gobs

import "time"

// Credential is the persisted bearer credential of the operator.
type Credential struct {
	AccessToken  string
	RefreshToken string

	UpdatedAt time.Time

	// Refreshes counts successful refresh-token exchanges since the access
	// token was set manually.
	Refreshes int64
}
