// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// Resolver maps external actor identifiers to local user records. Foreign
// actors get a shadow user on first contact; local actors additionally get a
// protocol identity registered at the gateway if one does not exist yet.
//
// Origin is determined by string-matching the domain suffix of the external
// id against the configured home domain. This is a trust boundary, not
// authentication.
type Resolver struct {
	users      UserRepository
	gateway    Gateway
	homeDomain string
	log        zerolog.Logger

	formatDisplayname func(DisplaynameParams) string
}

// NewResolver creates an identity resolver.
func NewResolver(users UserRepository, gateway Gateway, homeDomain string, log zerolog.Logger) *Resolver {
	return &Resolver{
		users:      users,
		gateway:    gateway,
		homeDomain: homeDomain,
		log:        log.With().Str("component", "identity_resolver").Logger(),
	}
}

// SetDisplaynameFormatter overrides how display names for newly materialized
// shadow users are rendered. The default is the derived username.
func (r *Resolver) SetDisplaynameFormatter(format func(DisplaynameParams) string) {
	r.formatDisplayname = format
}

// Resolve is a pure lookup: it returns the federated user for an external id
// or (nil, nil) when none exists.
func (r *Resolver) Resolve(ctx context.Context, externalID id.UserID) (*FederatedUser, error) {
	return r.users.GetUserByExternalID(ctx, externalID)
}

// Ensure finds or creates the federated user for an external id. Creation is
// idempotent: the repository enforces uniqueness on the external id, so
// concurrent calls resolve to the same internal id.
func (r *Resolver) Ensure(ctx context.Context, externalID id.UserID, displayName string) (*FederatedUser, error) {
	existing, err := r.users.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	isLocal := IsLocalOrigin(externalID, r.homeDomain)
	username := UsernameForExternalID(externalID, r.homeDomain)
	if displayName == "" {
		displayName = username
		if !isLocal && r.formatDisplayname != nil {
			displayName = r.formatDisplayname(DisplaynameParams{
				Username: LocalpartOf(externalID),
				Origin:   ExtractOrigin(string(externalID), r.homeDomain),
			})
		}
	}

	if isLocal {
		// A local-origin id with no mapping means the user has no protocol
		// identity yet; register one before materializing the record.
		registeredID, err := r.gateway.RegisterUser(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to register protocol identity for %s: %w", username, err)
		}
		externalID = registeredID
	}

	user, err := r.users.CreateUser(ctx, &FederatedUser{
		ExternalID:  externalID,
		Username:    username,
		DisplayName: displayName,
		IsLocal:     isLocal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.log.Debug().
		Str("external_id", string(externalID)).
		Str("internal_id", user.ID).
		Bool("is_local", isLocal).
		Msg("Materialized federated user")
	return user, nil
}

// UpdateProfile applies remote profile data to an already resolved user,
// skipping fields that did not change. Failures here are soft; the caller
// logs and continues.
func (r *Resolver) UpdateProfile(ctx context.Context, user *FederatedUser, profile *UserProfile) error {
	if profile == nil {
		return nil
	}
	if profile.DisplayName != "" && profile.DisplayName != user.DisplayName {
		if err := r.users.SetUserDisplayName(ctx, user.ID, profile.DisplayName); err != nil {
			return fmt.Errorf("failed to update display name: %w", err)
		}
		user.DisplayName = profile.DisplayName
	}
	if profile.AvatarURL != "" && profile.AvatarURL != user.AvatarURL {
		if err := r.users.SetUserAvatarURL(ctx, user.ID, profile.AvatarURL); err != nil {
			return fmt.Errorf("failed to update avatar: %w", err)
		}
		user.AvatarURL = profile.AvatarURL
	}
	return nil
}
