package auth

import (
	"context"
	"errors"

	"github.com/verdantlab/verdant-core/internal/kit"
)

// KitLookup is the subset of the kit registry the resolver needs.
type KitLookup interface {
	GetBySerial(ctx context.Context, serial string) (*kit.Kit, error)
}

// UserLookup is the subset of the user repository the resolver needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Resolver turns bearer tokens into principals.
//
// Resolution degrades rather than fails: an absent, malformed, or expired
// token yields the anonymous principal with a nil error, so callers can let
// the authorization predicates decide what anonymous may do. The only error
// a caller must handle is ErrIdentityConflict, which indicates the same
// subject exists in both the kit and user domains and cannot be resolved
// to a single identity.
type Resolver struct {
	kits   KitLookup
	users  UserLookup
	secret string
	logger Logger
}

// NewResolver creates a resolver backed by the given lookups.
func NewResolver(kits KitLookup, users UserLookup, secret string, logger Logger) *Resolver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Resolver{kits: kits, users: users, secret: secret, logger: logger}
}

// Resolve maps a raw bearer token to a principal.
//
// An empty or invalid token resolves to the anonymous principal. A valid
// token is resolved by its subject: a kit serial yields a device principal,
// a user id yields a person principal. A subject present in both domains
// returns ErrIdentityConflict.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (Principal, error) {
	if rawToken == "" {
		return Anonymous(), nil
	}

	claims, err := ParseToken(rawToken, r.secret)
	if err != nil {
		r.logger.Debug("token rejected, resolving as anonymous", "error", err)
		return Anonymous(), nil
	}

	foundKit, err := r.lookupKit(ctx, claims)
	if err != nil {
		return Anonymous(), err
	}
	foundUser, err := r.lookupUser(ctx, claims)
	if err != nil {
		return Anonymous(), err
	}

	switch {
	case foundKit != nil && foundUser != nil:
		r.logger.Error("subject exists in both identity domains", "subject", claims.Subject)
		return Anonymous(), ErrIdentityConflict
	case foundKit != nil:
		return Device(foundKit.ID, foundKit.Serial), nil
	case foundUser != nil:
		if !foundUser.IsActive {
			r.logger.Debug("inactive user token, resolving as anonymous", "user_id", foundUser.ID)
			return Anonymous(), nil
		}
		return Person(foundUser.ID), nil
	default:
		r.logger.Debug("token subject matches no identity, resolving as anonymous",
			"subject", claims.Subject)
		return Anonymous(), nil
	}
}

func (r *Resolver) lookupKit(ctx context.Context, claims *CustomClaims) (*kit.Kit, error) {
	k, err := r.kits.GetBySerial(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return k, nil
}

func (r *Resolver) lookupUser(ctx context.Context, claims *CustomClaims) (*User, error) {
	u, err := r.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}
