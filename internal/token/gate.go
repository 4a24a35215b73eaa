package token

import (
	"context"
	"log/slog"
	"time"

	"school-gateway/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Gate is the sole authority on whether a connection is still who it claims
// to be. Every inbound frame re-runs the access check through here.
type Gate struct {
	manager   *Manager
	accounts  AccountRepository
	refreshes RefreshTokenRepository
	blacklist Blacklist
	logger    *slog.Logger
}

func NewGate(manager *Manager, accounts AccountRepository, refreshes RefreshTokenRepository, blacklist Blacklist, logger *slog.Logger) *Gate {
	return &Gate{
		manager:   manager,
		accounts:  accounts,
		refreshes: refreshes,
		blacklist: blacklist,
		logger:    logger,
	}
}

// Authenticate resolves the identity behind an access/refresh pair.
//
// A valid, non-revoked access token wins outright. An expired or otherwise
// unusable access token triggers exactly one refresh attempt; on success the
// returned Credential carries the newly minted access token, which the caller
// must propagate back to the client. Anything else fails with an auth error.
func (g *Gate) Authenticate(ctx context.Context, accessToken, refreshToken string) (models.Identity, *Credential, error) {
	if accessToken != "" {
		claims, err := g.manager.VerifyAccess(accessToken)
		if err == nil {
			revoked, berr := g.blacklist.IsRevoked(ctx, accessToken)
			if berr != nil {
				g.logger.Error("blacklist lookup failed", "error", berr)
				return models.Identity{}, nil, ErrInvalid
			}
			if revoked {
				return models.Identity{}, nil, ErrRevoked
			}
			return models.Identity{AccountID: claims.AccountID, Role: claims.Role}, nil, nil
		}
	}

	if refreshToken == "" {
		return models.Identity{}, nil, ErrInvalid
	}

	identity, cred, err := g.refreshAccess(ctx, refreshToken)
	if err != nil {
		return models.Identity{}, nil, err
	}
	return identity, cred, nil
}

// refreshAccess mints a replacement access token off a valid refresh token
// whose durable record still exists.
func (g *Gate) refreshAccess(ctx context.Context, refreshToken string) (models.Identity, *Credential, error) {
	claims, err := g.manager.VerifyRefresh(refreshToken)
	if err != nil {
		return models.Identity{}, nil, ErrInvalid
	}

	record, err := g.refreshes.FindByToken(ctx, refreshToken)
	if err != nil {
		return models.Identity{}, nil, ErrInvalid
	}
	if record.Expired(time.Now()) {
		return models.Identity{}, nil, ErrExpired
	}

	identity := models.Identity{AccountID: claims.AccountID, Role: claims.Role}
	access, expiresAt, err := g.manager.MintAccess(identity)
	if err != nil {
		return models.Identity{}, nil, ErrInvalid
	}

	g.logger.Debug("access credential refreshed", "accountID", identity.AccountID)
	return identity, &Credential{AccessToken: access, ExpiresAt: expiresAt}, nil
}

// Login checks the password and issues a fresh credential pair. The refresh
// half is persisted so it can be revoked later.
func (g *Gate) Login(ctx context.Context, email, password string) (*models.Account, *Credential, error) {
	account, err := g.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, ErrInvalidLogin
	}
	if !account.IsActive {
		return nil, nil, ErrInvalidLogin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidLogin
	}

	cred, err := g.issue(ctx, account.Identity())
	if err != nil {
		return nil, nil, err
	}

	if err := g.accounts.UpdateLastLogin(ctx, account.ID, time.Now().UTC()); err != nil {
		g.logger.Warn("failed to update last login", "accountID", account.ID, "error", err)
	}

	return account, cred, nil
}

// Refresh rotates a refresh credential: the old record is deleted and a new
// pair is issued.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	claims, err := g.manager.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalid
	}

	record, err := g.refreshes.FindByToken(ctx, refreshToken)
	if err != nil {
		return nil, ErrInvalid
	}
	if record.Expired(time.Now()) {
		return nil, ErrExpired
	}

	if err := g.refreshes.DeleteByToken(ctx, refreshToken); err != nil {
		return nil, err
	}

	return g.issue(ctx, models.Identity{AccountID: claims.AccountID, Role: claims.Role})
}

// Logout revokes the access credential for the remainder of its natural
// lifetime and deletes the account's durable refresh records.
func (g *Gate) Logout(ctx context.Context, accessToken string) error {
	claims, err := g.manager.VerifyAccess(accessToken)
	if err != nil {
		// An already-expired access token needs no blacklist entry, but the
		// refresh records are gone either way only when we know the account.
		return ErrInvalid
	}

	if err := g.blacklist.Revoke(ctx, accessToken, g.manager.Remaining(claims)); err != nil {
		return err
	}

	if err := g.refreshes.DeleteByAccount(ctx, claims.AccountID); err != nil {
		g.logger.Warn("failed to delete refresh records", "accountID", claims.AccountID, "error", err)
	}

	g.logger.Info("account logged out", "accountID", claims.AccountID)
	return nil
}

func (g *Gate) issue(ctx context.Context, identity models.Identity) (*Credential, error) {
	access, accessExpiry, err := g.manager.MintAccess(identity)
	if err != nil {
		return nil, err
	}
	refresh, refreshExpiry, err := g.manager.MintRefresh(identity)
	if err != nil {
		return nil, err
	}

	record := &models.RefreshToken{
		ID:        uuid.New().String(),
		AccountID: identity.AccountID,
		Token:     refresh,
		ExpiresAt: refreshExpiry,
	}
	if err := g.refreshes.Create(ctx, record); err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiry,
	}, nil
}
