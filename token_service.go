package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey        []byte
	tokenExpiration   int
	refreshExpiration int
	issuer            string
	audience          jwt.ClaimStrings
	logger            Logger
}

// NewTokenService creates a new TokenService instance. Expirations are in
// hours; the refresh expiration should be a multiple of the access one.
func NewTokenService(signingKey []byte, tokenExpiration, refreshExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	if refreshExpiration <= tokenExpiration {
		refreshExpiration = tokenExpiration * 24
	}
	return &TokenServiceImpl{
		signingKey:        signingKey,
		tokenExpiration:   tokenExpiration,
		refreshExpiration: refreshExpiration,
		issuer:            issuer,
		audience:          audience,
		logger:            logger,
	}
}

// IssuePair mints the access/refresh credential pair for an identity. No
// state is written anywhere; the pair is entirely client-held.
func (ts *TokenServiceImpl) IssuePair(identity Identity) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(time.Duration(ts.tokenExpiration) * time.Hour)

	access, err := ts.SignClaims(ts.newClaims(identity, TokenUseAccess, now, accessExpiry))
	if err != nil {
		return nil, err
	}

	refreshExpiry := now.Add(time.Duration(ts.refreshExpiration) * time.Hour)
	refresh, err := ts.SignClaims(ts.newClaims(identity, TokenUseRefresh, now, refreshExpiry))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiry,
	}, nil
}

// Refresh validates a refresh token and mints a fresh access token carrying
// the same subject and role.
func (ts *TokenServiceImpl) Refresh(refreshToken string) (string, error) {
	claims, err := ts.Validate(refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}

	if claims.Use() != TokenUseRefresh {
		ts.logger.Warn("TokenService refresh rejected token with use %q", claims.Use())
		return "", ErrInvalidRefreshToken
	}

	now := time.Now()
	expiry := now.Add(time.Duration(ts.tokenExpiration) * time.Hour)

	identity := authIdentity{
		id:   claims.UserID(),
		role: claims.Role(),
	}

	return ts.SignClaims(ts.newClaims(identity, TokenUseAccess, now, expiry))
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Wrap(err, errors.CategoryAuth, "token is expired").
				WithCode(errors.CodeUnauthorized)
		}
		return nil, errors.Wrap(err, errors.CategoryAuth, "token is malformed").
			WithCode(errors.CodeUnauthorized)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, errors.New("token is malformed", errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized)
}

func (ts *TokenServiceImpl) newClaims(identity Identity, use string, issuedAt, expiresAt time.Time) *JWTClaims {
	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:      identity.ID(),
		UserRole: identity.Role(),
		TokenUse: use,
	}

	ensureTokenID(&claims.RegisteredClaims)

	return claims
}
