package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// DefaultClockSkew is the leeway applied to time-based claims when the
// verifier configuration does not set one. It absorbs small clock
// differences between the gateway and the provider.
const DefaultClockSkew = 30 * time.Second

// ---------------------------------------------------------------------------
// KeyResolver
// ---------------------------------------------------------------------------

// KeyResolver resolves a key ID from a token header to the public key
// that verifies the token's signature. [KeyCache] is the production
// implementation; tests substitute a static resolver.
type KeyResolver interface {
	// ResolveKey returns the public key for the given key ID, or an
	// error carrying [agerr.CodeTokenKeyNotFound] or
	// [agerr.CodeTokenKeyFetch].
	ResolveKey(ctx context.Context, kid string) (any, error)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// Claims holds the verified claims the gateway consumes from an
// identity token. Profile fields (Name, Email, Picture) may be empty
// when the provider does not include them.
type Claims struct {
	// Subject is the provider's stable identifier for the principal
	// (the "sub" claim).
	Subject string

	// Issuer is the verified "iss" claim.
	Issuer string

	// Audience is the first entry of the verified "aud" claim.
	Audience string

	// ExpiresAt is the token expiry ("exp").
	ExpiresAt time.Time

	// IssuedAt is the token issue time ("iat"). Zero when absent.
	IssuedAt time.Time

	// Name is the display name from the "name" claim.
	Name string

	// Email is the address from the "email" claim.
	Email string

	// Picture is the avatar URL from the "picture" claim.
	Picture string

	// Nonce is the "nonce" claim, bound to the login flow that
	// requested the token. The gateway compares it against the value
	// it stashed when redirecting to the provider.
	Nonce string
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// VerifierConfig holds the expectations a token must meet.
type VerifierConfig struct {
	// Issuer is the exact "iss" value tokens must carry. Required.
	Issuer string

	// Audience is the expected "aud" value, normally the OAuth client
	// ID. Required.
	Audience string

	// ClockSkew is the leeway applied to exp/iat/nbf checks. Defaults
	// to [DefaultClockSkew] when zero.
	ClockSkew time.Duration
}

// Verifier checks identity token signatures and claims. Signing keys
// are resolved through a [KeyResolver] so that key fetching, caching,
// and rotation stay out of the verification path.
//
// Verifier is safe for concurrent use by multiple goroutines.
type Verifier struct {
	config   VerifierConfig
	resolver KeyResolver
	tracer   trace.Tracer
}

// NewVerifier creates a Verifier with the given expectations and key
// resolver.
func NewVerifier(cfg VerifierConfig, resolver KeyResolver) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, agerr.New(agerr.CodeValidation, "auth: verifier issuer must not be empty")
	}
	if cfg.Audience == "" {
		return nil, agerr.New(agerr.CodeValidation, "auth: verifier audience must not be empty")
	}
	if resolver == nil {
		return nil, agerr.New(agerr.CodeValidation, "auth: verifier requires a key resolver")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	return &Verifier{
		config:   cfg,
		resolver: resolver,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Verify checks the token's signature and claims and returns the
// verified [Claims].
//
// The method performs the following steps:
//  1. Rejects empty or oversized tokens
//  2. Rejects the "none" algorithm before any signature work
//  3. Resolves the signing key by the header's kid
//  4. Verifies the signature (RS256 or ES256 only) and the iss, aud,
//     exp, and nbf claims with the configured leeway
//
// Failures are classified into the TOKEN error codes so callers can
// log the subtype while returning a uniform rejection to the client.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.VerifyToken")
	defer span.End()

	if tokenStr == "" {
		err := agerr.New(agerr.CodeTokenMalformed, "auth: token must not be empty")
		recordSpanError(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := agerr.New(agerr.CodeTokenMalformed, "auth: token exceeds maximum size")
		recordSpanError(span, err)
		return nil, err
	}

	// Reject alg:none before touching the resolver.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := agerr.Wrap(err, agerr.CodeTokenMalformed, "auth: token is malformed")
		recordSpanError(span, parseErr)
		return nil, parseErr
	}
	if algStr, _ := unverified.Header["alg"].(string); strings.EqualFold(algStr, "none") {
		err := agerr.New(agerr.CodeTokenSignature, "auth: algorithm 'none' is not permitted")
		recordSpanError(span, err)
		return nil, err
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, agerr.New(agerr.CodeTokenKeyNotFound, "auth: token header missing kid")
		}
		return v.resolver.ResolveKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		classified := classifyTokenError(err)
		recordSpanError(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := agerr.New(agerr.CodeTokenClaim, "auth: unable to extract token claims")
		recordSpanError(span, err)
		return nil, err
	}

	claims := claimsFromMap(mc)
	if claims.Subject == "" {
		err := agerr.New(agerr.CodeTokenClaim, "auth: token has no subject")
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	return claims, nil
}

// claimsFromMap extracts the gateway's claim set from verified
// jwt.MapClaims.
func claimsFromMap(mc jwt.MapClaims) *Claims {
	claims := &Claims{}
	claims.Subject, _ = mc["sub"].(string)
	claims.Issuer, _ = mc["iss"].(string)
	claims.Name, _ = mc["name"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.Picture, _ = mc["picture"].(string)
	claims.Nonce, _ = mc["nonce"].(string)

	if aud, err := mc.GetAudience(); err == nil && len(aud) > 0 {
		claims.Audience = aud[0]
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims
}

// classifyTokenError converts a JWT library error to an appropriate
// *agerr.Error. Errors already carrying a gateway code (from the key
// resolver) pass through unchanged.
func classifyTokenError(err error) *agerr.Error {
	if err == nil {
		return nil
	}

	var agError *agerr.Error
	if errors.As(err, &agError) {
		return agError
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return agerr.Wrap(err, agerr.CodeTokenMalformed, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return agerr.Wrap(err, agerr.CodeTokenSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token is missing a required claim")
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return agerr.Wrap(err, agerr.CodeTokenClaim, "auth: token claims are invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return agerr.Wrap(err, agerr.CodeTokenSignature, "auth: token is unverifiable")
	}

	return agerr.Wrap(err, agerr.CodeTokenMalformed, "auth: token verification failed")
}

// recordSpanError records an error on the span and sets the span status
// to Error.
func recordSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
