package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
)

// maxTokenSize is the largest token string the codec will parse (8 KB).
const maxTokenSize = 8192

var signingMethods = map[string]jwt.SigningMethod{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// jwtClaims is the wire form of Claims.
type jwtClaims struct {
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	DeviceID    string   `json:"did,omitempty"`
	IP          string   `json:"ip,omitempty"`
	UserAgent   string   `json:"ua,omitempty"`
	Type        Type     `json:"typ"`
	jwt.RegisteredClaims
}

func (jc *jwtClaims) claims() *Claims {
	c := &Claims{
		UserID:      jc.Subject,
		Email:       jc.Email,
		Role:        jc.Role,
		Permissions: jc.Permissions,
		SessionID:   jc.SessionID,
		TokenID:     jc.ID,
		DeviceID:    jc.DeviceID,
		IP:          jc.IP,
		UserAgent:   jc.UserAgent,
		Type:        jc.Type,
		Issuer:      jc.Issuer,
	}
	if jc.IssuedAt != nil {
		c.IssuedAt = jc.IssuedAt.Time
	}
	if jc.ExpiresAt != nil {
		c.ExpiresAt = jc.ExpiresAt.Time
	}
	if len(jc.Audience) > 0 {
		c.Audience = jc.Audience[0]
	}
	return c
}

// Codec signs and verifies tokens. It is safe for concurrent use.
type Codec struct {
	cfg    SigningConfig
	method jwt.SigningMethod
	now    func() time.Time
	logger *slog.Logger
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger that receives secret-strength warnings. The
// default is slog.Default().
func WithLogger(l *slog.Logger) CodecOption {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCodec validates cfg and returns a Codec holding a copy of it. A
// non-nil error is always a configuration error and must abort startup.
// Secrets that pass validation but have few distinct characters are
// logged as warnings.
func NewCodec(cfg SigningConfig, opts ...CodecOption) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Codec{
		cfg:    cfg,
		method: signingMethods[cfg.algorithm()],
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, w := range secrets.Warnings(cfg.AccessSecret, cfg.RefreshSecret) {
		c.logger.Warn("weak signing secret", "warning", w)
	}
	return c, nil
}

// Config returns a copy of the signing configuration.
func (c *Codec) Config() SigningConfig { return c.cfg }

// Now returns the codec's current time.
func (c *Codec) Now() time.Time { return c.now() }

// Sign returns a signed token for claims with the given type and lifetime,
// along with the claims as signed. The token id is filled with a fresh
// random value when claims.TokenID is empty; it is never derived from the
// other claims.
func (c *Codec) Sign(claims Claims, typ Type, ttl time.Duration) (string, Claims, error) {
	if !typ.Valid() {
		return "", Claims{}, sserr.GenerationFailed(nil, "token: unknown token type "+string(typ))
	}
	if ttl <= 0 {
		return "", Claims{}, sserr.GenerationFailed(nil, "token: ttl must be positive")
	}
	if claims.UserID == "" {
		return "", Claims{}, sserr.New(sserr.CodeValidationRequired, "token: user id is required")
	}

	if claims.TokenID == "" {
		id, err := secrets.GenerateTokenID()
		if err != nil {
			return "", Claims{}, sserr.GenerationFailed(err, "token: failed to generate token id")
		}
		claims.TokenID = id
	}

	// NumericDate has second precision; truncate so the returned claims
	// match what Verify will decode.
	now := c.now().Truncate(time.Second)
	claims.Type = typ
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)
	claims.Issuer = c.cfg.Issuer
	claims.Audience = c.cfg.Audience
	claims.Permissions = append([]string(nil), claims.Permissions...)

	jc := jwtClaims{
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		IP:          claims.IP,
		UserAgent:   claims.UserAgent,
		Type:        typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			ID:        claims.TokenID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, jc).SignedString(c.keyFor(typ))
	if err != nil {
		return "", Claims{}, sserr.GenerationFailed(err, "token: failed to sign token")
	}
	return signed, claims, nil
}

// Verify checks the token's signature, issuer, audience, expiry and type.
// The error carries one of the AUTH codes describing the failure.
func (c *Codec) Verify(tokenStr string, expected Type) (*Claims, error) {
	if tokenStr == "" {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: token must not be empty")
	}
	if len(tokenStr) > maxTokenSize {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: token exceeds maximum size")
	}

	var jc jwtClaims
	_, err := jwt.ParseWithClaims(tokenStr, &jc, func(*jwt.Token) (any, error) {
		return c.keyFor(expected), nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classifyError(err)
	}

	if jc.Type != expected {
		return nil, sserr.Newf(sserr.CodeTokenTypeMismatch,
			"token: expected %s token, got %q", expected, jc.Type)
	}
	if jc.Subject == "" || jc.ID == "" {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: subject and token id are required")
	}
	return jc.claims(), nil
}

// Decode checks the signature, issuer and audience but not the validity
// window, so an expired token can still be identified for revocation.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	if tokenStr == "" || len(tokenStr) > maxTokenSize {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: invalid token length")
	}

	// The type claim selects the key; it is only trusted once the
	// signature made with that key verifies.
	var peek jwtClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &peek); err != nil {
		return nil, classifyError(err)
	}
	if !peek.Type.Valid() {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: unknown token type")
	}

	var jc jwtClaims
	_, err := jwt.ParseWithClaims(tokenStr, &jc, func(*jwt.Token) (any, error) {
		return c.keyFor(peek.Type), nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, classifyError(err)
	}
	if jc.Issuer != c.cfg.Issuer {
		return nil, sserr.New(sserr.CodeTokenIssuerMismatch, "token: issuer mismatch")
	}
	if !slices.Contains(jc.Audience, c.cfg.Audience) {
		return nil, sserr.New(sserr.CodeTokenIssuerMismatch, "token: audience mismatch")
	}
	if jc.ID == "" {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: token id is required")
	}
	return jc.claims(), nil
}

func (c *Codec) keyFor(typ Type) []byte {
	if typ == TypeRefresh {
		return c.cfg.RefreshSecret.Bytes()
	}
	return c.cfg.AccessSecret.Bytes()
}

// Fingerprint returns a short, irreversible identifier for a token, the
// only form in which a token may appear in logs.
func Fingerprint(tokenStr string) string {
	h := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(h[:8])
}

// classifyError maps a jwt error to an AUTH-coded *sserr.Error.
func classifyError(err error) *sserr.Error {
	var ssErr *sserr.Error
	if errors.As(err, &ssErr) {
		return ssErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeTokenExpired, "token: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeTokenMalformed, "token: token is malformed")
	case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeTokenInvalidSignature, "token: signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeTokenIssuerMismatch, "token: issuer or audience mismatch")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, jwt.ErrTokenInvalidClaims):
		return sserr.Wrap(err, sserr.CodeTokenMalformed, "token: claims are invalid")
	default:
		return sserr.Wrap(err, sserr.CodeTokenMalformed, "token: token validation failed")
	}
}
