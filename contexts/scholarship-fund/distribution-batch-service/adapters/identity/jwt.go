package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity token body. The subject carries the member id.
type Claims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens minted by the identity service.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity token secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

func (v *Verifier) Authenticate(_ context.Context, token string) (entities.Member, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return entities.Member{}, domainerrors.ErrUnauthenticated
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return entities.Member{}, domainerrors.ErrUnauthenticated
	}
	memberID := strings.TrimSpace(claims.Subject)
	if memberID == "" {
		return entities.Member{}, domainerrors.ErrUnauthenticated
	}
	return entities.Member{
		MemberID:    memberID,
		DisplayName: strings.TrimSpace(claims.Name),
		Email:       strings.TrimSpace(claims.Email),
		IsAdmin:     claims.IsAdmin,
	}, nil
}

// Issue mints a token for member. Only local tooling and tests use it;
// production tokens come from the identity service.
func (v *Verifier) Issue(member entities.Member, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Name:    member.DisplayName,
		Email:   member.Email,
		IsAdmin: member.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(member.MemberID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var _ ports.Authenticator = (*Verifier)(nil)
