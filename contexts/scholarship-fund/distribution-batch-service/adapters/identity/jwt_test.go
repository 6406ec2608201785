package identity

import (
	"context"
	"testing"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifierAcceptsIssuedToken(t *testing.T) {
	verifier, err := NewVerifier("board-secret", "identity.local")
	require.NoError(t, err)

	member := entities.Member{MemberID: "m-1", DisplayName: "Ada", Email: "ada@example.org", IsAdmin: true}
	token, err := verifier.Issue(member, time.Hour)
	require.NoError(t, err)

	got, err := verifier.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, member, got)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	verifier, err := NewVerifier("board-secret", "")
	require.NoError(t, err)
	token, err := verifier.Issue(entities.Member{MemberID: "m-1"}, -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)
}

func TestVerifierRejectsWrongIssuerAndSecret(t *testing.T) {
	issuerA, err := NewVerifier("board-secret", "issuer-a")
	require.NoError(t, err)
	issuerB, err := NewVerifier("board-secret", "issuer-b")
	require.NoError(t, err)
	otherSecret, err := NewVerifier("other-secret", "issuer-a")
	require.NoError(t, err)

	token, err := issuerA.Issue(entities.Member{MemberID: "m-1"}, time.Hour)
	require.NoError(t, err)

	_, err = issuerB.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)
	_, err = otherSecret.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)
}

func TestVerifierRejectsMissingSubjectAndUnsignedTokens(t *testing.T) {
	verifier, err := NewVerifier("board-secret", "")
	require.NoError(t, err)

	token, err := verifier.Issue(entities.Member{MemberID: " "}, time.Hour)
	require.NoError(t, err)
	_, err = verifier.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "m-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = verifier.Authenticate(context.Background(), unsigned)
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)

	_, err = verifier.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, domainerrors.ErrUnauthenticated)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(" ", "")
	require.Error(t, err)
}
