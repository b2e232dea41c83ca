package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Referral Code Generation Tests
// =============================================================================

func TestGenerateReferralCode(t *testing.T) {
	code, err := generateReferralCode()

	require.NoError(t, err)
	assert.Len(t, code, ReferralCodeLength)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(referralCodeAlphabet, c), "unexpected character %q", c)
	}
}

func TestRetryOnCodeCollisionFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := retryOnCodeCollision(referralCodeAttempts, func(code string) error {
		calls++
		assert.Len(t, code, ReferralCodeLength)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnCodeCollisionRetriesWithFreshCode(t *testing.T) {
	// Each attempt must run with a newly generated code. Reusing the
	// colliding code would make every retry fail the same way.
	var codes []string
	err := retryOnCodeCollision(referralCodeAttempts, func(code string) error {
		codes = append(codes, code)
		if len(codes) < 3 {
			return errReferralCodeTaken
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, codes, 3)
	assert.NotEqual(t, codes[0], codes[1])
	assert.NotEqual(t, codes[1], codes[2])
}

func TestRetryOnCodeCollisionStopsOnOtherErrors(t *testing.T) {
	// A failure that is not a code collision, such as a duplicate email,
	// must surface immediately instead of burning retries.
	boom := errors.New("duplicate email")
	calls := 0
	err := retryOnCodeCollision(referralCodeAttempts, func(code string) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnCodeCollisionExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryOnCodeCollision(referralCodeAttempts, func(code string) error {
		calls++
		return errReferralCodeTaken
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, errReferralCodeTaken)
	assert.Equal(t, referralCodeAttempts, calls)
}
