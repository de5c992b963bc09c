package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAuthError(t *testing.T) {
	cases := []struct {
		msg  string
		want AuthReason
	}{
		{"retCode=10003 API key is invalid.", AuthInvalidCredentials},
		{"error sign! signature mismatch", AuthInvalidCredentials},
		{"Unmatched IP, please check your API key's bound IP addresses.", AuthIPRestricted},
		{"retCode=10010", AuthIPRestricted},
		{"Permission denied, please check your API key permissions.", AuthPermissionDenied},
		{"connection reset by peer", AuthUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyAuthError(tc.msg), tc.msg)
	}
}

func TestOrderError_MatchesSentinel(t *testing.T) {
	cause := errors.New("insufficient margin")
	err := error(&OrderError{Symbol: "BTC/USDT", Size: 1.5, Level: 2, Err: cause})

	assert.True(t, errors.Is(err, ErrOrderFailed))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "BTC/USDT")
}

func TestCloseError_MatchesSentinel(t *testing.T) {
	err := error(&CloseError{Symbol: "ETH/USDT", Err: errors.New("timeout")})
	assert.True(t, errors.Is(err, ErrCloseFailed))
	assert.False(t, errors.Is(err, ErrOrderFailed))
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
}
