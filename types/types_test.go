package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortToken(t *testing.T) {
	require.Equal(t, "7xKXtg…osgAsU", ShortToken("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"))
	require.Equal(t, "shortmint", ShortToken("shortmint"))
	require.Equal(t, "exactly13char", ShortToken("exactly13char"))
}
