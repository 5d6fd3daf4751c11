package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLimiterIsPerUser(t *testing.T) {
	l := newUserLimiter(3)
	for range 3 {
		assert.True(t, l.allow(1))
	}
	assert.False(t, l.allow(1))
	assert.True(t, l.allow(2))
}

func TestUserLimiterDisabled(t *testing.T) {
	assert.Nil(t, newUserLimiter(0))
}
