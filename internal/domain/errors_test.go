package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("validation failed")
	perm := Permanent(base)
	assert.True(t, IsPermanent(perm))
	assert.False(t, IsPermanent(base))
	assert.Equal(t, "validation failed", perm.Error())
	assert.ErrorIs(t, perm, base)

	// wrapping must survive further annotation
	wrapped := fmt.Errorf("dispatch item abc: %w", perm)
	assert.True(t, IsPermanent(wrapped))
}
