package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilClient_DegradesGracefully(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	assert.Error(t, svc.Ping(ctx))

	var dest map[string]string
	assert.ErrorIs(t, svc.GetUser(ctx, "u1", &dest), ErrMiss)
	assert.NoError(t, svc.SetUser(ctx, "u1", map[string]string{"id": "u1"}))
}
