package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalScopeFilter(t *testing.T) {
	scope := GlobalScope()

	cond, args := scope.Filter("user_id")

	assert.Equal(t, "user_id IS NULL", cond)
	assert.Nil(t, args)
	assert.True(t, scope.IsGlobal())
	assert.Nil(t, scope.Value())
	assert.Equal(t, "global", scope.String())
}

func TestTenantScopeFilter(t *testing.T) {
	scope := ScopeForUser(42)

	cond, args := scope.Filter("user_id")

	assert.Equal(t, "user_id = ?", cond)
	assert.Equal(t, []interface{}{int64(42)}, args)
	assert.False(t, scope.IsGlobal())
	assert.Equal(t, int64(42), scope.Value())
	assert.Equal(t, "user:42", scope.String())

	id, ok := scope.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestRounding(t *testing.T) {
	tests := []struct {
		name  string
		in    float64
		want2 float64
		want4 float64
	}{
		{"exact", 1.5, 1.5, 1.5},
		{"rounds down", 1.23412, 1.23, 1.2341},
		{"rounds up", 2.61888, 2.62, 2.6189},
		{"negative", -1.23412, -1.23, -1.2341},
		{"zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want2, Round2(tt.in), 1e-9)
			assert.InDelta(t, tt.want4, Round4(tt.in), 1e-9)
		})
	}
}
