package shipping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMethod(t *testing.T) {
	svc := NewService()

	for _, mt := range []MethodType{MethodPickup, MethodCourier, MethodPost} {
		m, err := svc.GetMethod(mt)
		require.NoError(t, err)
		assert.Equal(t, mt, m.Type())
	}

	_, err := svc.GetMethod("drone")
	assert.Error(t, err)
}

func TestFees(t *testing.T) {
	svc := NewService()

	pickup, _ := svc.GetMethod(MethodPickup)
	courier, _ := svc.GetMethod(MethodCourier)
	post, _ := svc.GetMethod(MethodPost)

	assert.Equal(t, int64(0), pickup.Fee())
	assert.Equal(t, int64(900), courier.Fee())
	assert.Equal(t, int64(500), post.Fee())
}

func TestWeightLimits(t *testing.T) {
	tests := []struct {
		name     string
		method   MethodType
		weightKg float64
		wantErr  bool
	}{
		{"pickup ignores weight", MethodPickup, 1000, false},
		{"courier under limit", MethodCourier, 29.9, false},
		{"courier at limit", MethodCourier, 30, true},
		{"post under limit", MethodPost, 9.5, false},
		{"post at limit", MethodPost, 10, true},
	}

	svc := NewService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := svc.GetMethod(tt.method)
			require.NoError(t, err)
			err = m.Validate(tt.weightKg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListMethods(t *testing.T) {
	assert.Len(t, NewService().ListMethods(), 3)
}
