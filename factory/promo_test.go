package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/inventory"
)

func TestParsePromo_Presets(t *testing.T) {
	f := factory.NewPromoFactory()

	t.Run("percentage", func(t *testing.T) {
		p, err := f.ParsePromo(factory.PercentageOffJSON("SPRING20", 20))
		require.NoError(t, err)
		assert.Equal(t, inventory.PromoPercentage, p.Type)
		assert.True(t, p.Rule.Percent.Equal(decimal.NewFromInt(20)))
		assert.Equal(t, "20% off", p.Name)
		assert.True(t, p.Active)
	})

	t.Run("fractional percentage", func(t *testing.T) {
		p, err := f.ParsePromo(factory.PercentageOffJSON("HALFPCT", 12.5))
		require.NoError(t, err)
		assert.Equal(t, "12.5", p.Rule.Percent.String())
	})

	t.Run("nominal", func(t *testing.T) {
		p, err := f.ParsePromo(factory.NominalOffJSON("WELCOME50K", 50000))
		require.NoError(t, err)
		assert.Equal(t, inventory.PromoNominal, p.Type)
		assert.Equal(t, int64(50000), p.Rule.Amount)
	})

	t.Run("day based", func(t *testing.T) {
		p, err := f.ParsePromo(factory.PayForDaysJSON("WEEKLY", 3, 2))
		require.NoError(t, err)
		assert.Equal(t, inventory.PromoDayBased, p.Type)
		assert.Equal(t, 3, p.Rule.GroupSize)
		assert.Equal(t, 2, p.Rule.PayDays)
	})
}

func TestParsePromo_Defaults(t *testing.T) {
	p, err := factory.NewPromoFactory().ParsePromo(`{"code": "OFF", "type": "nominal", "amount": 100, "active": false}`)

	require.NoError(t, err)
	assert.Equal(t, "OFF", p.Name)
	assert.False(t, p.Active)
}

func TestParsePromo_Invalid(t *testing.T) {
	f := factory.NewPromoFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"code": `},
		{"missing code", `{"type": "nominal", "amount": 1}`},
		{"unknown type", `{"code": "X", "type": "bogo"}`},
		{"percent above 100", `{"code": "X", "type": "percentage", "percent": 101}`},
		{"percent missing", `{"code": "X", "type": "percentage"}`},
		{"negative amount", `{"code": "X", "type": "nominal", "amount": -1}`},
		{"zero group", `{"code": "X", "type": "day_based", "group_size": 0, "pay_days": 0}`},
		{"pay days missing", `{"code": "X", "type": "day_based", "group_size": 3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePromo(tt.json)
			assert.ErrorIs(t, err, inventory.ErrInvalidPromo)
		})
	}
}

func TestToJSON_OnlyTypeFields(t *testing.T) {
	f := factory.NewPromoFactory()
	p, err := f.ParsePromo(factory.PayForDaysJSON("WEEKLY", 3, 2))
	require.NoError(t, err)
	p.ID = 4

	data, err := json.Marshal(f.ToJSON(*p))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id": 4, "code": "WEEKLY", "name": "Rent 3, pay 2", "type": "day_based", "group_size": 3, "pay_days": 2, "active": true}`, string(data))
}
