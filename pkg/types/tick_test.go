package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickValidate(t *testing.T) {
	valid := Tick{ID: 3, Demand: 20, BuyPrice: 40, SellPrice: 35, Sun: 50}
	assert.NoError(t, valid.Validate())

	t.Run("negative id", func(t *testing.T) {
		tk := valid
		tk.ID = -1
		assert.Error(t, tk.Validate())
	})
	t.Run("negative price", func(t *testing.T) {
		tk := valid
		tk.BuyPrice = -0.5
		assert.Error(t, tk.Validate())
	})
	t.Run("nan demand", func(t *testing.T) {
		tk := valid
		tk.Demand = math.NaN()
		assert.Error(t, tk.Validate())
	})
	t.Run("sun out of range", func(t *testing.T) {
		tk := valid
		tk.Sun = 101
		assert.Error(t, tk.Validate())
		tk.Sun = -1
		assert.Error(t, tk.Validate())
	})
}

func TestDeferrableTaskUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		body string
		want float64
	}{
		{"demand", `{"start":1,"end":5,"demand":12.5}`, 12.5},
		{"energy", `{"start":1,"end":5,"energy":8}`, 8},
		{"amount", `{"start":1,"end":5,"amount":3.25}`, 3.25},
		{"value", `{"start":1,"end":5,"value":7}`, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var d DeferrableTask
			require.NoError(t, json.Unmarshal([]byte(c.body), &d))
			assert.Equal(t, 1, d.Start)
			assert.Equal(t, 5, d.End)
			assert.Equal(t, c.want, d.Demand)
		})
	}

	t.Run("missing amount field", func(t *testing.T) {
		var d DeferrableTask
		assert.Error(t, json.Unmarshal([]byte(`{"start":1,"end":5}`), &d))
	})
}

func TestDeferrableTaskValidate(t *testing.T) {
	assert.NoError(t, DeferrableTask{Start: 2, End: 2, Demand: 1}.Validate())
	assert.Error(t, DeferrableTask{Start: 5, End: 2, Demand: 1}.Validate())
	assert.Error(t, DeferrableTask{Start: 1, End: 2, Demand: -1}.Validate())
}
