package postgres

import (
	"testing"

	"github.com/resource-economy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRows(t *testing.T) {
	w := domain.Wallet{
		PlayerID: "p1",
		Balances: map[domain.Currency]int64{domain.CurrencySoft: 10, domain.CurrencyCoachingCredit: 4},
		Caps:     map[domain.Currency]int64{domain.CappedCurrency: 100, domain.CurrencySoft: 999},
	}

	rows := balanceRows(w)
	require.Len(t, rows, len(domain.Currencies))

	assert.Equal(t, domain.CurrencySoft, rows[0].currency)
	assert.Equal(t, int64(10), rows[0].balance)
	assert.Nil(t, rows[0].cap, "advisory caps are not mirrored")

	assert.Equal(t, int64(0), rows[1].balance)

	require.NotNil(t, rows[2].cap)
	assert.Equal(t, int64(100), *rows[2].cap)
}

func TestMarshalOptional(t *testing.T) {
	data, err := marshalOptional(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = marshalOptional(map[string]interface{}{"cap_reached": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cap_reached": true}`, string(data))
}
