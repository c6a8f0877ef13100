package bank_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/bank/banktest"
)

func TestRegistry_GetUnknown(t *testing.T) {
	r := bank.NewRegistry()
	assert.Nil(t, r.Get("nonexistent"))

	_, err := r.Lookup("nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, bank.ErrUnknownBank))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := bank.NewRegistry()
	r.Register(&banktest.Fake{ID: "chase"})

	a := r.Get("chase")
	require.NotNil(t, a)
	assert.Equal(t, "chase", a.Info().ID)
	assert.NotNil(t, r.Get("CHASE"))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := bank.NewRegistry()
	r.Register(&banktest.Fake{ID: "chase"})
	assert.Panics(t, func() { r.Register(&banktest.Fake{ID: "Chase"}) })
}

func TestRegistry_Catalog(t *testing.T) {
	r := bank.NewRegistry()
	r.Register(&banktest.Fake{ID: "wells"})
	r.Register(&banktest.Fake{ID: "ally", SpanMonths: 6})

	catalog := r.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "ally", catalog[0].ID)
	assert.Equal(t, 6, catalog[0].MaxSpanMonths)
	assert.Equal(t, "wells", catalog[1].ID)

	assert.True(t, bank.Supports(catalog, "ALLY"))
	assert.False(t, bank.Supports(catalog, "chase"))
}
