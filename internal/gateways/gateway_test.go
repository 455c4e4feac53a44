package gateways_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/gateways/gatewaytest"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

func TestRegistryResolvesCaseInsensitively(t *testing.T) {
	fake := gatewaytest.New(enums.ProviderAsaas)
	reg := gateways.NewRegistry(fake)

	gw, ok := reg.Get(" ASAAS ")
	require.True(t, ok)
	assert.Equal(t, enums.ProviderAsaas, gw.Name())

	_, ok = reg.Get("square")
	assert.False(t, ok)
	_, ok = reg.Get("paypal")
	assert.False(t, ok)
}

func TestRegistryTransferer(t *testing.T) {
	reg := gateways.NewRegistry(gatewaytest.New(enums.ProviderAsaas), gatewaytest.NewWithoutTransfers(enums.ProviderSquare))

	tr, err := reg.Transferer("asaas")
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = reg.Transferer("square")
	assert.ErrorContains(t, err, "does not support transfers")

	_, err = reg.Transferer("unknown")
	assert.ErrorContains(t, err, "not registered")

	assert.Len(t, reg.Providers(), 2)
}
