package provider

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConstructsEveryKnownAdapter(t *testing.T) {
	client := newTestHTTPClient()
	settings := Settings{
		APIKey:     "k",
		Products:   []string{"BTC-USD"},
		TickMaxAge: 30 * time.Second,
	}

	for _, id := range Known() {
		a, err := Build(id, settings, client, zerolog.Nop())
		require.NoError(t, err, "building %s", id)
		assert.Equal(t, id, a.ID())
	}
}

func TestBuildRejectsUnknownID(t *testing.T) {
	_, err := Build("bloomberg", Settings{}, newTestHTTPClient(), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bloomberg")
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(IDFRED))
	assert.True(t, IsKnown(IDSynthetic))
	assert.False(t, IsKnown("reuters"))
}

func TestBatchAdapterSurface(t *testing.T) {
	client := newTestHTTPClient()

	// CoinGecko and synthetic speak batch natively; the rest do not.
	var a Adapter = NewCoinGeckoAdapter("", "", client)
	_, ok := a.(BatchAdapter)
	assert.True(t, ok)

	a = NewSyntheticAdapter()
	_, ok = a.(BatchAdapter)
	assert.True(t, ok)

	a = NewFREDAdapter("", "k", client)
	_, ok = a.(BatchAdapter)
	assert.False(t, ok)
}

func TestRunnableSurface(t *testing.T) {
	a := NewCoinbaseWSAdapter("", nil, time.Second, zerolog.Nop())
	var iface Adapter = a
	_, ok := iface.(Runnable)
	assert.True(t, ok, "the websocket feed must expose lifecycle hooks")

	var rest Adapter = NewSyntheticAdapter()
	_, ok = rest.(Runnable)
	assert.False(t, ok)
}
