package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/markethours"
)

func TestLoadFile_Defaults(t *testing.T) {
	c, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 0.5, c.PriceSurgePct)
	assert.Equal(t, 2.0, c.VolumeSurgeMult)
	assert.Equal(t, 5*time.Second, c.Cooldown)
	assert.Equal(t, 300*time.Second, c.StaleOrderTimeout)
	assert.Equal(t, "paper", c.Broker)

	s, err := c.Session()
	require.NoError(t, err)
	assert.Equal(t, markethours.DefaultSession(), s)
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols: [AAPL, MSFT]
price_surge_pct: 2
volume_surge_mult: 3
cooldown: 10s
flatten_at: "15:20"
`), 0o644))

	t.Setenv("VOLUME_SURGE_MULT", "4")
	t.Setenv("STALE_ORDER_TIMEOUT", "120")

	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)
	assert.Equal(t, 2.0, c.PriceSurgePct)
	assert.Equal(t, 4.0, c.VolumeSurgeMult)
	assert.Equal(t, 10*time.Second, c.Cooldown)
	assert.Equal(t, 120*time.Second, c.StaleOrderTimeout)

	p := c.Params()
	assert.Equal(t, 2.0, p.PriceSurgePct)

	mc := c.MachineConfig(nil)
	assert.Equal(t, markethours.Clock{Hour: 15, Minute: 20}, mc.Session.FlattenAt)
	assert.Equal(t, 120*time.Second, mc.StaleAfter)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	c := Default()
	c.RiskPct = 0
	c.Broker = "ib"
	c.SessionOpen = "9h30"

	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "risk_pct")
	assert.ErrorContains(t, err, "broker")
	assert.ErrorContains(t, err, "session_open")
}

func TestCheckSymbols(t *testing.T) {
	c := Default()
	assert.Error(t, c.CheckSymbols("scan"))

	c.Symbols = ParseSymbols("aapl, msft,AAPL,tsla,nvda")
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA", "NVDA"}, c.Symbols)
	assert.NoError(t, c.CheckSymbols("scan"))
	assert.ErrorContains(t, c.CheckSymbols("trade"), "limit of 3")
}
