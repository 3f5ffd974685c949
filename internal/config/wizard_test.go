package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardKeepsDefaultsOnEmptyAnswers(t *testing.T) {
	var out bytes.Buffer
	in := strings.Repeat("\n", 8)

	cfg, err := NewWizard(strings.NewReader(in), &out).Run(nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Agent, cfg.Agent)
	assert.Equal(t, "queue", cfg.Pipeline.Overflow)
	assert.Contains(t, out.String(), "Atlas Configuration Wizard")
}

func TestWizardRepromptsOnInvalidAnswer(t *testing.T) {
	var out bytes.Buffer
	answers := []string{
		"calc",
		"calculator,math.*",
		"abc",
		"1500",
		"2",
		"drop",
		"reject",
		"sqlite",
		"http",
		"127.0.0.1:9000",
		"debug",
	}

	cfg, err := NewWizard(strings.NewReader(strings.Join(answers, "\n")), &out).Run(nil)

	require.NoError(t, err)
	assert.Equal(t, "calc", cfg.Agent.Name)
	assert.Equal(t, []string{"calculator", "math.*"}, cfg.Agent.Capabilities)
	assert.Equal(t, 1500, cfg.Pipeline.DefaultTimeoutMs)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, "reject", cfg.Pipeline.Overflow)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Contains(t, out.String(), "not a number")
	assert.Contains(t, out.String(), "invalid overflow policy")
	assert.NoError(t, cfg.Validate())
}

func TestWizardAbortsOnEOF(t *testing.T) {
	_, err := NewWizard(strings.NewReader("calc\n"), &bytes.Buffer{}).Run(nil)
	assert.Error(t, err)
}
