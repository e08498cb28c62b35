package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebug_TruthyValues(t *testing.T) {
	t.Setenv("DEBUG", "1")
	require.True(t, Debug())

	t.Setenv("DEBUG", "false")
	require.False(t, Debug())

	t.Setenv("DEBUG", "")
	require.False(t, Debug())
}

func TestErrorPassthrough_RecognizesOneAndTrue(t *testing.T) {
	t.Setenv("WRAPPER_ERROR_PASSTHROUGH", "1")
	require.True(t, ErrorPassthrough())

	t.Setenv("WRAPPER_ERROR_PASSTHROUGH", "true")
	require.True(t, ErrorPassthrough())

	t.Setenv("WRAPPER_ERROR_PASSTHROUGH", "0")
	require.False(t, ErrorPassthrough())

	t.Setenv("WRAPPER_ERROR_PASSTHROUGH", "")
	require.False(t, ErrorPassthrough())
}

func TestSuppressSummary_WrapperSummaryZero(t *testing.T) {
	t.Setenv("WRAPPER_SUMMARY", "0")
	require.True(t, SuppressSummary())
}

func TestSuppressSummary_WrapperNoSummaryTruthy(t *testing.T) {
	t.Setenv("WRAPPER_NO_SUMMARY", "yes")
	require.True(t, SuppressSummary())
}

func TestSuppressSummary_DefaultsFalse(t *testing.T) {
	require.False(t, SuppressSummary())
}

func TestInitTimeout_UsesEnvOverride(t *testing.T) {
	t.Setenv("WRAPPER_INIT_TIMEOUT_MS", "1500")
	require.Equal(t, 1500*time.Millisecond, InitTimeout())
}

func TestInitTimeout_FallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("WRAPPER_INIT_TIMEOUT_MS", "not-a-number")
	require.Equal(t, defaultInitTimeout, InitTimeout())

	t.Setenv("WRAPPER_INIT_TIMEOUT_MS", "-5")
	require.Equal(t, defaultInitTimeout, InitTimeout())
}

func TestToolsListTimeout_UsesEnvOverride(t *testing.T) {
	t.Setenv("WRAPPER_TOOLS_LIST_TIMEOUT_MS", "2500")
	require.Equal(t, 2500*time.Millisecond, ToolsListTimeout())
}

func TestToolsListTimeout_DefaultsWhenUnset(t *testing.T) {
	t.Setenv("WRAPPER_TOOLS_LIST_TIMEOUT_MS", "")
	require.Equal(t, defaultToolsListTimeout, ToolsListTimeout())
}

func TestTruthy_RecognizedSpellings(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "True", "yes", "on"} {
		require.Truef(t, truthy(v), "expected %q to be truthy", v)
	}

	for _, v := range []string{"0", "false", "no", "off", ""} {
		require.Falsef(t, truthy(v), "expected %q to not be truthy", v)
	}
}
