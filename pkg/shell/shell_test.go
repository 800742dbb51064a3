package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("HAP_PIN", "031-45-154")

	require.Equal(t, "pin: 031-45-154", ReplaceEnvVars("pin: ${HAP_PIN}"))
	require.Equal(t, "pin: 031-45-154", ReplaceEnvVars("pin: ${HAP_PIN:111-22-333}"))
	require.Equal(t, "port: 51827", ReplaceEnvVars("port: ${HAP_UNKNOWN_PORT:51827}"))
	require.Equal(t, "broker: ${HAP_UNKNOWN_BROKER}", ReplaceEnvVars("broker: ${HAP_UNKNOWN_BROKER}"))
	require.Equal(t, "empty: ", ReplaceEnvVars("empty: ${HAP_UNKNOWN_EMPTY:}"))
}
