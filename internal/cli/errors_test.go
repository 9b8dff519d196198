package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", cause, ExitGeneral},
		{"config", ConfigError("loading config", cause), ExitConfig},
		{"query", QueryError("running query", cause), ExitQuery},
		{"connect", DBConnectError("connecting", cause), ExitDBConnect},
		{"unhealthy", UnhealthyError("2 checks failed"), ExitUnhealthy},
		{"wrapped", fmt.Errorf("outer: %w", ConfigError("inner", nil)), ExitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := DBConnectError("connecting to database", cause)

	assert.Equal(t, "connecting to database: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "2 checks failed", UnhealthyError("2 checks failed").Error())
}

func TestPrintError(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })

	var buf bytes.Buffer
	PrintError(&buf, QueryError("running query", errors.New("boom")))
	assert.Equal(t, "Error: running query: boom\n", buf.String())
}
