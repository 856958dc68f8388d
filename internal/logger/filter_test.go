package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/logspec"
)

func TestFilterChain(t *testing.T) {
	t.Parallel()

	filters, err := compileFilters([]logspec.FilterSpec{
		{Kind: logspec.FilterRegex, Pattern: "^keepalive", Action: logspec.ActionExclude, Enabled: true},
		{Kind: logspec.FilterModule, Pattern: "bluetooth.sdp", Action: logspec.ActionExclude, Enabled: false},
		{Kind: logspec.FilterModule, Pattern: "bluetooth.hci", Action: logspec.ActionInclude, Enabled: true},
		{Kind: logspec.FilterRegex, Pattern: "never reached", Action: logspec.ActionExclude, Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, filters, 3, "disabled filters are dropped")

	tests := []struct {
		name, logger, msg string
		want              bool
	}{
		{"exclude match drops", "bluetooth.hci", "keepalive sent", false},
		{"include exact module", "bluetooth.hci", "reset", true},
		{"include descendant", "bluetooth.hci.evt", "inquiry complete", true},
		{"include match stops chain", "bluetooth.hci", "never reached", true},
		{"include miss drops", "bluetooth.l2cap", "frame", false},
		{"prefix is not a descendant", "bluetooth.hcidump", "frame", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, accept(filters, tt.logger, tt.msg))
		})
	}

	assert.True(t, accept(nil, "anything", "at all"))
}

func TestCompileFiltersBadRegex(t *testing.T) {
	t.Parallel()

	_, err := compileFilters([]logspec.FilterSpec{
		{Kind: logspec.FilterRegex, Pattern: "(", Action: logspec.ActionExclude, Enabled: true},
	})
	require.Error(t, err)
}
