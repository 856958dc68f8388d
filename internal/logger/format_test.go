package logger

import (
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/logspec"
)

func sampleRecord() *Record {
	return &Record{
		Time:    time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC),
		Level:   logspec.LevelWarning,
		Name:    "bluetooth.hci",
		Message: "timeout",
		Fields:  []Field{Hex("opcode", 0x0c03), String("note", "two words")},
	}
}

func TestTextFormatter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{
			name:   "padding and appended fields",
			format: "%(asctime)s %(levelname)-8s %(name)s: %(message)s",
			want:   `2026-03-01 12:30:45,123 WARNING  bluetooth.hci: timeout opcode=0x0c03 note="two words"`,
		},
		{
			name:   "explicit fields and numeric tokens",
			format: "%(levelno)d|%(msecs)03d|%%|%(fields)s|%(message)r",
			want:   `30|123|%|opcode=0x0c03 note="two words"|"timeout"`,
		},
		{
			name:   "thread name",
			format: "[%(threadName)s] %(message)s %(fields)s",
			want:   `[MainThread] timeout opcode=0x0c03 note="two words"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := NewFormatter(tt.format, logspec.DefaultDateFormat)
			require.NoError(t, err)
			assert.False(t, f.NeedsCaller())
			assert.Equal(t, tt.want, f.Format(sampleRecord()))
		})
	}
}

func TestTextFormatterRejectsBadFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{
		"%(bogus)s",
		"100% done",
		"%(name)",
		"%(message",
	} {
		_, err := NewFormatter(format, "")
		assert.Error(t, err, format)
	}
}

func TestTextFormatterCallSite(t *testing.T) {
	t.Parallel()

	f, err := NewFormatter("%(module)s:%(funcName)s", "")
	require.NoError(t, err)
	require.True(t, f.NeedsCaller())

	var pcs [1]uintptr
	runtime.Callers(1, pcs[:])
	r := sampleRecord()
	r.Fields = nil
	r.PC = pcs[0]
	assert.Equal(t, "format_test:TestTextFormatterCallSite", f.Format(r))
}

func TestJSONFormatter(t *testing.T) {
	t.Parallel()

	f, err := NewFormatter("json", logspec.DefaultDateFormat)
	require.NoError(t, err)

	r := sampleRecord()
	r.Fields = append(r.Fields, Int("count", 3))
	line := f.Format(r)
	assert.NotContains(t, line, "\n")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "2026-03-01 12:30:45,123", got["time"])
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "timeout", got["msg"])
	assert.Equal(t, "bluetooth.hci", got["logger"])
	assert.Equal(t, "0x0c03", got["opcode"])
	assert.InDelta(t, 3, got["count"], 0)
}

func TestFieldText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "<nil>", fieldText(nil))
	assert.Equal(t, `""`, fieldText(""))
	assert.Equal(t, "1.235", fieldText(1.23456))
	assert.Equal(t, "true", fieldText(true))
	assert.Equal(t, "0x0000", fieldText(hexValue(0)))
	assert.Equal(t, "0x12345", fieldText(hexValue(0x12345)))
}
