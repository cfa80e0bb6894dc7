package ident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		index  int
		want   string
	}{
		{PrefixRequirement, 1, "req-0001"},
		{PrefixRequirement, 2, "req-0002"},
		{PrefixAcceptance, 10, "ac-0010"},
		{PrefixImpact, 1, "ia-0001"},
		{PrefixTask, 9999, "task-9999"},
		{PrefixTask, 12345, "task-12345"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Sequential(tt.prefix, tt.index))
		})
	}
}

func TestNewIsUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestExecution(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 19, 19, 30, 5, 0, time.UTC)
	id := Execution(now)
	assert.Regexp(t, `^exec-20251019-193005-[0-9a-f]{8}$`, id)
}

func TestCanonicalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "empty map",
			input: map[string]any{},
			want:  "{}",
		},
		{
			name:  "sorted keys",
			input: map[string]any{"z": 1, "a": 2, "m": 3},
			want:  `{"a":2,"m":3,"z":1}`,
		},
		{
			name: "nested maps",
			input: map[string]any{
				"outer": map[string]any{"z": "last", "a": "first"},
			},
			want: `{"outer":{"a":"first","z":"last"}}`,
		},
		{
			name:  "arrays preserved",
			input: map[string]any{"items": []any{"z", "a", "m"}},
			want:  `{"items":["z","a","m"]}`,
		},
		{
			name: "struct fields sorted by name",
			input: struct {
				Zeta  string `json:"zeta"`
				Alpha string `json:"alpha"`
			}{"z", "a"},
			want: `{"alpha":"a","zeta":"z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalJSONUnsupported(t *testing.T) {
	_, err := CanonicalJSON(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := map[string]any{"type": "object", "properties": map[string]any{"x": 1, "y": 2}}
	b := map[string]any{"properties": map[string]any{"y": 2, "x": 1}, "type": "object"}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 16)

	fc, err := Fingerprint(map[string]any{"type": "array"})
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}
