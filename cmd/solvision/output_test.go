package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJQ(t *testing.T) {
	input := map[string]any{
		"status": "ready",
		"nodes": []map[string]any{
			{"id": "A", "transaction_count": 3},
			{"id": "B", "transaction_count": 1},
		},
	}

	tests := []struct {
		name    string
		filter  string
		want    []any
		wantErr string
	}{
		{
			name:   "identity field",
			filter: ".status",
			want:   []any{"ready"},
		},
		{
			name:   "length",
			filter: ".nodes | length",
			want:   []any{2},
		},
		{
			name:   "multiple outputs",
			filter: ".nodes[].id",
			want:   []any{"A", "B"},
		},
		{
			name:   "select",
			filter: `[.nodes[] | select(.transaction_count > 1) | .id]`,
			want:   []any{[]any{"A"}},
		},
		{
			name:    "parse error",
			filter:  ".nodes[",
			wantErr: "failed to parse jq filter",
		},
		{
			name:    "runtime error",
			filter:  ".status | keys",
			wantErr: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runJQ(tt.filter, input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short"))
	assert.Equal(t, "5VERv8NM...ZJwz1", shorten("5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp4xZJwz1"))
}

func TestFormatOptionalAddress(t *testing.T) {
	assert.Equal(t, "(unknown)", formatOptionalAddress(""))
	assert.Equal(t, "X", formatOptionalAddress("X"))
}
