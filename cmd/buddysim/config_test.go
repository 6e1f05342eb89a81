package main

import (
	"testing"

	"github.com/cloudwego/buddy/malloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("testdata/split.toml")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MinOrder)
	assert.Equal(t, 20, cfg.MaxOrder)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DumpEach)
	require.Len(t, cfg.Ops, 5)
	assert.Equal(t, Op{Kind: opAlloc, Name: "a", Size: 5000}, cfg.Ops[0])
	assert.Equal(t, Op{Kind: opFree, Name: "b"}, cfg.Ops[3])

	_, err = LoadConfig("testdata/missing.toml")
	assert.Error(t, err)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(`
[[op]]
kind = "dump"
`)
	require.NoError(t, err)
	assert.Equal(t, malloc.DefaultMinOrder, cfg.MinOrder)
	assert.Equal(t, malloc.DefaultMaxOrder, cfg.MaxOrder)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Locked)

	// an explicit zero is kept
	cfg, err = ParseConfig("min_order = 0\nmax_order = 4\n")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MinOrder)
	assert.Equal(t, 4, cfg.MaxOrder)
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "min_order = "},
		{"unknown_key", "page_size = 4096\n"},
		{"min_gt_max", "min_order = 13\nmax_order = 12\n"},
		{"max_too_large", "max_order = 40\n"},
		{"log_level", "log_level = \"loud\"\n"},
		{"unknown_kind", "[[op]]\nkind = \"realloc\"\n"},
		{"free_without_name", "[[op]]\nkind = \"free\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.data)
			assert.Error(t, err)
		})
	}
}
