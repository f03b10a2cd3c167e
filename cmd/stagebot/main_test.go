package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":         "ws://localhost:8080/api/ws/sync",
		"https://stage.example.org/":    "wss://stage.example.org/api/ws/sync",
		"https://stage.example.org/sub": "wss://stage.example.org/sub/api/ws/sync",
	}
	for in, want := range cases {
		got, err := syncURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
