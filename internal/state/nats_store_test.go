package state

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestClassifyUpdateError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"key exists", nats.ErrKeyExists, true},
		{"wrong sequence", errors.New("nats: wrong last sequence: 7"), true},
		{"unrelated", errors.New("nats: timeout"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyUpdateError(tc.err); got != tc.conflict {
				t.Fatalf("expected %v, got %v", tc.conflict, got)
			}
		})
	}
}
