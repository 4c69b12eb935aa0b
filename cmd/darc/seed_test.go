package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/config"
)

// TestSharedFrontierCommands tests argument checks that run before Redis is contacted.
func TestSharedFrontierCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  func() *cobra.Command
		args []string
		want error
	}{
		{name: "seed without redis", cmd: NewSeedCmd, args: []string{"http://a.onion/"}, want: errNoRedis},
		{name: "seed without urls", cmd: NewSeedCmd, args: []string{"--redis", "127.0.0.1:6379"}, want: config.ErrNoSeeds},
		{name: "seed with bad ttl", cmd: NewSeedCmd, args: []string{"--redis", "127.0.0.1:6379", "--cache-ttl", "later", "http://a.onion/"}, want: config.ErrInvalidTTL},
		{name: "reset without redis", cmd: NewResetCmd, args: []string{"http://a.onion/"}, want: errNoRedis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := tt.cmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)
			if err := cmd.Execute(); !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResetCmdArgs(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{}, {"http://a.onion/", "http://b.onion/"}} {
		cmd := NewResetCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--redis", "127.0.0.1:6379"}, args...))
		if err := cmd.Execute(); err == nil {
			t.Errorf("expected error for %d arguments", len(args))
		}
	}
}
