package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember2.co/relay/internal/config"
	"remember2.co/relay/internal/migrate"
)

type fakeRunner struct {
	up, seed, status []string
	down             string
	downErr          error
}

func (f *fakeRunner) Up(context.Context) ([]string, error)     { return f.up, nil }
func (f *fakeRunner) Seed(context.Context) ([]string, error)   { return f.seed, nil }
func (f *fakeRunner) Down(context.Context) (string, error)     { return f.down, f.downErr }
func (f *fakeRunner) Status(context.Context) ([]string, error) { return f.status, nil }

func execute(t *testing.T, r runner, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	withRunner := func(fn func(context.Context, runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error { return fn(cmd.Context(), r) }
	}
	root := &cobra.Command{Use: "relay-migrate", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(commands(&out, withRunner)...)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestCommands(t *testing.T) {
	r := &fakeRunner{
		up:     []string{"0001_callers.up.sql"},
		status: []string{"0001_callers.up.sql"},
		down:   "0001_callers.up.sql",
	}
	assert.Equal(t, "0001_callers.up.sql\n", execute(t, r, "up"))
	assert.Equal(t, "nothing to seed\n", execute(t, r, "seed"))
	assert.Equal(t, "0001_callers.up.sql\n", execute(t, r, "status"))
	assert.Equal(t, "0001_callers.up.sql\n", execute(t, r, "down"))

	r.downErr = migrate.ErrNothingApplied
	assert.Equal(t, "nothing to roll back\n", execute(t, r, "down"))
}

func TestMissingDSN(t *testing.T) {
	t.Setenv("RELAY_DIRECTORY_POSTGRES_DSN", "")
	var out bytes.Buffer
	cmd := newRootCmd(config.New(), &out)
	cmd.SetArgs([]string{"status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing DSN")
}
