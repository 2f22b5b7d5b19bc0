package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestLogCommand(t *testing.T) {
	out := run(t, "log", "--quiet", "--arena-pages", "64", "--producers", "4", "--messages", "5")
	for _, line := range []string{
		"producer 1 wrote 5 messages",
		"producer 4 wrote 5 messages",
		"total 20 messages, 0 dropped",
	} {
		assert.Contains(t, out, line)
	}
	assert.NotContains(t, out, "producer 1: child")
}

func TestShareCommand(t *testing.T) {
	out := run(t, "share", "--arena-pages", "64")
	assert.Contains(t, out, "Child size: 4096\n")
	assert.Contains(t, out, "Child size after shared memory: 8192\n")
	assert.Contains(t, out, "Child size after unmap: 4096\n")
	assert.Contains(t, out, "Child size after sbrk: 8192\n")
	assert.Contains(t, out, "Hello daddy\n")
}

func TestLoadConfigFlags(t *testing.T) {
	t.Setenv("SHMLOG_ARENA_NAME", "")
	arenaPages, maxProcs, devShm = 32, 4, true
	defer func() { arenaPages, maxProcs, devShm = 0, 0, false }()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Arena.Pages)
	assert.Equal(t, 4, cfg.Kernel.MaxProcs)
	assert.Regexp(t, `^shmlog-[0-9a-f-]{36}$`, cfg.Arena.Name)
}
