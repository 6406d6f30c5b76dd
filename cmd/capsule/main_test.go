package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
)

// answerModule exports "answer", which returns the i32 42.
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

// isolate keeps the user's config files and CAPSULE_* variables out of a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writePlugin(t *testing.T, dir, class string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, class+".wasm"), answerModule, 0o600))
	desc := "class: " + class + "\ninterface: demo.iAnswer\nversion: 1.0.0\ndescription: answers\nmodule: " + class + ".wasm\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, class+".capsule.yaml"), []byte(desc), 0o600))
}

func TestClasses(t *testing.T) {
	dir := isolate(t)
	plugins := filepath.Join(dir, "plugins")
	require.NoError(t, os.MkdirAll(plugins, 0o755))
	writePlugin(t, plugins, "demo.alpha")
	writePlugin(t, plugins, "demo.beta")
	writePlugin(t, plugins, "other.gamma")

	out, err := run(t, "classes", "--plugin-path", plugins)
	require.NoError(t, err)
	assert.Equal(t, "demo.alpha\ndemo.beta\nother.gamma\n", out)

	out, err = run(t, "classes", "demo.", "--plugin-path", plugins)
	require.NoError(t, err)
	assert.Equal(t, "demo.alpha\ndemo.beta\n", out)

	out, err = run(t, "classes", "*.gamma", "--plugin-path", plugins)
	require.NoError(t, err)
	assert.Equal(t, "other.gamma\n", out)
}

func TestDescribe(t *testing.T) {
	dir := isolate(t)
	writePlugin(t, dir, "demo.alpha")

	out, err := run(t, "describe", "demo.alpha", "--plugin-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "class_id: demo.alpha")
	assert.Contains(t, out, "description: answers")
	assert.Contains(t, out, "interface: demo.iAnswer")
	assert.Contains(t, out, "loaded: false")

	_, err = run(t, "describe", "demo.missing", "--plugin-path", dir)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestCreate(t *testing.T) {
	dir := isolate(t)
	writePlugin(t, dir, "demo.alpha")

	out, err := run(t, "create", "demo.alpha", "--plugin-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "created demo.alpha after 1 attempt(s)")
	assert.Contains(t, out, "refcount: 1")
	assert.Contains(t, out, "demo.iAnswer@1.0.0")

	_, err = run(t, "create", "demo.missing", "--retries", "2", "--plugin-path", dir)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestCreate_RetriesConstructionFailure(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wasm"), []byte("junk"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.capsule.yaml"),
		[]byte("class: demo.broken\nmodule: broken.wasm\n"), 0o600))

	_, err := run(t, "create", "demo.broken", "--retries", "1", "--plugin-path", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrConstructionFailed)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestJournalList(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "journal.db")

	store, err := journal.NewSQLiteStore(path)
	require.NoError(t, err)
	e := event.New(event.TypeCommand, event.WithCommand(event.CommandUser, nil))
	require.NoError(t, e.AddString("payload", "hi"))
	data, err := e.Flatten()
	require.NoError(t, err)
	require.NoError(t, store.Append("main", 7, data))
	require.NoError(t, store.Append("main", 8, []byte("garbage")))
	require.NoError(t, store.Close())

	out, err := run(t, "journal", "list", "--journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "main\t7\t")
	assert.Regexp(t, `command id=\S+ attrs=1`, out)
	assert.Contains(t, out, "main\t8\t")
	assert.Contains(t, out, "undecodable")

	_, err = run(t, "journal", "list")
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)
}

func TestEventDecode(t *testing.T) {
	dir := isolate(t)

	inner := event.New(event.TypeKeyDown)
	require.NoError(t, inner.AddInt32("code", 65))

	e := event.New(event.TypeCommand, event.WithCategory(2, 3), event.WithTime(99))
	require.NoError(t, e.AddString("payload", "hi"))
	require.NoError(t, e.AddBuffer("raw", []byte{0xca, 0xfe}))
	require.NoError(t, e.AddEvent("inner", inner))
	data, err := e.Flatten()
	require.NoError(t, err)

	path := filepath.Join(dir, "event.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := run(t, "event", "decode", path)
	require.NoError(t, err)
	assert.Contains(t, out, "type: command")
	assert.Contains(t, out, "category: 2/3")
	assert.Contains(t, out, "time: 99")
	assert.Contains(t, out, "payload (string): hi")
	assert.Contains(t, out, "raw (buffer): cafe")
	assert.Contains(t, out, "inner (event):")
	assert.Contains(t, out, "    type: key_down")
	assert.Contains(t, out, "code (int32): 65")

	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))
	_, err = run(t, "event", "decode", path)
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)
}

func TestLoadSettings(t *testing.T) {
	dir := isolate(t)

	s, err := loadSettings("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)
	assert.Equal(t, 16, s.MaxDepth)
	assert.True(t, s.AtomicRefCounts)

	cfg := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("queue:\n  max_depth: 8\n  drain_limit: 3\n"), 0o600))
	t.Setenv("CAPSULE_QUEUE_MAX_DEPTH", "4")
	t.Setenv("CAPSULE_OBJECTS_ATOMIC_REFCOUNTS", "false")

	s, err = loadSettings(cfg, pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)
	assert.Equal(t, 4, s.MaxDepth, "environment beats the file")
	assert.Equal(t, 3, s.DrainLimit)
	assert.False(t, s.AtomicRefCounts)

	_, err = loadSettings(filepath.Join(dir, "missing.yaml"), pflag.NewFlagSet("test", pflag.ContinueOnError))
	assert.Error(t, err)
}

func TestLoadSettings_DefaultFileInWorkingDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capsule.yaml"), []byte("deadletter:\n  max_attempts: 9\n"), 0o600))

	s, err := loadSettings("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)
	assert.Equal(t, 9, s.DeadLetterMaxAttempts)
}
