package cmd

import (
	"bytes"
	"context"
	"io"
	"strings"
	gosync "sync"
	"testing"
	"time"

	kv "github.com/micro/go-kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	var out bytes.Buffer
	app := NewCmd().App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"kv", "--backend", "local", "--dir", dir}, args...))
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	ok := func(args ...string) string {
		out, err := run(t, dir, args...)
		require.NoError(t, err, strings.Join(args, " "))
		return out
	}

	ok("set", "user:1", `{"name": "ada", "age": 36}`)
	ok("set", "user:2", `{"name": "bob", "age": 25}`)
	ok("set", "--ttl", "1h", "--tag", "tmp", "note", "plain text")

	assert.Equal(t, `{"age":36,"name":"ada"}`+"\n", ok("get", "user:1"))
	assert.Equal(t, `"plain text"`+"\n", ok("get", "note"))
	assert.Equal(t, "note\nuser:1\nuser:2\n", ok("keys"))
	assert.Equal(t, "user:1\nuser:2\n", ok("keys", "--prefix", "user:"))
	assert.Equal(t, "user:2\n", ok("keys", "--match", `2$`))

	out := ok("query", "--sort=-age", "--project=name", `{"age": {"$gte": 20}}`)
	assert.Equal(t, `{"key":"user:1","value":{"name":"ada"}}`+"\n"+`{"key":"user:2","value":{"name":"bob"}}`+"\n", out)

	out = ok("query", "--limit=1", "--offset=1")
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, `"key":"user:1"`)

	assert.Equal(t, "never\n", ok("ttl", "user:1"))
	assert.NotEqual(t, "never\n", ok("ttl", "note"))
	assert.True(t, strings.HasPrefix(ok("expiring", "--within", "2h"), "note\t"))
	assert.Empty(t, ok("expiring", "--within", "1m"))
	assert.Equal(t, "visited 3, removed 0\n", ok("sweep"))

	ok("clear", "--tag", "tmp")
	assert.Equal(t, "user:1\nuser:2\n", ok("keys"))

	ok("rm", "user:1")
	_, err := run(t, dir, "get", "user:1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	ok("clear")
	assert.Empty(t, ok("keys"))
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "get")
	assert.EqualError(t, err, "missing key")

	_, err = run(t, dir, "set", "k")
	assert.EqualError(t, err, "missing value")

	_, err = run(t, dir, "rm")
	assert.Error(t, err)

	_, err = run(t, dir, "keys", "--match", "(")
	assert.Error(t, err)

	_, err = run(t, dir, "query", `{"name": {"$regex": "("}}`)
	assert.Error(t, err)

	_, err = run(t, dir, "--backend", "tape", "keys")
	assert.EqualError(t, err, `unknown backend "tape"`)
}

type buffer struct {
	gosync.Mutex
	b bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.b.Write(p)
}

func (b *buffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.b.String()
}

func TestFollow(t *testing.T) {
	k, err := kv.New()
	require.NoError(t, err)
	defer k.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out buffer
	done := make(chan error)
	go func() {
		done <- follow(ctx, &out, k)
	}()

	require.Eventually(t, func() bool {
		// the subscription may not exist yet, keep writing
		_ = k.Set(context.Background(), "k", "v")
		return strings.Contains(out.String(), `"key":"k"`)
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), `"source":"local"`)
	assert.Contains(t, out.String(), `"value":"v"`)
}
