package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"a=1", "b=", "c=x=y"})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got["a"])
	require.Contains(t, got, "b")
	require.Nil(t, got["b"])
	require.Equal(t, []byte("x=y"), got["c"])

	_, err = parsePairs(nil)
	require.Error(t, err)
	_, err = parsePairs([]string{"novalue"})
	require.Error(t, err)
	_, err = parsePairs([]string{"=v"})
	require.Error(t, err)
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"statexferd"}, args...)))
	return out.String()
}

func TestPutThenInspect(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STATEXFER_KV_BUCKETS", "4")

	out := run(t, "--datadir", dir, "put", "alpha=1", "beta=2")
	require.Contains(t, out, "seq:   1")

	out = run(t, "--datadir", dir, "put", "alpha=")
	require.Contains(t, out, "seq:   2")

	out = run(t, "--datadir", dir, "inspect", "--parts")
	require.Contains(t, out, "seq:   2")
	require.Contains(t, out, "parts: 4")
	require.Equal(t, 4, strings.Count(out, "seq="))
}

func TestInspect_Empty(t *testing.T) {
	out := run(t, "--datadir", t.TempDir(), "inspect")
	require.Contains(t, out, "no checkpoint")
}

func TestPut_RequiresDatadir(t *testing.T) {
	app := App()
	app.Writer = &bytes.Buffer{}
	require.Error(t, app.Run([]string{"statexferd", "put", "a=1"}))
}
