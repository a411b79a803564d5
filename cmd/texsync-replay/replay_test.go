package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func runScenario(t *testing.T, path string) (*bytes.Buffer, error) {
	t.Helper()

	sc, err := loadScenario(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	r, err := newReplayer(sc, slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)
	defer r.Close()

	return &buf, r.run(sc.Steps)
}

func TestReplay_Layers(t *testing.T) {
	out, err := runScenario(t, "testdata/layers.toml")
	require.NoError(t, err)
	require.Contains(t, out.String(), "layerGranular=true")
	require.Contains(t, out.String(), "msg=release_view")
}

func TestReplay_CopyDependency(t *testing.T) {
	out, err := runScenario(t, "testdata/copy.toml")
	require.NoError(t, err)
	require.Contains(t, out.String(), "copyDependencies=true")
}

func TestReplay_ExpectationFailure(t *testing.T) {
	path := writeScenario(t, `
[[storage]]
name = "tex"
width = 64
height = 64
address = 0x10000

[[step]]
op = "write"
address = 0x10000
data = [1]

[[step]]
op = "check"
texture = "tex"
expect_dirty = false
`)

	_, err := runScenario(t, path)
	require.ErrorIs(t, err, errExpectation)
}

func TestReplay_UnknownTexture(t *testing.T) {
	path := writeScenario(t, `
[[step]]
op = "use"
texture = "ghost"
`)

	_, err := runScenario(t, path)
	require.ErrorIs(t, err, errScenario)
}

func TestReplay_ReleaseStorageRejected(t *testing.T) {
	path := writeScenario(t, `
[[storage]]
name = "tex"
width = 64
height = 64

[[step]]
op = "release_view"
texture = "tex"
`)

	_, err := runScenario(t, path)
	require.ErrorIs(t, err, errScenario)
}
