package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootCommandHasServe(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.Equal(t, "serve", cmd.Name())
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestSetup_WiresFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  base_url: http://127.0.0.1:1/v1
  model: gpt-4o
  api_key_env: SETUP_TEST_KEY
history:
  backend: sqlite
`), 0o600))
	t.Setenv("SETUP_TEST_KEY", "sk-test")

	a, cleanup, err := setup(&globalFlags{configPath: path, logLevel: "error"}, io.Discard)
	require.NoError(t, err)
	defer cleanup()

	require.Equal(t, "gpt-4o", a.cfg.LLM.Model)
	require.True(t, a.store.Indexed())
	require.NotNil(t, a.turns)
}

func TestSetup_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: fax\n"), 0o600))

	_, _, err := setup(&globalFlags{configPath: path}, io.Discard)
	require.Error(t, err)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
