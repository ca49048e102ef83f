package database

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

// fakeDumpRunner writes a fixed payload to the command's stdout.
type fakeDumpRunner struct {
	// payload is written as pg_dump output.
	payload []byte
	// diagnostics is written to the command's stderr.
	diagnostics string
	// err is returned after writing the payload.
	err error
	// cmd records the last command.
	cmd *common.Command
}

// Run records the command and emits the payload.
func (f *fakeDumpRunner) Run(_ context.Context, cmd *common.Command) error {
	f.cmd = cmd

	if _, err := cmd.Stdout.Write(f.payload); err != nil {
		return err
	}

	if _, err := io.WriteString(cmd.Stderr, f.diagnostics); err != nil {
		return err
	}

	return f.err
}

// testParams returns connection parameters used across tests.
func testParams() Params {
	return Params{Name: "gameserver", Host: "db", Port: "5432", User: "gameserver", Password: "secret"}
}

// TestDump_WritesCompressedFile runs a dump into a fresh directory and reads it back.
func TestDump_WritesCompressedFile(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 8192)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	runner := &fakeDumpRunner{payload: payload}
	dir := filepath.Join(t.TempDir(), "db_copy")
	now := time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)

	path, err := Dump(context.Background(), runner, testParams(), &DumpOptions{
		Dir:     dir,
		Package: "gameserver",
		User:    "postgres",
		MinSize: 1024,
		Now:     now,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "gameserver_20240309170405.sql.gz"), path)

	require.Equal(t, "pg_dump", runner.cmd.Name)
	require.Equal(t, []string{"--dbname=gameserver", "--host=db", "--port=5432", "--username=postgres"}, runner.cmd.Args)

	file, err := os.Open(path)
	require.NoError(t, err)

	defer func() {
		_ = file.Close()
	}()

	reader, err := pgzip.NewReader(file)
	require.NoError(t, err)

	restored, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, payload, restored)
}

// TestDump_TooSmall aborts even though pg_dump reported success.
func TestDump_TooSmall(t *testing.T) {
	t.Parallel()

	runner := &fakeDumpRunner{payload: []byte("-- empty dump\n")}

	_, err := Dump(context.Background(), runner, testParams(), &DumpOptions{
		Dir:     t.TempDir(),
		Package: "gameserver",
		User:    "postgres",
		MinSize: 50_000,
	})
	require.ErrorIs(t, err, ErrDumpTooSmall)
}

// TestDump_CommandFailure propagates a pg_dump failure and removes the partial file.
func TestDump_CommandFailure(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	runner := &fakeDumpRunner{
		payload:     []byte("-- partial"),
		diagnostics: "pg_dump: error: connection refused\n",
		err:         common.ErrCommandNotFound,
	}

	path, err := Dump(context.Background(), runner, testParams(), &DumpOptions{
		Dir:     t.TempDir(),
		Package: "gameserver",
		MinSize: 1,
		Stderr:  &stderr,
	})
	require.ErrorIs(t, err, common.ErrCommandNotFound)
	require.Contains(t, stderr.String(), "connection refused")

	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

// TestCheckDump_Missing reports a dump file that was never written.
func TestCheckDump_Missing(t *testing.T) {
	t.Parallel()

	err := CheckDump(filepath.Join(t.TempDir(), "absent.sql.gz"), 1)
	require.ErrorIs(t, err, ErrDumpMissing)
}

// TestCheckDump_Boundary rejects a dump exactly at the threshold.
func TestCheckDump_Boundary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dump.sql.gz")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))

	require.ErrorIs(t, CheckDump(path, 100), ErrDumpTooSmall)
	require.NoError(t, CheckDump(path, 99))
}
