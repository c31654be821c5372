// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/planwatch/internal/util"
)

func TestMarker_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", ".orchestrator_watch.pid")

	m, err := AcquireMarker(path)
	require.NoError(t, err)

	pid, err := util.ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = AcquireMarker(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, m.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	m2, err := AcquireMarker(path)
	require.NoError(t, err)
	require.NoError(t, m2.Release())
}

func TestStopDaemon_NoMarker(t *testing.T) {
	_, err := StopDaemon(filepath.Join(t.TempDir(), ".orchestrator_watch.pid"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopDaemon_DeadPID(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())

	path := filepath.Join(t.TempDir(), ".orchestrator_watch.pid")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", cmd.Process.Pid)), 0600))

	res, err := StopDaemon(path)
	require.NoError(t, err)
	assert.False(t, res.Signalled)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStopDaemon_LiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	path := filepath.Join(t.TempDir(), ".orchestrator_watch.pid")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", cmd.Process.Pid)), 0600))

	res, err := StopDaemon(path)
	require.NoError(t, err)
	assert.True(t, res.Signalled)
	assert.Equal(t, cmd.Process.Pid, res.PID)

	err = cmd.Wait()
	assert.Error(t, err, "sleep must have been terminated")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
