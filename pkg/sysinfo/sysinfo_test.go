package sysinfo

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortProcesses(t *testing.T) {
	procs := func() []Process {
		return []Process{
			{PID: 30, Name: "zsh", CPUPercent: 1, MemPercent: 5},
			{PID: 10, Name: "Bash", CPUPercent: 9, MemPercent: 1},
			{PID: 20, Name: "init", CPUPercent: 1, MemPercent: 7},
		}
	}
	pids := func(ps []Process) []int32 {
		var out []int32
		for _, p := range ps {
			out = append(out, p.PID)
		}
		return out
	}

	tests := []struct {
		sortBy string
		want   []int32
	}{
		{SortCPU, []int32{10, 20, 30}},
		{SortMem, []int32{20, 30, 10}},
		{SortPID, []int32{10, 20, 30}},
		{SortName, []int32{10, 20, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.sortBy, func(t *testing.T) {
			ps := procs()
			SortProcesses(ps, tt.sortBy)
			assert.Equal(t, tt.want, pids(ps))
		})
	}
}

func TestProcessesIncludesSelf(t *testing.T) {
	procs, err := Processes(context.Background(), SortPID, 0)
	require.NoError(t, err)

	found := false
	for _, p := range procs {
		if p.PID == int32(os.Getpid()) {
			found = true
		}
	}
	assert.True(t, found)

	limited, err := Processes(context.Background(), SortMem, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = Processes(context.Background(), "io", 5)
	assert.EqualError(t, err, `unknown sort key "io", expected cpu, mem, pid or name`)
}

func TestMemoryAndHost(t *testing.T) {
	m, err := GetMemory(context.Background())
	require.NoError(t, err)
	assert.Positive(t, m.Total)

	h, err := GetHost(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, h.Hostname)
	assert.Positive(t, h.CPUs)
}

func TestDisksSkipsPseudoFilesystems(t *testing.T) {
	disks, err := Disks(context.Background())
	require.NoError(t, err)
	for _, d := range disks {
		assert.False(t, pseudoFilesystems[d.Fstype], d.Mountpoint)
		assert.Positive(t, d.Total)
	}
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "1.0 KiB", Bytes(1024))
	assert.Equal(t, "1.5 GiB", Bytes(1610612736))
}
