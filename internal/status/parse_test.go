package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/models"
)

const (
	sampleUptime  = " 12:34:56 up 3 days, 12:34,  2 users,  load average: 0.52, 0.58, 0.59\n"
	sampleFree    = "               total        used        free      shared  buff/cache   available\nMem:            7954        3977        1024         112        2953        3570\nSwap:           2047           0        2047\n"
	sampleDF      = "/dev/sda1        50G   21G   27G  44% /\n"
	sampleLoadavg = "0.52 0.58 0.59 1/389 12345\n"
	sampleStat    = "cpu  2255 34 2290 22625563 6290 127 456 0 0 0\n"
	sampleNetDev  = "  eth0: 1048576    2000    0    0    0     0          0         0  2097152    1500    0    0    0     0       0          0\n"
)

func TestParseUptime(t *testing.T) {
	got, err := ParseUptime(sampleUptime)
	require.NoError(t, err)
	assert.Equal(t, "3 days", got)

	got, err = ParseUptime(" 09:00:01 up 5 min,  1 user,  load average: 0.00, 0.01, 0.05")
	require.NoError(t, err)
	assert.Equal(t, "5 min", got)

	_, err = ParseUptime("garbage")
	assert.True(t, errors.Is(err, ErrUnparseable))
}

func TestParseCPU(t *testing.T) {
	got, err := ParseCPU("cpu  50 0 50 100")
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	got, err = ParseCPU(sampleStat)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = ParseCPU("cpu0 1 2 3 4")
	assert.Error(t, err)
	_, err = ParseCPU("cpu  0 0 0 0")
	assert.Error(t, err)
	_, err = ParseCPU("")
	assert.Error(t, err)
}

func TestParseMemory(t *testing.T) {
	pct, details, err := ParseMemory(sampleFree)
	require.NoError(t, err)
	assert.Equal(t, 50, pct)
	assert.Equal(t, models.MemoryDetails{UsedMB: 3977, TotalMB: 7954}, details)

	_, _, err = ParseMemory("only one line")
	assert.Error(t, err)
	_, _, err = ParseMemory("header\nMem: zero 0")
	assert.Error(t, err)
}

func TestParseDisk(t *testing.T) {
	pct, details, err := ParseDisk(sampleDF)
	require.NoError(t, err)
	assert.Equal(t, 44, pct)
	assert.Equal(t, models.DiskDetails{Used: "21G", Total: "50G"}, details)

	_, _, err = ParseDisk("")
	assert.Error(t, err)
}

func TestParseLoad(t *testing.T) {
	got, err := ParseLoad(sampleLoadavg)
	require.NoError(t, err)
	assert.Equal(t, "0.52 0.58 0.59", got)

	_, err = ParseLoad("0.1 0.2")
	assert.Error(t, err)
}

func TestParseNetwork(t *testing.T) {
	got, err := ParseNetwork(sampleNetDev)
	require.NoError(t, err)
	assert.Equal(t, models.NetworkTraffic{DownKB: 1024, UpKB: 2048}, got)

	got, err = ParseNetwork("eth0:2048 1 0 0 0 0 0 0 4096 1 0 0 0 0 0 0\nens3: 1 2 3 4 5 6 7 8 9 10")
	require.NoError(t, err)
	assert.Equal(t, models.NetworkTraffic{DownKB: 2, UpKB: 4}, got)

	_, err = ParseNetwork("")
	assert.Error(t, err)
}
