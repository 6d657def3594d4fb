package status

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tOgg1/hostdeck/internal/models"
)

// ErrUnparseable is wrapped by every parser error.
var ErrUnparseable = errors.New("unparseable output")

var uptimePattern = regexp.MustCompile(`up\s+(.*?),`)

func parseErr(what, output string) error {
	return fmt.Errorf("%s: %w: %q", what, ErrUnparseable, strings.TrimSpace(output))
}

// ParseUptime extracts the human text between "up" and the next comma of
// `uptime` output, e.g. "3 days".
func ParseUptime(output string) (string, error) {
	m := uptimePattern.FindStringSubmatch(output)
	if m == nil {
		return "", parseErr("uptime", output)
	}
	up := strings.TrimSpace(m[1])
	if up == "" {
		return "", parseErr("uptime", output)
	}
	return up, nil
}

// ParseCPU computes busy percent from the aggregate "cpu " line of
// /proc/stat as (user+nice+system) / (user+nice+system+idle).
//
// The counters are cumulative since boot, so this is the average load since
// boot rather than current utilisation.
func ParseCPU(output string) (int, error) {
	fields := strings.Fields(output)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, parseErr("cpu", output)
	}

	var vals [4]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return 0, parseErr("cpu", output)
		}
		vals[i] = v
	}
	user, nice, system, idle := vals[0], vals[1], vals[2], vals[3]

	total := user + nice + system + idle
	if total <= 0 {
		return 0, parseErr("cpu", output)
	}
	return percent(total-idle, total), nil
}

// ParseMemory reads the "Mem:" row of `free -m`.
func ParseMemory(output string) (int, models.MemoryDetails, error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) < 2 {
		return 0, models.MemoryDetails{}, parseErr("memory", output)
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return 0, models.MemoryDetails{}, parseErr("memory", output)
	}
	total, err1 := strconv.ParseInt(fields[1], 10, 64)
	used, err2 := strconv.ParseInt(fields[2], 10, 64)
	if err1 != nil || err2 != nil || total <= 0 {
		return 0, models.MemoryDetails{}, parseErr("memory", output)
	}

	return percent(float64(used), float64(total)), models.MemoryDetails{UsedMB: used, TotalMB: total}, nil
}

// ParseDisk reads the root filesystem row of `df -h`. The fifth column is the
// use percentage.
func ParseDisk(output string) (int, models.DiskDetails, error) {
	fields := strings.Fields(output)
	if len(fields) < 5 {
		return 0, models.DiskDetails{}, parseErr("disk", output)
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
	if err != nil {
		return 0, models.DiskDetails{}, parseErr("disk", output)
	}
	return pct, models.DiskDetails{Used: fields[2], Total: fields[1]}, nil
}

// ParseLoad returns the first three fields of /proc/loadavg.
func ParseLoad(output string) (string, error) {
	fields := strings.Fields(output)
	if len(fields) < 3 {
		return "", parseErr("load", output)
	}
	for _, f := range fields[:3] {
		if _, err := strconv.ParseFloat(f, 64); err != nil {
			return "", parseErr("load", output)
		}
	}
	return strings.Join(fields[:3], " "), nil
}

// ParseNetwork reads the first interface row of /proc/net/dev: field 1 is
// bytes received and field 9 bytes sent. Values are cumulative KB.
func ParseNetwork(output string) (models.NetworkTraffic, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	// Older kernels print "eth0:123" without a space after the colon.
	line = strings.Replace(line, ":", " ", 1)

	fields := strings.Fields(line)
	if len(fields) < 10 {
		return models.NetworkTraffic{}, parseErr("network", output)
	}
	received, err1 := strconv.ParseInt(fields[1], 10, 64)
	sent, err2 := strconv.ParseInt(fields[9], 10, 64)
	if err1 != nil || err2 != nil {
		return models.NetworkTraffic{}, parseErr("network", output)
	}

	return models.NetworkTraffic{
		DownKB: int64(math.Round(float64(received) / 1024)),
		UpKB:   int64(math.Round(float64(sent) / 1024)),
	}, nil
}

func percent(part, total float64) int {
	return int(math.Round(part / total * 100))
}
