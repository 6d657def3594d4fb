package models

import "time"

// NetworkTraffic is a point sample of interface byte counters in KB.
//
// The counters are cumulative since boot; they are not per-second rates.
type NetworkTraffic struct {
	UpKB   int64 `json:"up"`
	DownKB int64 `json:"down"`
}

// MemoryDetails holds the raw figures behind MemoryPercent (MB).
type MemoryDetails struct {
	UsedMB  int64 `json:"used"`
	TotalMB int64 `json:"total"`
}

// DiskDetails holds the human-readable df figures for the root filesystem.
type DiskDetails struct {
	Used  string `json:"used"`
	Total string `json:"total"`
}

// ServerStatus is a parsed health snapshot.
//
// When Online is false every metric is zero and LastCheck is the probe time.
type ServerStatus struct {
	ID            string          `json:"id"`
	Online        bool            `json:"online"`
	Uptime        string          `json:"uptime,omitempty"`
	CPUPercent    int             `json:"cpu,omitempty"`
	MemoryPercent int             `json:"memory,omitempty"`
	DiskPercent   int             `json:"disk,omitempty"`
	LoadAverage   string          `json:"load,omitempty"`
	Network       *NetworkTraffic `json:"network,omitempty"`
	MemoryDetails *MemoryDetails  `json:"memoryDetails,omitempty"`
	DiskDetails   *DiskDetails    `json:"diskDetails,omitempty"`
	LastCheck     time.Time       `json:"lastCheck"`
	Error         string          `json:"error,omitempty"`
}

// StatusSample is one point in a server's metric history.
type StatusSample struct {
	At            time.Time `json:"at"`
	CPUPercent    int       `json:"cpu"`
	MemoryPercent int       `json:"memory"`
	DiskPercent   int       `json:"disk"`
	NetworkDownKB int64     `json:"networkDown"`
}
