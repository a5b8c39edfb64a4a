package bench

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loadbench/loadbench/bench/trace"
)

// Config is the full testbed configuration, loadable from a YAML file.
// Every field has a default in DefaultConfig; the file only overrides.
type Config struct {
	Policy       string        `yaml:"policy"`
	Seed         int64         `yaml:"seed"`
	Capacity     float64       `yaml:"capacity"`
	SamplePeriod time.Duration `yaml:"sample_period"`
	BatchSize    int           `yaml:"batch_size"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	TraceLevel   string        `yaml:"trace_level"`

	Nodes     []NodeConfig    `yaml:"nodes"`
	Status    StatusConfig    `yaml:"status"`
	Collector CollectorConfig `yaml:"collector"`
	Clients   ClientsConfig   `yaml:"clients"`
}

// NodeConfig names one worker node and the address its request endpoint listens on.
type NodeConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// StatusConfig selects where nodes persist their latest status batch.
type StatusConfig struct {
	Backend      string        `yaml:"backend"` // "file" or "redis"
	Dir          string        `yaml:"dir"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
	PollInterval time.Duration `yaml:"poll_interval"` // router refresh period for backends without push
}

// CollectorConfig holds the monitor's listeners and aggregation window.
type CollectorConfig struct {
	ClientAddr string  `yaml:"client_addr"`
	NodeAddr   string  `yaml:"node_addr"`
	ReportPath string  `yaml:"report_path"`
	TrimStart  float64 `yaml:"trim_start"`
	TrimEnd    float64 `yaml:"trim_end"`
}

// ClientsConfig describes the synthetic client population.
type ClientsConfig struct {
	Count       int           `yaml:"count"`
	Requests    int           `yaml:"requests"`
	CPUCost     [2]float64    `yaml:"cpu_cost"`    // inclusive integer range, percent
	DurationMs  [2]float64    `yaml:"duration_ms"` // uniform range, milliseconds
	FixedCost   bool          `yaml:"fixed_cost"`  // one cost drawn per client, reused for every request
	Rate        float64       `yaml:"rate"`        // requests per second per client, 0 = back to back
	IDPrefix    string        `yaml:"id_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

const (
	StatusBackendFile  = "file"
	StatusBackendRedis = "redis"
)

// DefaultConfig returns the testbed defaults: two local nodes, a 20ms sample
// period with batches of one, and the collector on ports 6000/6001.
func DefaultConfig() Config {
	return Config{
		Policy:       string(PolicyRoundRobin),
		Seed:         42,
		Capacity:     DefaultCapacity,
		SamplePeriod: 20 * time.Millisecond,
		BatchSize:    1,
		IdleTimeout:  60 * time.Second,
		TraceLevel:   string(trace.TraceLevelNone),
		Nodes: []NodeConfig{
			{ID: "node-1", Address: "127.0.0.1:5001"},
			{ID: "node-2", Address: "127.0.0.1:5002"},
		},
		Status: StatusConfig{
			Backend:      StatusBackendFile,
			Dir:          "/tmp/server_status",
			PollInterval: 50 * time.Millisecond,
		},
		Collector: CollectorConfig{
			ClientAddr: "127.0.0.1:6000",
			NodeAddr:   "127.0.0.1:6001",
			ReportPath: "/tmp/server_status/report.txt",
			TrimStart:  0,
			TrimEnd:    1,
		},
		Clients: ClientsConfig{
			Count:       1,
			Requests:    20,
			CPUCost:     [2]float64{0, 40},
			DurationMs:  [2]float64{500, 1000},
			FixedCost:   true,
			IDPrefix:    "client",
			DialTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
// Unknown keys are errors so typos do not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// NodeIDs returns node IDs in configured order.
func (c *Config) NodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// NodeAddresses returns node ID -> address.
func (c *Config) NodeAddresses() map[string]string {
	addrs := make(map[string]string, len(c.Nodes))
	for _, n := range c.Nodes {
		addrs[n.ID] = n.Address
	}
	return addrs
}

// Node looks up a node by ID.
func (c *Config) Node(id string) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// Validate checks policy names, ranges and node identities.
func (c *Config) Validate() error {
	if !IsValidRoutingPolicy(c.Policy) {
		return fmt.Errorf("unknown routing policy %q", c.Policy)
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return fmt.Errorf("unknown trace level %q", c.TraceLevel)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %f", c.Capacity)
	}
	if c.SamplePeriod <= 0 {
		return fmt.Errorf("sample_period must be positive, got %v", c.SamplePeriod)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %v", c.IdleTimeout)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" || strings.ContainsAny(n.ID, `/\`) || n.ID == "." || n.ID == ".." {
			return fmt.Errorf("invalid node id %q", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Address == "" {
			return fmt.Errorf("node %q has no address", n.ID)
		}
	}
	switch c.Status.Backend {
	case StatusBackendFile:
		if c.Status.Dir == "" {
			return fmt.Errorf("status.dir is required for the file backend")
		}
	case StatusBackendRedis:
		if c.Status.RedisAddr == "" {
			return fmt.Errorf("status.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown status backend %q", c.Status.Backend)
	}
	col := c.Collector
	if col.TrimStart < 0 || col.TrimEnd > 1 || col.TrimStart >= col.TrimEnd {
		return fmt.Errorf("trim window must satisfy 0 <= trim_start < trim_end <= 1, got [%f, %f]", col.TrimStart, col.TrimEnd)
	}
	cl := c.Clients
	if cl.Count < 0 || cl.Requests < 0 {
		return fmt.Errorf("clients.count and clients.requests must be non-negative")
	}
	if cl.CPUCost[0] < 0 || cl.CPUCost[0] > cl.CPUCost[1] || cl.CPUCost[1] > 100 {
		return fmt.Errorf("clients.cpu_cost must be an ordered range within [0, 100], got %v", cl.CPUCost)
	}
	if cl.DurationMs[0] < 0 || cl.DurationMs[0] > cl.DurationMs[1] {
		return fmt.Errorf("clients.duration_ms must be an ordered non-negative range, got %v", cl.DurationMs)
	}
	if cl.Rate < 0 {
		return fmt.Errorf("clients.rate must be non-negative, got %f", cl.Rate)
	}
	return nil
}
