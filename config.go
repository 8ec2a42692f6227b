package jobpipeline

import (
	"runtime"
	"time"

	"github.com/roadrunner-server/errors"
)

const (
	defaultPriority   int64  = 10
	defaultConnection string = "memory"
)

// Config defines the queue, the pollers and the declarative pipelines.
type Config struct {
	// NumPollers configures the number of goroutines running the queued pipelines
	// Default - num logical cores
	NumPollers int `mapstructure:"num_pollers"`
	// PipelineSize is the limit of the priority queue
	PipelineSize uint64 `mapstructure:"pipeline_size"`
	// Timeout in seconds is the per-push limit to put the pipeline into the queue
	Timeout int `mapstructure:"timeout"`
	// DefaultQueued is the queue policy of the pipelines which don't set it
	DefaultQueued bool `mapstructure:"default_queued"`
	// DefaultConnection is used by the pipelines without a connection
	DefaultConnection string `mapstructure:"default_connection"`
	// MaxTries is used by the pipelines without max tries
	MaxTries int `mapstructure:"max_tries"`
	// Backoff between the attempts of a failed pipeline
	Backoff *BackoffConfig `mapstructure:"backoff"`
	// Options contain additional configuration options for the plugin
	CfgOptions *CfgOptions `mapstructure:"options"`
	// Connections map connection names to the drivers
	Connections map[string]*ConnectionConfig `mapstructure:"connections"`
	// Queues configure the priority of the named queues
	Queues map[string]*QueueConfig `mapstructure:"queues"`
	// Pipelines declare the pipelines of the named jobs bound to the events
	Pipelines map[string]Declaration `mapstructure:"pipelines"`
}

type CfgOptions struct {
	// Parallelism configures the number of drivers to be started at the same time
	Parallelism int `mapstructure:"parallelism"`
}

type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

type ConnectionConfig struct {
	// Driver name, memory by default
	Driver string `mapstructure:"driver"`
}

type QueueConfig struct {
	// Priority of the queue, lower value - higher priority
	Priority int64 `mapstructure:"priority"`
}

func (c *Config) InitDefaults() error {
	const op = errors.Op("jobpipeline_config_init_defaults")

	if c.NumPollers <= 0 {
		c.NumPollers = runtime.NumCPU()
	}

	if c.CfgOptions == nil {
		c.CfgOptions = &CfgOptions{
			Parallelism: 10,
		}
	}

	if c.CfgOptions.Parallelism == 0 {
		c.CfgOptions.Parallelism = 5
	}

	if c.PipelineSize == 0 {
		c.PipelineSize = 1_000_000
	}

	if c.Timeout == 0 {
		c.Timeout = 60
	}

	if c.MaxTries <= 0 {
		c.MaxTries = 1
	}

	if c.Backoff == nil {
		c.Backoff = &BackoffConfig{}
	}

	if c.Backoff.Initial == 0 {
		c.Backoff.Initial = time.Second
	}

	if c.Backoff.Max == 0 {
		c.Backoff.Max = time.Second * 30
	}

	if c.DefaultConnection == "" {
		c.DefaultConnection = defaultConnection
	}

	if c.Connections == nil {
		c.Connections = make(map[string]*ConnectionConfig)
	}

	if _, ok := c.Connections[defaultConnection]; !ok {
		c.Connections[defaultConnection] = &ConnectionConfig{Driver: memoryDriver}
	}

	for k := range c.Connections {
		if c.Connections[k] == nil {
			c.Connections[k] = &ConnectionConfig{}
		}
		if c.Connections[k].Driver == "" {
			c.Connections[k].Driver = memoryDriver
		}
	}

	if _, ok := c.Connections[c.DefaultConnection]; !ok {
		return errors.E(op, errors.Errorf("default connection is not configured: %s", c.DefaultConnection))
	}

	for k := range c.Queues {
		if c.Queues[k] == nil {
			c.Queues[k] = &QueueConfig{}
		}
		if c.Queues[k].Priority == 0 {
			c.Queues[k].Priority = defaultPriority
		}
	}

	for k := range c.Pipelines {
		if c.Pipelines[k] == nil {
			c.Pipelines[k] = Declaration{}
		}
		// set the pipeline name
		c.Pipelines[k].With(nameKey, k)
	}

	return nil
}

// priority of the named queue.
func (c *Config) priority(queue string) int64 {
	if q, ok := c.Queues[queue]; ok && q != nil {
		return q.Priority
	}

	return defaultPriority
}

func (c *Config) timeout() time.Duration {
	return time.Second * time.Duration(c.Timeout)
}
