package jobpipeline

import (
	"context"
	"time"

	"github.com/roadrunner-server/jobpipeline/v5/container"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type Logger interface {
	NamedLogger(name string) *zap.Logger
}

type Tracer interface {
	Tracer() *sdktrace.TracerProvider
}

type Configurer interface {
	// UnmarshalKey takes a single key and unmarshal it into a Struct.
	UnmarshalKey(name string, out any) error
	// Has checks if config section exists.
	Has(name string) bool
}

// JobProvider is implemented by the plugins registering jobs, functions, bindings
// and passable types used by the pipelines.
type JobProvider interface {
	RegisterJobs(c *container.Container) error
}

// Queue is the priority queue shared by the drivers and the pollers.
type Queue interface {
	// Insert the item, blocks while the queue is full
	Insert(item *Item)
	// ExtractMin returns the item with the lowest priority value, blocks while the queue is empty
	ExtractMin() *Item
	Len() uint64
}

// Driver delivers the items of a connection into the Queue.
type Driver interface {
	// Push the item, respecting its delay
	Push(ctx context.Context, item *Item) error
	// Ack the successfully processed item
	Ack(item *Item) error
	// Nack the item which is not going to be retried
	Nack(item *Item) error
	// Requeue the item for another attempt after the delay
	Requeue(item *Item, delay time.Duration) error
	State(ctx context.Context) (*State, error)
	Stop(ctx context.Context) error
}

// Constructor creates the drivers for the connections.
type Constructor interface {
	Name() string
	DriverFromConfig(connection string, cfg *ConnectionConfig, queue Queue) (Driver, error)
}

// State of the connection.
type State struct {
	Connection string `json:"connection"`
	Driver     string `json:"driver"`
	Pushed     int64  `json:"pushed"`
	Delayed    int64  `json:"delayed"`
	Processed  int64  `json:"processed"`
	Requeued   int64  `json:"requeued"`
	Dead       int64  `json:"dead"`
}
