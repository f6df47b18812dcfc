package redis

import "time"

// Options selects the Redis server and bounds every round trip. Backing reads
// sit on the request path, so timeouts default low.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Timeout applies to dialing, reads and writes alike.
	Timeout  time.Duration
	PoolSize int
	// ScanCount is the COUNT hint used when walking keys by prefix.
	ScanCount int64
}

const (
	defaultAddr      = "127.0.0.1:6379"
	defaultTimeout   = 500 * time.Millisecond
	defaultPoolSize  = 16
	defaultScanCount = 256
)

func (o *Options) fill() {
	if o.Addr == "" {
		o.Addr = defaultAddr
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.ScanCount <= 0 {
		o.ScanCount = defaultScanCount
	}
}
