package git

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vcskit/gitcore/internal/cache"
)

// objectCacheSize is the number of objects kept in memory, for all the
// repositories of the process
const objectCacheSize = 10000

// ErrRuntimeReleased is returned when releasing a runtime handle that
// has already been released
var ErrRuntimeReleased = errors.New("runtime already released")

// runtimeState contains the resources shared by all the repositories
// of the process
type runtimeState struct {
	cache  *cache.LRU
	logger *logrus.Logger
}

var (
	runtimeMu     sync.Mutex
	runtimeRefs   int
	sharedRuntime *runtimeState
)

// Runtime is a handle on the resources shared by all the repositories
// of the process (object cache, default logger).
// The resources are created by the first AcquireRuntime() and torn
// down when the last handle is released
type Runtime struct {
	state *runtimeState

	mu       sync.Mutex
	released bool
}

// AcquireRuntime returns a new handle on the runtime of the process,
// creating it if needed.
// Every handle must be released with Release()
func AcquireRuntime() (*Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if sharedRuntime == nil {
		c, err := cache.NewLRU(objectCacheSize)
		if err != nil {
			return nil, fmt.Errorf("could not create the object cache: %w", err)
		}
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)
		sharedRuntime = &runtimeState{
			cache:  c,
			logger: logger,
		}
	}
	runtimeRefs++
	return &Runtime{state: sharedRuntime}, nil
}

// Release releases the handle. The runtime is torn down when its last
// handle is released.
// ErrRuntimeReleased is returned if the handle has already been
// released
func (rt *Runtime) Release() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.released {
		return ErrRuntimeReleased
	}
	rt.released = true

	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeRefs--
	if runtimeRefs == 0 {
		sharedRuntime.cache.Clear()
		sharedRuntime = nil
	}
	return nil
}

// Logger returns the default logger of the runtime
func (rt *Runtime) Logger() *logrus.Logger {
	return rt.state.logger
}

// cache returns the object cache shared by all the repositories
func (rt *Runtime) cache() *cache.LRU {
	return rt.state.cache
}
