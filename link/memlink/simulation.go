package memlink

import (
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls how realistic the in-memory link behaves.
type SimulationConfig struct {
	MTU int // negotiated ATT MTU; default 185

	// Connection timing
	MinConnectionDelay    time.Duration
	MaxConnectionDelay    time.Duration
	ConnectionFailureRate float64

	// Discovery timing
	MinDiscoveryDelay time.Duration
	MaxDiscoveryDelay time.Duration

	// Delay before a write is delivered and reported complete.
	WriteDelay time.Duration

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

// DefaultSimulationConfig returns BLE-like timings.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MTU: 185,

		MinConnectionDelay:    30 * time.Millisecond,
		MaxConnectionDelay:    100 * time.Millisecond,
		ConnectionFailureRate: 0.016,

		MinDiscoveryDelay: 100 * time.Millisecond,
		MaxDiscoveryDelay: 1000 * time.Millisecond,

		WriteDelay: 2 * time.Millisecond,
	}
}

// PerfectSimulationConfig returns an instant, fully reliable link for tests.
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.MinDiscoveryDelay = 0
	cfg.MaxDiscoveryDelay = 0
	cfg.WriteDelay = 0
	cfg.Deterministic = true
	return cfg
}

// simulator draws the random parts of the simulation.
type simulator struct {
	config *SimulationConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

func newSimulator(config *SimulationConfig) *simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}
	seed := time.Now().UnixNano()
	if config.Deterministic {
		seed = config.Seed
	}
	return &simulator{config: config, rng: rand.New(rand.NewSource(seed))}
}

func (s *simulator) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
}

func (s *simulator) connectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

func (s *simulator) discoveryDelay() time.Duration {
	return s.between(s.config.MinDiscoveryDelay, s.config.MaxDiscoveryDelay)
}

func (s *simulator) connectionSucceeds() bool {
	if s.config.ConnectionFailureRate <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.config.ConnectionFailureRate
}

func (s *simulator) mtu() int {
	if s.config.MTU <= 0 {
		return 23
	}
	return s.config.MTU
}
