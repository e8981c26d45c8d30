package enginetime

import (
	"math/rand"
	"sync"
	"time"

	"github.com/trex-paxos/trex2/paxos"
)

// RealClock is a Hooks implementation backed by time.Timer/time.Ticker,
// grounded on Konstantsiy-casual-raft's electionTimer/heartbeatTicker pair. It
// calls back into an Engine's Timeout and Heartbeat when its timers fire,
// and hands whatever those produce to the caller-supplied send functions.
type RealClock struct {
	mut sync.Mutex

	engine *Engine

	minTimeout, maxTimeout time.Duration
	heartbeatInterval      time.Duration

	onTimeout   func(*paxos.Prepare)
	onHeartbeat func([]paxos.Message)

	timer  *time.Timer
	ticker *time.Ticker
}

// NewRealClock builds a clock driving engine. Timeouts are chosen uniformly
// from [minTimeout, maxTimeout); onTimeout/onHeartbeat receive whatever
// Engine.Timeout/Engine.Heartbeat produce and are responsible for handing
// them to the transport. Either callback may be nil.
func NewRealClock(engine *Engine, minTimeout, maxTimeout, heartbeatInterval time.Duration, onTimeout func(*paxos.Prepare), onHeartbeat func([]paxos.Message)) *RealClock {
	return &RealClock{
		engine:            engine,
		minTimeout:        minTimeout,
		maxTimeout:         maxTimeout,
		heartbeatInterval: heartbeatInterval,
		onTimeout:         onTimeout,
		onHeartbeat:       onHeartbeat,
	}
}

func (c *RealClock) randomTimeout() time.Duration {
	span := c.maxTimeout - c.minTimeout
	if span <= 0 {
		return c.minTimeout
	}
	return c.minTimeout + time.Duration(rand.Int63n(int64(span)))
}

// SetRandomTimeout stops any pending timeout and arms a new one at a fresh
// random duration.
func (c *RealClock) SetRandomTimeout() {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.randomTimeout(), c.fireTimeout)
}

// ClearTimeout disarms the pending timeout, if any.
func (c *RealClock) ClearTimeout() {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// SetHeartbeat ensures a heartbeat ticker is running. It is idempotent: a
// call while one is already running is a no-op. The ticker stops itself
// the first time it observes the node is no longer Lead or Recover, since
// the protocol gives the Engine no explicit clear-heartbeat hook.
func (c *RealClock) SetHeartbeat() {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ticker != nil {
		return
	}
	c.ticker = time.NewTicker(c.heartbeatInterval)
	go c.runHeartbeat(c.ticker)
}

func (c *RealClock) fireTimeout() {
	prepare, err := c.engine.Timeout()
	if err != nil {
		return
	}
	if prepare != nil && c.onTimeout != nil {
		c.onTimeout(prepare)
	}
}

func (c *RealClock) runHeartbeat(ticker *time.Ticker) {
	for range ticker.C {
		role := c.engine.Role()
		if role != paxos.Lead && role != paxos.Recover {
			c.stopHeartbeat(ticker)
			return
		}

		messages, err := c.engine.Heartbeat()
		if err != nil {
			c.stopHeartbeat(ticker)
			return
		}
		if len(messages) > 0 && c.onHeartbeat != nil {
			c.onHeartbeat(messages)
		}
	}
}

func (c *RealClock) stopHeartbeat(ticker *time.Ticker) {
	ticker.Stop()
	c.mut.Lock()
	if c.ticker == ticker {
		c.ticker = nil
	}
	c.mut.Unlock()
}

var _ Hooks = (*RealClock)(nil)
