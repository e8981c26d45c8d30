// Command trexdemo runs a small in-process cluster: N nodes, each its own
// paxos.Node/paxos.FileJournal/enginetime.Engine, wired together by an
// in-memory router instead of a real network transport, proposing demo
// commands to whichever node is leading and logging every role change and
// fixed slot. Grounded on senutpal-quorum/cmd/demo/main.go's "N nodes in
// one process over in-memory transport" shape and
// Konstantsiy-casual-raft/cmd/main.go's flag-parsed, signal-driven bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/trex-paxos/trex2/enginetime"
	"github.com/trex-paxos/trex2/paxos"
)

func main() {
	var (
		nodeList     = flag.String("nodes", "1,2,3", "comma separated node ids")
		dataDir      = flag.String("data", "./data", "directory holding each node's journal file")
		minTimeout   = flag.Duration("min-timeout", 150*time.Millisecond, "minimum election timeout")
		maxTimeout   = flag.Duration("max-timeout", 300*time.Millisecond, "maximum election timeout")
		heartbeat    = flag.Duration("heartbeat", 50*time.Millisecond, "leader heartbeat interval")
		proposeEvery = flag.Duration("propose-every", time.Second, "interval between demo command proposals")
	)
	flag.Parse()

	ids, err := parseNodeIDs(*nodeList)
	if err != nil {
		slog.Error("invalid -nodes", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", *dataDir, "error", err)
		os.Exit(1)
	}

	h, err := newHost(ids, *dataDir, *minTimeout, *maxTimeout, *heartbeat)
	if err != nil {
		slog.Error("failed to build cluster", "error", err)
		os.Exit(1)
	}
	defer h.close()

	h.start()
	h.startProposing(*proposeEvery)

	slog.Info("trexdemo running", "nodes", ids, "data_dir", *dataDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
}

func parseNodeIDs(csv string) ([]uint8, error) {
	parts := strings.Split(csv, ",")
	ids := make([]uint8, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("trexdemo: bad node id %q: %w", p, err)
		}
		ids = append(ids, uint8(v))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("trexdemo: no node ids given")
	}
	return ids, nil
}

// clusterNode bundles one simulated node's engine, its durable journal, its
// real-time clock, and the sender that serializes its outbound traffic.
type clusterNode struct {
	id      uint8
	engine  *enginetime.Engine
	journal *paxos.FileJournal
	clock   *enginetime.RealClock
	sender  *enginetime.PeerSender
}

// host is the in-memory router connecting every clusterNode: it plays the
// role a real transport would, but delivers by calling straight into the
// recipient's Engine instead of crossing a socket.
type host struct {
	ctx    context.Context
	cancel context.CancelFunc
	nodes  map[uint8]*clusterNode
	mu     sync.Mutex
}

func newHost(ids []uint8, dataDir string, minTimeout, maxTimeout, heartbeatInterval time.Duration) (*host, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &host{ctx: ctx, cancel: cancel, nodes: map[uint8]*clusterNode{}}

	quorum := paxos.NewMajorityQuorum(len(ids))
	for _, id := range ids {
		path := filepath.Join(dataDir, fmt.Sprintf("node-%d.journal", id))
		journal, err := paxos.OpenFileJournal(path, id)
		if err != nil {
			return nil, fmt.Errorf("trexdemo: open journal for node %d: %w", id, err)
		}

		node := paxos.NewNode(id, journal, quorum)
		engine := enginetime.NewEngine(node, journal, nil)

		nodeID := id
		engine.OnFixed(func(fixed map[paxos.Slot]paxos.Command) {
			for slot, cmd := range fixed {
				if cmd.IsNoOp() {
					slog.Info("fixed", "node", nodeID, "slot", slot, "command", "noop")
					continue
				}
				slog.Info("fixed", "node", nodeID, "slot", slot, "command", string(cmd.Payload))
			}
		})

		cn := &clusterNode{id: id, engine: engine, journal: journal}
		cn.sender = enginetime.NewPeerSender(func(ctx context.Context, peer uint8, msg paxos.Message) error {
			h.deliver(peer, msg)
			return nil
		})
		cn.clock = enginetime.NewRealClock(engine, minTimeout, maxTimeout, heartbeatInterval,
			func(p *paxos.Prepare) {
				slog.Info("election timeout", "node", nodeID)
				h.route(*p, cn)
			},
			func(msgs []paxos.Message) {
				for _, m := range msgs {
					h.route(m, cn)
				}
			},
		)
		engine.SetHooks(cn.clock)
		h.nodes[id] = cn
	}
	return h, nil
}

func (h *host) start() {
	for _, cn := range h.nodes {
		cn.engine.Start()
	}
}

func (h *host) close() {
	h.cancel()
	for _, cn := range h.nodes {
		cn.sender.Close()
		if err := cn.journal.Close(); err != nil {
			slog.Warn("failed to close journal", "node", cn.id, "error", err)
		}
	}
}

// deliver hands msg to node `to`'s Engine and routes whatever it produces.
func (h *host) deliver(to uint8, msg paxos.Message) {
	h.mu.Lock()
	cn, ok := h.nodes[to]
	h.mu.Unlock()
	if !ok {
		return
	}

	result, err := cn.engine.Paxos([]paxos.Message{msg})
	if err != nil {
		slog.Error("paxos step failed", "node", to, "error", err)
		return
	}
	for _, m := range result.Messages {
		h.route(m, cn)
	}
}

// route sends msg on behalf of from, broadcasting Prepare/Accept/Fixed to
// every other node and directing everything else at its ToID.
func (h *host) route(msg paxos.Message, from *clusterNode) {
	switch m := msg.(type) {
	case paxos.Prepare:
		h.broadcast(msg, from)
	case paxos.Accept:
		h.broadcast(msg, from)
	case paxos.Fixed:
		h.broadcast(msg, from)
	case paxos.PrepareResponse:
		from.sender.Enqueue(h.ctx, m.ToID, msg)
	case paxos.AcceptResponse:
		from.sender.Enqueue(h.ctx, m.ToID, msg)
	case paxos.Catchup:
		from.sender.Enqueue(h.ctx, m.ToID, msg)
	case paxos.CatchupResponse:
		from.sender.Enqueue(h.ctx, m.ToID, msg)
	}
}

func (h *host) broadcast(msg paxos.Message, from *clusterNode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.nodes {
		if id == from.id {
			continue
		}
		from.sender.Enqueue(h.ctx, id, msg)
	}
}

// startProposing periodically proposes a demo command to whichever node
// currently believes it is leading. A command proposed to a node that has
// since lost leadership is simply dropped by Engine.Command.
func (h *host) startProposing(every time.Duration) {
	ticker := time.NewTicker(every)
	counter := 0

	go func() {
		for {
			select {
			case <-h.ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				counter++
				cmd := paxos.NewAppCommand(
					[]byte(fmt.Sprintf("demo-%d", counter)),
					[]byte(fmt.Sprintf("hello #%d", counter)),
				)
				h.proposeToLeader(cmd)
			}
		}
	}()
}

func (h *host) proposeToLeader(cmd paxos.Command) {
	h.mu.Lock()
	var leader *clusterNode
	for _, cn := range h.nodes {
		if cn.engine.Role() == paxos.Lead {
			leader = cn
			break
		}
	}
	h.mu.Unlock()

	if leader == nil {
		return
	}

	messages, err := leader.engine.Command([]paxos.Command{cmd})
	if err != nil {
		slog.Error("command failed", "node", leader.id, "error", err)
		return
	}
	for _, m := range messages {
		h.route(m, leader)
	}
}
