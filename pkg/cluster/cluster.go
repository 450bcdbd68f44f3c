// Package cluster provides the Raft-backed leadership gate that decides
// which broker in the fleet runs the leader-only passes (load shedding,
// warm-history persistence). It carries no application log: brokers don't propose
// commands through Raft, they only watch who holds the leader seat.
package cluster

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config describes this node's place in the Raft quorum.
type Config struct {
	NodeID string
	BindAddr string
	DataDir string
	Bootstrap bool // true for the first node standing up the cluster
	Peers []string // other nodes' NodeID@BindAddr, used only when Bootstrap is true
}

// Gate wraps a Raft instance, exposing only what the load manager needs:
// who is leader, and a channel of leadership transitions. It satisfies
// pkg/metrics.LeadershipSource.
type Gate struct {
	nodeID string
	raft *raft.Raft
	fsm *noopFSM
	logger zerolog.Logger

	leadershipCh chan bool
}

// noopFSM satisfies raft.FSM without maintaining any replicated state; this
// cluster doesn't use the Raft log for anything but leader election.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release() {}

// New bootstraps or joins a Raft quorum for leadership election only, the
// same timeout tuning the fleet's brokers use for fast failover.
func New(cfg Config) (*Gate, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create stable store: %w", err)
	}

	fsm := &noopFSM{}
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("cluster: create raft: %w", err)
	}

	g := &Gate{
		nodeID: cfg.NodeID,
		raft: r,
		fsm: fsm,
		logger: log.WithComponent("cluster"),
		leadershipCh: make(chan bool, 1),
	}

	if cfg.Bootstrap {
		servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		for _, peer := range cfg.Peers {
			id, peerAddr, ok := strings.Cut(peer, "@")
			if !ok {
				return nil, fmt.Errorf("cluster: peer %q is not NodeID@BindAddr", peer)
			}
			servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(peerAddr)})
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("cluster: bootstrap: %w", err)
		}
	}

	go g.watchLeadership()

	return g, nil
}

// watchLeadership drains raft.LeaderCh onto leadershipCh so callers can
// react to transitions without polling IsLeader.
func (g *Gate) watchLeadership() {
	for isLeader := range g.raft.LeaderCh() {
		g.logger.Info().Bool("leader", isLeader).Str("node", g.nodeID).Msg("leadership transition")
		select {
		case g.leadershipCh <- isLeader:
		default:
			// drop the stale value, the latest always wins
			select {
			case <-g.leadershipCh:
			default:
			}
			g.leadershipCh <- isLeader
		}
	}
}

// LeadershipCh emits true when this node becomes leader, false when it
// steps down. Buffered by one; only the most recent transition is kept.
func (g *Gate) LeadershipCh() <-chan bool { return g.leadershipCh }

// IsLeader reports whether this node currently holds Raft leadership.
func (g *Gate) IsLeader() bool { return g.raft.State() == raft.Leader }

// Peers returns the number of servers in the current Raft configuration.
func (g *Gate) Peers() int {
	future := g.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return 0
	}
	return len(future.Configuration().Servers)
}

// AddVoter admits a new node to the quorum; only the leader can do this.
func (g *Gate) AddVoter(nodeID, addr string) error {
	if g.raft.State() != raft.Leader {
		return fmt.Errorf("cluster: not leader, current leader %q", g.raft.Leader())
	}
	future := g.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// LastIndex and AppliedIndex feed pkg/metrics' RaftLogIndex/RaftAppliedIndex
// gauges.
func (g *Gate) LastIndex() uint64 { return g.raft.LastIndex() }
func (g *Gate) AppliedIndex() uint64 { return g.raft.AppliedIndex() }

// Shutdown cleanly leaves the Raft quorum.
func (g *Gate) Shutdown() error {
	future := g.raft.Shutdown()
	return future.Error()
}
