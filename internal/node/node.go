// Package node implements the replicated key/value node: the consensus
// engine (vote and append handling, election, heartbeats, quorum
// advancement), the client-facing read/write path, and the durability
// pipeline (flusher, rotator, stale-peer recovery) that ties the engine to
// the persist package.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ssmike/raftkv/internal/config"
	"github.com/ssmike/raftkv/internal/persist"
	"github.com/ssmike/raftkv/internal/scheduler"
	"github.com/ssmike/raftkv/internal/transport"
)

// Node is one member of the cluster: its state, its durability pipeline,
// and the background tasks that drive both.
type Node struct {
	id  int64
	dir string
	n   int

	heartbeatTimeout  time.Duration
	heartbeatInterval time.Duration
	electionTimeout   time.Duration
	rotateInterval    time.Duration
	flushInterval     time.Duration
	rpcMaxBatch       int
	appliedBacklog    int

	transport transport.Transport
	log       *log.Entry

	mu sync.Mutex
	st *nodeState

	changelogMu sync.Mutex
	changelog   *persist.ChangelogWriter

	votes *persist.VoteStore

	electionTask   *scheduler.Task
	heartbeatTask  *scheduler.Task
	flushTask      *scheduler.Task
	rotateTask     *scheduler.Task
	staleAgentTask *scheduler.Task

	stopOnce sync.Once
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// New constructs a Node from cfg, recovers its on-disk state, registers its
// RPC handlers on tr and starts its background tasks. The returned Node is
// immediately live; there is no separate start step.
func New(cfg *config.Config, tr transport.Transport, logger *log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("node", cfg.ID)

	var peerIDs []int64
	for i := range cfg.Members {
		if int64(i) != cfg.ID {
			peerIDs = append(peerIDs, int64(i))
		}
	}

	n := &Node{
		id:                cfg.ID,
		dir:               cfg.Dir,
		n:                 cfg.N(),
		heartbeatTimeout:  seconds(cfg.HeartbeatTimeout),
		heartbeatInterval: seconds(cfg.HeartbeatInterval),
		electionTimeout:   seconds(cfg.ElectionTimeout),
		rotateInterval:    seconds(cfg.RotateInterval),
		flushInterval:     seconds(cfg.FlushInterval),
		rpcMaxBatch:       cfg.RPCMaxBatch,
		appliedBacklog:    cfg.AppliedBacklog,
		transport:         tr,
		log:               entry,
		st:                newNodeState(cfg.ID, peerIDs),
		votes:             persist.NewVoteStore(cfg.Dir),
	}

	if err := n.recover(); err != nil {
		return nil, fmt.Errorf("node %d: recover: %w", cfg.ID, err)
	}

	n.registerHandlers()
	n.startTasks()
	return n, nil
}

func (n *Node) registerHandlers() {
	n.transport.RegisterHandler(transport.Vote, n.handleVoteRPC)
	n.transport.RegisterHandler(transport.Append, n.handleAppendRPC)
	n.transport.RegisterHandler(transport.ClientRequest, n.handleClientRequestRPC)
	n.transport.RegisterHandler(transport.RecoverySnapshot, n.handleRecoverySnapshotRPC)
}

func (n *Node) startTasks() {
	n.electionTask = scheduler.Start(n.electionTimeout, n.electionTick)
	n.heartbeatTask = scheduler.Start(n.heartbeatInterval, n.heartbeatTick)
	n.flushTask = scheduler.Start(n.flushInterval, n.flushTick)
	n.rotateTask = scheduler.Start(n.rotateInterval, n.rotateTick)
	n.staleAgentTask = scheduler.Start(n.heartbeatInterval, n.staleAgentTick)
}

// Stop ends every background task and closes the changelog and vote WALs.
// It does not close the transport, which the caller owns. Calls after the
// first do nothing.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		for _, t := range []*scheduler.Task{n.electionTask, n.heartbeatTask, n.flushTask, n.rotateTask, n.staleAgentTask} {
			t.Stop()
		}
		n.changelogMu.Lock()
		if n.changelog != nil {
			n.changelog.Close()
		}
		n.changelogMu.Unlock()
		n.votes.Close()
	})
}

// rpcContext returns a context bounded by the configured heartbeat
// timeout, used for every outgoing RPC per §5's cancellation model.
func (n *Node) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.heartbeatTimeout)
}

// fatal logs and terminates the process, the node's response to a local
// I/O failure or invariant violation per §7: there is no recovery path
// that doesn't risk corrupting durable state, so it stops rather than
// guesses.
func (n *Node) fatal(err error) {
	n.log.WithError(err).Fatal("unrecoverable node error")
}
