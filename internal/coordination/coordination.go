// Package coordination provides cluster membership and leader
// election for a frontier deployment with multiple replicas sharing
// one Queue Store. It is adapted from the teacher's master.Master:
// Campaign/elect/BecomeLeader and updateNodes/workNodeDiff are kept in
// spirit, generalized from "worker node with resource assignment" to
// "frontier replica with a leader/follower role" — the
// ResourceSpec/AddResource/Assign/AddSeed/HandleMsg task-dispatch
// machinery is dropped since this module never assigns fetch work
// (spec.md §1 Non-goals).
package coordination

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go-micro.dev/v4/registry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/types"
)

const (
	defaultElectionKey = "/urlfrontier/election"
	defaultSessionTTL  = 5
)

type options struct {
	logger        *zap.Logger
	etcdEndpoints []string
	registry      registry.Registry
	serviceName   string
	electionKey   string
	sessionTTL    int
	nodeNumber    int64
}

var defaultOptions = options{
	logger:      zap.NewNop(),
	electionKey: defaultElectionKey,
	sessionTTL:  defaultSessionTTL,
	nodeNumber:  1,
}

// Option configures a Node.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEtcdEndpoints sets the etcd cluster this node campaigns against.
func WithEtcdEndpoints(endpoints ...string) Option {
	return func(o *options) { o.etcdEndpoints = endpoints }
}

// WithRegistry sets the go-micro service registry used for membership discovery.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithServiceName sets the registered service name watched for peer membership.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// WithElectionKey overrides the etcd key campaigned on.
func WithElectionKey(key string) Option {
	return func(o *options) { o.electionKey = key }
}

// WithSessionTTL overrides the etcd session TTL, in seconds.
func WithSessionTTL(ttl int) Option {
	return func(o *options) { o.sessionTTL = ttl }
}

// WithNodeNumber sets this replica's snowflake node number. Unlike
// the teacher, which hardcodes node 1 for its single master, every
// replica in a multi-node deployment must pass a distinct value here
// or generated ids can collide.
func WithNodeNumber(n int64) Option {
	return func(o *options) { o.nodeNumber = n }
}

// Node is one frontier replica's coordination handle: it knows its own
// identity, campaigns for leadership, and tracks cluster membership.
type Node struct {
	options

	ID      string
	Address string
	idGen   *snowflake.Node
	etcdCli *clientv3.Client

	ready int32 // atomic; 1 while this node holds leadership

	membersMu sync.RWMutex
	members   map[string]*registry.Node
	leaderID  atomic.Value // string
}

// New creates a coordination node identified by address (its
// advertised gRPC address). It does not campaign by itself: callers
// run Campaign in its own goroutine, and call Close when shutting down.
func New(address string, opts ...Option) (*Node, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	idGen, err := snowflake.NewNode(o.nodeNumber)
	if err != nil {
		return nil, fmt.Errorf("coordination: snowflake: %w", err)
	}

	ip, err := localIPv4()
	if err != nil {
		ip = "unknown"
	}

	n := &Node{
		options: o,
		ID:      fmt.Sprintf("frontier-%s-%s", ip, address),
		Address: address,
		idGen:   idGen,
		members: map[string]*registry.Node{},
	}
	n.leaderID.Store("")

	if len(o.etcdEndpoints) > 0 {
		cli, err := clientv3.New(clientv3.Config{Endpoints: o.etcdEndpoints})
		if err != nil {
			return nil, fmt.Errorf("coordination: etcd dial: %w", err)
		}
		n.etcdCli = cli
	}

	return n, nil
}

// NextID mints a snowflake id, used for checkpoint and correlation identifiers.
func (n *Node) NextID() string {
	return n.idGen.Generate().String()
}

// IsLeader reports whether this node currently holds leadership.
func (n *Node) IsLeader() bool {
	return atomic.LoadInt32(&n.ready) != 0
}

// LeaderID returns the last known leader's node id, or "" if unknown.
func (n *Node) LeaderID() string {
	v, _ := n.leaderID.Load().(string)
	return v
}

// Campaign runs the leader-election loop until ctx is canceled. Run it
// in its own goroutine; it blocks.
func (n *Node) Campaign(ctx context.Context) error {
	if n.etcdCli == nil {
		return fmt.Errorf("coordination: campaign requires etcd endpoints")
	}

	session, err := concurrency.NewSession(n.etcdCli, concurrency.WithTTL(n.sessionTTL))
	if err != nil {
		return fmt.Errorf("coordination: new session: %w", err)
	}
	defer session.Close()

	election := concurrency.NewElection(session, n.electionKey)
	leaderCh := make(chan error, 1)
	go n.elect(ctx, election, leaderCh)

	leaderChanges := election.Observe(ctx)
	memberChanges := n.watchMembers(ctx)

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-leaderCh:
			if err != nil {
				n.logger.Error("coordination: campaign failed", zap.Error(err))
				go n.elect(ctx, election, leaderCh)
				continue
			}
			n.logger.Info("coordination: this node became leader", zap.String("id", n.ID))
			n.leaderID.Store(n.ID)
			atomic.StoreInt32(&n.ready, 1)

		case resp, ok := <-leaderChanges:
			if !ok {
				return nil
			}
			if len(resp.Kvs) == 0 {
				continue
			}
			leader := string(resp.Kvs[0].Value)
			n.leaderID.Store(leader)
			if leader != n.ID {
				atomic.StoreInt32(&n.ready, 0)
			}
			n.logger.Info("coordination: leader changed", zap.String("leader", leader))

		case diff, ok := <-memberChanges:
			if !ok {
				continue
			}
			n.applyMembers(diff)

		case <-ticker.C:
			resp, err := election.Leader(ctx)
			if err != nil {
				n.logger.Warn("coordination: get leader failed", zap.Error(err))
				continue
			}
			if len(resp.Kvs) > 0 {
				n.leaderID.Store(string(resp.Kvs[0].Value))
			}
		}
	}
}

func (n *Node) elect(ctx context.Context, e *concurrency.Election, ch chan error) {
	ch <- e.Campaign(ctx, n.ID)
}

func (n *Node) watchMembers(ctx context.Context) <-chan map[string]*registry.Node {
	if n.registry == nil || n.serviceName == "" {
		return nil
	}

	watcher, err := n.registry.Watch(registry.WatchService(n.serviceName))
	if err != nil {
		n.logger.Error("coordination: watch service failed", zap.Error(err))
		return nil
	}

	ch := make(chan map[string]*registry.Node)
	go func() {
		defer watcher.Stop()
		for {
			if ctx.Err() != nil {
				return
			}
			if _, err := watcher.Next(); err != nil {
				n.logger.Warn("coordination: watch next failed", zap.Error(err))
				continue
			}
			services, err := n.registry.GetService(n.serviceName)
			if err != nil {
				n.logger.Warn("coordination: get service failed", zap.Error(err))
				continue
			}
			nodes := map[string]*registry.Node{}
			if len(services) > 0 {
				for _, node := range services[0].Nodes {
					nodes[node.Id] = node
				}
			}
			select {
			case ch <- nodes:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (n *Node) applyMembers(nodes map[string]*registry.Node) {
	n.membersMu.Lock()
	defer n.membersMu.Unlock()

	added, removed, changed := membershipDiff(n.members, nodes)
	if len(added)+len(removed)+len(changed) > 0 {
		n.logger.Info("coordination: membership changed",
			zap.Strings("joined", added), zap.Strings("left", removed), zap.Strings("changed", changed))
	}
	n.members = nodes
}

// membershipDiff reports which node ids were added, removed, or
// changed between two membership snapshots, mirroring the teacher's
// workNodeDiff.
func membershipDiff(old, next map[string]*registry.Node) (added, removed, changed []string) {
	for id, node := range next {
		if oldNode, ok := old[id]; ok {
			if !reflect.DeepEqual(node, oldNode) {
				changed = append(changed, id)
			}
			continue
		}
		added = append(added, id)
	}
	for id := range old {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed, changed
}

// Members returns a point-in-time snapshot of cluster membership for
// ListNodes (C6).
func (n *Node) Members() []types.NodeInfo {
	n.membersMu.RLock()
	defer n.membersMu.RUnlock()

	leader := n.LeaderID()
	out := make([]types.NodeInfo, 0, len(n.members))
	for id, node := range n.members {
		out = append(out, types.NodeInfo{
			ID:      id,
			Address: node.Address,
			Leader:  id == leader,
		})
	}
	return out
}

// Close releases the etcd client.
func (n *Node) Close() error {
	if n.etcdCli == nil {
		return nil
	}
	return n.etcdCli.Close()
}

func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String(), nil
		}
	}
	return "", fmt.Errorf("coordination: no non-loopback ipv4 address found")
}
