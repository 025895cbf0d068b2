package lock

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"eatcloud/internal/pkg/logger"
)

const (
	zkLockRoot    = "/distributed_locks"
	zkReadPrefix  = "read-"
	zkWritePrefix = "write-"
	zkSeqDigits   = 10
)

// ZKConn is the subset of *zk.Conn the ZooKeeper backend uses.
type ZKConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

// DialZooKeeper connects to the ensemble.
func DialZooKeeper(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	return conn, nil
}

// ZooKeeper implements Backend with ephemeral sequential nodes under /distributed_locks/<key>.
// Writers (and exclusive holders) wait for their immediate predecessor; readers wait for the
// nearest preceding writer. A timer deletes the node when the lease runs out.
type ZooKeeper struct {
	conn ZKConn
	acl  []zk.ACL
}

func NewZooKeeper(conn ZKConn) *ZooKeeper {
	return &ZooKeeper{conn: conn, acl: zk.WorldACL(zk.PermAll)}
}

func (b *ZooKeeper) ensure(path string) error {
	cur := ""
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		cur += "/" + part
		if _, err := b.conn.Create(cur, nil, 0, b.acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "create lock path %s", cur)
		}
	}
	return nil
}

func (b *ZooKeeper) Acquire(ctx context.Context, key string, mode Mode, lease time.Duration) (Lease, error) {
	lockPath := zkLockRoot + "/" + key
	if err := b.ensure(lockPath); err != nil {
		return nil, err
	}

	prefix := zkWritePrefix
	if mode == Read {
		prefix = zkReadPrefix
	}
	node, err := b.conn.CreateProtectedEphemeralSequential(lockPath+"/"+prefix, nil, b.acl)
	if err != nil {
		return nil, errors.Wrap(err, "create sequential node")
	}
	self := strings.TrimPrefix(node, lockPath+"/")

	for {
		children, _, err := b.conn.Children(lockPath)
		if err != nil {
			b.abandon(node)
			return nil, errors.Wrap(err, "list lock nodes")
		}
		wait, ok := predecessor(children, self, mode)
		if !ok {
			b.abandon(node)
			return nil, errors.Errorf("own lock node %s disappeared", self)
		}
		if wait == "" {
			return newZKLease(b, key, node, lease), nil
		}

		exists, _, events, err := b.conn.ExistsW(lockPath + "/" + wait)
		if err != nil {
			b.abandon(node)
			return nil, errors.Wrap(err, "watch predecessor")
		}
		if !exists {
			continue
		}
		select {
		case <-events:
		case <-ctx.Done():
			b.abandon(node)
			return nil, ctx.Err()
		}
	}
}

func (b *ZooKeeper) abandon(node string) {
	if err := b.conn.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		logger.Ctx(context.Background()).Warn().Err(err).Str("node", node).Msg("delete abandoned lock node")
	}
}

type zkNode struct {
	name   string
	seq    int64
	writer bool
}

func parseZKNode(name string) (zkNode, bool) {
	if len(name) < zkSeqDigits {
		return zkNode{}, false
	}
	seq, err := strconv.ParseInt(name[len(name)-zkSeqDigits:], 10, 64)
	if err != nil {
		return zkNode{}, false
	}
	return zkNode{name: name, seq: seq, writer: strings.Contains(name, zkWritePrefix)}, true
}

// predecessor returns the node self must wait on, "" when self holds the lock, and
// false when self is not among children. Nodes are ordered by sequence number: protected
// names carry a random prefix, so lexical order is not acquisition order.
func predecessor(children []string, self string, mode Mode) (string, bool) {
	nodes := make([]zkNode, 0, len(children))
	for _, c := range children {
		if n, ok := parseZKNode(c); ok {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })

	idx := -1
	for i, n := range nodes {
		if n.name == self {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	if mode != Read {
		if idx == 0 {
			return "", true
		}
		return nodes[idx-1].name, true
	}
	for i := idx - 1; i >= 0; i-- {
		if nodes[i].writer {
			return nodes[i].name, true
		}
	}
	return "", true
}

type zkLease struct {
	b     *ZooKeeper
	key   string
	node  string
	mu    sync.Mutex
	timer *time.Timer
	lost  bool
}

func newZKLease(b *ZooKeeper, key, node string, lease time.Duration) *zkLease {
	l := &zkLease{b: b, key: key, node: node}
	l.timer = time.AfterFunc(lease, l.expire)
	return l
}

func (l *zkLease) expire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return
	}
	l.lost = true
	l.b.abandon(l.node)
	logger.Ctx(context.Background()).Warn().Str("lock", l.key).Msg("zookeeper lock lease expired")
}

func (l *zkLease) Key() string { return l.key }

func (l *zkLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return ErrNotHeld
	}
	stopped := l.timer.Stop()
	l.lost = true
	err := l.b.conn.Delete(l.node, -1)
	switch {
	case !stopped, errors.Is(err, zk.ErrNoNode):
		return ErrNotHeld
	case err != nil:
		return errors.Wrap(err, "delete lock node")
	}
	return nil
}
