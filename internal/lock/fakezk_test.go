package lock

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
)

// fakeZK is an in-memory ZKConn with sequential nodes and one-shot delete watches.
type fakeZK struct {
	mu      sync.Mutex
	nodes   map[string]struct{}
	seq     map[string]int
	watches map[string][]chan zk.Event
}

func newFakeZK() *fakeZK {
	return &fakeZK{
		nodes:   map[string]struct{}{},
		seq:     map[string]int{},
		watches: map[string][]chan zk.Event{},
	}
}

func (f *fakeZK) Create(p string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[p] = struct{}{}
	return p, nil
}

func (f *fakeZK) CreateProtectedEphemeralSequential(p string, _ []byte, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, base := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	n := f.seq[dir]
	f.seq[dir] = n + 1
	name := fmt.Sprintf("%s/_c_%s-%s%010d", dir, uuid.NewString()[:8], base, n)
	f.nodes[name] = struct{}{}
	return name, nil
}

func (f *fakeZK) Children(p string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n := range f.nodes {
		if dir, base := path.Split(n); strings.TrimSuffix(dir, "/") == p {
			out = append(out, base)
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *fakeZK) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan zk.Event, 1)
	if _, ok := f.nodes[p]; !ok {
		return false, nil, ch, nil
	}
	f.watches[p] = append(f.watches[p], ch)
	return true, &zk.Stat{}, ch, nil
}

func (f *fakeZK) Delete(p string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; !ok {
		return zk.ErrNoNode
	}
	delete(f.nodes, p)
	for _, ch := range f.watches[p] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: p}
	}
	delete(f.watches, p)
	return nil
}
