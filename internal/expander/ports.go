package expander

import (
	"fmt"
	"net"
	"sync"
)

// PortRange bounds a port allocation.
type PortRange struct {
	Min int
	Max int
}

// DefaultPortRange mirrors common ephemeral-port conventions used by local
// dev tooling.
func DefaultPortRange() PortRange { return PortRange{Min: 20000, Max: 40000} }

// PortScope is a namespaced allocation set that prevents repeated macro
// evaluations within one reconcile pass from colliding on the same port
// (spec §4.7, §5 "Scope (ports)"). A PortScope is owned by exactly one
// reconcile pass; it is never shared across goroutines without external
// synchronization, matching spec §5's single-owner rule for mutable
// in-memory state.
type PortScope struct {
	mu        sync.Mutex
	named     map[string]int
	allocated map[int]bool
}

// NewPortScope creates a fresh, empty scope. Callers must create one per
// reconcile pass (or per test) rather than reusing a package-level
// instance (spec §9, "global-process state").
func NewPortScope() *PortScope {
	return &PortScope{
		named:     map[string]int{},
		allocated: map[int]bool{},
	}
}

// GetRandomPort allocates a free TCP port via a bind-and-close probe. If
// name is non-empty and was already allocated within this scope, the same
// port is returned as long as it is still free — otherwise a fresh port is
// allocated (spec §8, "Port allocation idempotence").
func (s *PortScope) GetRandomPort(name string, r PortRange) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if p, ok := s.named[name]; ok && s.allocated[p] && stillBindable(p) {
			return p, nil
		}
	}

	p, err := s.probeFreePort(r)
	if err != nil {
		return 0, err
	}
	s.allocated[p] = true
	if name != "" {
		s.named[name] = p
	}
	return p, nil
}

// GetRandomPorts bulk-allocates n distinct ports within r, none of which
// collide with any port already reserved in this scope.
func (s *PortScope) GetRandomPorts(n int, r PortRange) ([]int, error) {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		p, err := s.GetRandomPort("", r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPortRange allocates size contiguous free ports and reserves them all
// under name (if set), retrying with a new starting point on collision.
func (s *PortScope) GetPortRange(size int, r PortRange, name string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if existing, ok := s.namedRange(name, size); ok {
			return existing, nil
		}
	}

	const attempts = 50
	for i := 0; i < attempts; i++ {
		start, err := s.probeFreePort(r)
		if err != nil {
			return nil, err
		}
		block := make([]int, size)
		ok := true
		for j := 0; j < size; j++ {
			p := start + j
			if s.allocated[p] || !stillBindable(p) {
				ok = false
				break
			}
			block[j] = p
		}
		if !ok {
			continue
		}
		for _, p := range block {
			s.allocated[p] = true
		}
		if name != "" {
			s.named[name] = block[0]
			for j := 1; j < size; j++ {
				s.named[fmt.Sprintf("%s#%d", name, j)] = block[j]
			}
		}
		return block, nil
	}
	return nil, fmt.Errorf("could not allocate a contiguous range of %d ports", size)
}

func (s *PortScope) namedRange(name string, size int) ([]int, bool) {
	first, ok := s.named[name]
	if !ok {
		return nil, false
	}
	out := []int{first}
	for j := 1; j < size; j++ {
		p, ok := s.named[fmt.Sprintf("%s#%d", name, j)]
		if !ok {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

func (s *PortScope) probeFreePort(r PortRange) (int, error) {
	const maxAttempts = 200
	for i := 0; i < maxAttempts; i++ {
		p := randInRange(r)
		if s.allocated[p] {
			continue
		}
		if stillBindable(p) {
			return p, nil
		}
	}
	// Fall through to asking the OS to assign one outright.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func stillBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
