package form

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// portPool hands out listeners on ports in [base, base+size). Allocation
// is round-robin so a released port is reused only after the rest of the
// range; ports already bound by other processes are skipped. A zero base
// delegates to the OS for an ephemeral port.
type portPool struct {
	mu     sync.Mutex
	base   int
	size   int
	next   int
	inUse  map[int]bool
	listen func(network, addr string) (net.Listener, error)
}

func newPortPool(base, size int) *portPool {
	if size <= 0 {
		size = 1
	}
	return &portPool{
		base:   base,
		size:   size,
		inUse:  make(map[int]bool),
		listen: net.Listen,
	}
}

// acquire binds a free port on host.
func (p *portPool) acquire(host string) (int, net.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.base == 0 {
		ln, err := p.listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, nil, fmt.Errorf("listen: %w", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		p.inUse[port] = true
		return port, ln, nil
	}

	for i := 0; i < p.size; i++ {
		port := p.base + (p.next+i)%p.size
		if p.inUse[port] {
			continue
		}
		ln, err := p.listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		p.inUse[port] = true
		p.next = (p.next + i + 1) % p.size
		return port, ln, nil
	}
	return 0, nil, fmt.Errorf("%w: [%d, %d)", types.ErrPortsExhausted, p.base, p.base+p.size)
}

// release returns a port to the pool.
func (p *portPool) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func (p *portPool) inUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
