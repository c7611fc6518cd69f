// Package palloc provides the page-frame pool that backs thread stacks.
// The kernel obtains one page per thread at creation time and returns it
// when the thread is reaped. The pool is fixed-size: exhaustion is a
// recoverable error surfaced to the creator, while double frees and
// frees of foreign pages are programming errors and panic.
package palloc

import (
	"errors"
	"fmt"
)

// PageSize is the size of a simulated stack page in bytes.
const PageSize = 4096

// ErrExhausted is returned by Get when no free pages remain.
var ErrExhausted = errors.New("palloc: out of pages")

// Page is a single page frame owned by at most one thread at a time.
type Page struct {
	index int
	pool  *Pool
}

// Index returns the frame number of this page within its pool.
func (p *Page) Index() int {
	return p.index
}

// Pool is a fixed-size pool of page frames.
type Pool struct {
	inUse []bool
	free  []int
}

// New creates a pool with n page frames. n must be positive.
func New(n int) *Pool {
	if n <= 0 {
		panic(fmt.Sprintf("palloc: pool size %d must be positive", n))
	}
	p := &Pool{inUse: make([]bool, n), free: make([]int, 0, n)}
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Get allocates a free page, or returns ErrExhausted.
func (p *Pool) Get() (*Page, error) {
	if len(p.free) == 0 {
		return nil, ErrExhausted
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[i] = true
	return &Page{index: i, pool: p}, nil
}

// Free returns a page to the pool. Freeing a page twice, or a page that
// belongs to a different pool, panics.
func (p *Pool) Free(pg *Page) {
	if pg == nil || pg.pool != p {
		panic("palloc: free of page from a different pool")
	}
	if !p.inUse[pg.index] {
		panic(fmt.Sprintf("palloc: double free of page %d", pg.index))
	}
	p.inUse[pg.index] = false
	p.free = append(p.free, pg.index)
}

// Available returns the number of free pages.
func (p *Pool) Available() int {
	return len(p.free)
}

// Size returns the total number of page frames in the pool.
func (p *Pool) Size() int {
	return len(p.inUse)
}
