package page

import (
	"sort"
	"sync"
)

// Registry maps host page handles to pages. It is safe for concurrent use.
// Pages leave the registry when they complete or are discarded.
type Registry struct {
	builder Builder

	lock  sync.Mutex
	pages map[Handle]*Page
}

// Page returns the page with the handle, creating it if needed.
func (r *Registry) Page(h Handle) *Page {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p, ok := r.pages[h]; ok {
		return p
	}

	p := newPage(h, r.builder)
	p.onDone = r.remove
	r.pages[h] = p

	p.logger.Debug("page created")

	return p
}

// Lookup returns the page with the handle, if it exists.
func (r *Registry) Lookup(h Handle) (*Page, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.pages[h]

	return p, ok
}

// Discard drops a page without writing its trace. It reports whether the
// page existed.
func (r *Registry) Discard(h Handle) bool {
	r.lock.Lock()
	p, ok := r.pages[h]
	delete(r.pages, h)
	r.lock.Unlock()

	if ok {
		p.Discard()
	}

	return ok
}

// Len returns the number of live pages.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.pages)
}

// Handles returns the handles of the live pages in increasing order.
func (r *Registry) Handles() []Handle {
	r.lock.Lock()
	defer r.lock.Unlock()

	hs := make([]Handle, 0, len(r.pages))
	for h := range r.pages {
		hs = append(hs, h)
	}

	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })

	return hs
}

// Close discards every page that has not completed.
func (r *Registry) Close() {
	r.lock.Lock()
	pages := r.pages
	r.pages = make(map[Handle]*Page)
	r.lock.Unlock()

	for _, p := range pages {
		p.Discard()
	}
}

func (r *Registry) remove(p *Page) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.pages[p.handle] == p {
		delete(r.pages, p.handle)
	}
}
