package monitoring

import (
	"sort"
	"sync"

	"github.com/kusoof/wprof/hooking"
	"github.com/kusoof/wprof/page"
)

// PageStats is what the monitor knows about one page. It is built only from
// hook snapshots, never from live page state.
type PageStats struct {
	Status     page.Status    `json:"status"`
	NodeStarts int            `json:"node_starts"`
	NodeEnds   int            `json:"node_ends"`
	Anomalies  map[string]int `json:"anomalies"`
	Done       bool           `json:"done"`
}

// Totals aggregates over every page seen.
type Totals struct {
	PagesSeen int            `json:"pages_seen"`
	Completed int            `json:"completed"`
	Discarded int            `json:"discarded"`
	Nodes     int            `json:"nodes"`
	Anomalies map[string]int `json:"anomalies"`
}

const maxFinishedPages = 256

// Collector is a hook that keeps per page statistics. Attach it to every page
// through the page builder. It is safe for concurrent use.
type Collector struct {
	lock     sync.RWMutex
	pages    map[string]*PageStats
	finished []string
	totals   Totals
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		pages:  make(map[string]*PageStats),
		totals: Totals{Anomalies: make(map[string]int)},
	}
}

// Func updates the statistics from one hook firing. Pages are told apart by
// their uid, since pages of different registries may share a handle.
func (c *Collector) Func(ctx hooking.HookCtx) {
	status, ok := ctx.Detail.(page.Status)
	if !ok {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	s := c.pages[status.UID]
	if s == nil {
		s = &PageStats{Anomalies: make(map[string]int)}
		c.pages[status.UID] = s
		c.totals.PagesSeen++
	}

	s.Status = status

	switch ctx.Pos {
	case page.HookPosNodeStart:
		s.NodeStarts++
		c.totals.Nodes++
	case page.HookPosNodeEnd:
		s.NodeEnds++
	case page.HookPosAnomaly:
		if a, ok := ctx.Item.(page.Anomaly); ok {
			s.Anomalies[a.Kind.String()]++
			c.totals.Anomalies[a.Kind.String()]++
		}
	case page.HookPosPageComplete:
		c.finish(status.UID, s)
		c.totals.Completed++
	case page.HookPosPageDiscard:
		c.finish(status.UID, s)
		c.totals.Discarded++
	}
}

func (c *Collector) finish(uid string, s *PageStats) {
	s.Done = true
	c.finished = append(c.finished, uid)

	for len(c.finished) > maxFinishedPages {
		old := c.finished[0]
		c.finished = c.finished[1:]

		if p, ok := c.pages[old]; ok && p.Done {
			delete(c.pages, old)
		}
	}
}

// Pages returns copies of the statistics of all known pages, ordered by
// handle and then uid.
func (c *Collector) Pages() []PageStats {
	c.lock.RLock()
	defer c.lock.RUnlock()

	out := make([]PageStats, 0, len(c.pages))
	for _, s := range c.pages {
		out = append(out, s.copy())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Status.Handle != out[j].Status.Handle {
			return out[i].Status.Handle < out[j].Status.Handle
		}

		return out[i].Status.UID < out[j].Status.UID
	})

	return out
}

// Page returns a copy of the statistics of the page with the given uid.
func (c *Collector) Page(uid string) (PageStats, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	s, ok := c.pages[uid]
	if !ok {
		return PageStats{}, false
	}

	return s.copy(), true
}

// Totals returns a copy of the aggregate counters.
func (c *Collector) Totals() Totals {
	c.lock.RLock()
	defer c.lock.RUnlock()

	t := c.totals
	t.Anomalies = make(map[string]int, len(c.totals.Anomalies))

	for k, v := range c.totals.Anomalies {
		t.Anomalies[k] = v
	}

	return t
}

func (s *PageStats) copy() PageStats {
	out := *s
	out.Anomalies = make(map[string]int, len(s.Anomalies))

	for k, v := range s.Anomalies {
		out.Anomalies[k] = v
	}

	return out
}

var _ hooking.Hook = (*Collector)(nil)
