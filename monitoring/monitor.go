// Package monitoring serves a live view of the pages being profiled over
// HTTP. It only sees what page hooks report.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/kusoof/wprof/page"
)

// Monitor turns a running profiler into a server that can be inspected from
// outside.
type Monitor struct {
	collector  *Collector
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor that reports what the collector saw.
func NewMonitor(c *Collector) *Monitor {
	return &Monitor{collector: c}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// Collector returns the collector the monitor reads from.
func (m *Monitor) Collector() *Collector {
	return m.collector
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list being reported.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pages", m.listPages)
	r.HandleFunc("/api/page/{uid}", m.pageDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr, "Monitoring pages with http://localhost:%d\n", port)

	r := m.Router()

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return port
}

type pageSummary struct {
	Handle  page.Handle `json:"handle"`
	UID     string      `json:"uid"`
	URL     string      `json:"url"`
	State   string      `json:"state"`
	Nodes   int         `json:"nodes"`
	Pending int         `json:"pending_fetches"`
	Done    bool        `json:"done"`
}

func (m *Monitor) listPages(w http.ResponseWriter, _ *http.Request) {
	pages := m.collector.Pages()
	rsp := make([]pageSummary, 0, len(pages))

	for _, p := range pages {
		rsp = append(rsp, pageSummary{
			Handle:  p.Status.Handle,
			UID:     p.Status.UID,
			URL:     p.Status.URL,
			State:   p.Status.State.String(),
			Nodes:   p.Status.Nodes,
			Pending: p.Status.PendingFetches,
			Done:    p.Done,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) pageDetails(w http.ResponseWriter, r *http.Request) {
	stats := m.findPageOr404(w, mux.Vars(r)["uid"])
	if stats == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(stats)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	UID       string `json:"uid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	stats := m.findPageOr404(w, req.UID)
	if stats == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(stats)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findPageOr404(w http.ResponseWriter, uid string) *PageStats {
	stats, ok := m.collector.Page(uid)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Page not found"))
		dieOnErr(err)

		return nil
	}

	return &stats
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.collector.Totals())
}

type progressRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))

	for _, b := range m.progressBars {
		finished, inProgress, total := b.Snapshot()
		bars = append(bars, progressRsp{
			ID:         b.ID,
			Name:       b.Name,
			StartTime:  b.StartTime,
			Total:      total,
			Finished:   finished,
			InProgress: inProgress,
		})
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
