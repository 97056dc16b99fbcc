package batch

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"trackq/internal/tracker"
)

var (
	rePct  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reETA  = regexp.MustCompile(`<\s*([0-9]+(?::[0-9]{2}){1,2})`) // tqdm [elapsed<remaining]
	reRate = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?\s*(?:it|frames?|fps)/s)`)
)

// phase keywords, in the order the tracker goes through them
var phaseHints = []struct {
	hint  string
	phase string
}{
	{"segment", "segmentation"},
	{"crossing", "crossings"},
	{"fragment", "fragmentation"},
	{"identification", "identification"},
	{"accumulat", "accumulation"},
	{"residual", "residual identification"},
	{"interpolat", "interpolation"},
	{"trajector", "trajectories"},
	{"tracking", "tracking"},
}

type liveProgress struct {
	enabled bool
	out     io.Writer

	index int
	total int
	video string

	mu    sync.Mutex
	phase string
	pct   string
	rate  string
	eta   string
	last  string

	started bool
	stop    chan struct{}
}

func newLiveProgress(enabled bool, out io.Writer, index, total int, video string) *liveProgress {
	return &liveProgress{
		enabled: enabled,
		out:     out,
		index:   index,
		total:   total,
		video:   video,
		phase:   "starting",
		stop:    make(chan struct{}),
	}
}

func (p *liveProgress) Start() {
	if !p.enabled {
		return
	}
	p.started = true
	go func() {
		t := time.NewTicker(700 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				fmt.Fprintf(p.out, "\r\033[2K%s", p.render())
			}
		}
	}()
}

func (p *liveProgress) Stop(final string) {
	if !p.enabled || !p.started {
		return
	}
	p.started = false
	close(p.stop)
	if final == "" {
		fmt.Fprint(p.out, "\r\033[2K")
		return
	}
	fmt.Fprintf(p.out, "\r\033[2K%s\n", final)
}

func (p *liveProgress) Handle(stream tracker.OutputStream, line string) {
	if !p.enabled {
		return
	}
	l := strings.TrimSpace(line)
	if l == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.last = l
	lower := strings.ToLower(l)
	for _, h := range phaseHints {
		if strings.Contains(lower, h.hint) {
			if p.phase != h.phase {
				p.pct, p.rate, p.eta = "", "", ""
			}
			p.phase = h.phase
			break
		}
	}
	if m := rePct.FindStringSubmatch(l); len(m) > 1 {
		p.pct = m[1] + "%"
	}
	if m := reRate.FindStringSubmatch(l); len(m) > 1 {
		p.rate = m[1]
	}
	if m := reETA.FindStringSubmatch(l); len(m) > 1 {
		p.eta = m[1]
	}
	if stream == tracker.StreamStderr && strings.Contains(l, "CRITICAL") {
		p.phase = "critical"
	}
}

func (p *liveProgress) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	video := p.video
	if len(video) > 52 {
		video = video[:52] + "..."
	}

	parts := []string{fmt.Sprintf("[%d/%d] %s", p.index, p.total, video), p.phase}
	if p.pct != "" {
		parts = append(parts, p.pct)
	}
	if p.rate != "" {
		parts = append(parts, p.rate)
	}
	if p.eta != "" {
		parts = append(parts, "ETA "+p.eta)
	}
	return strings.Join(parts, "  ")
}
