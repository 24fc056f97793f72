package health

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// Status is the latest probe outcome for one check.
type Status struct {
	CheckID   string    `json:"checkId"`
	ServiceID string    `json:"serviceId"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	Err       string    `json:"error,omitempty"`
}

// Poller is a working Coordinator: it owns check definitions and runs one
// probe loop per started check. Loops tick at the check interval with a
// small startup jitter so checks sharing an interval spread out.
type Poller struct {
	mu     sync.Mutex
	defs   map[string]Check
	active map[string]chan struct{}
	status map[string]Status
	client *http.Client
	wg     sync.WaitGroup
}

func NewPoller() *Poller {
	return &Poller{
		defs:   make(map[string]Check),
		active: make(map[string]chan struct{}),
		status: make(map[string]Status),
		client: &http.Client{Timeout: probeTimeout},
	}
}

func validate(c Check) error {
	if c.ID == "" {
		return errors.New("check requires an id")
	}
	if c.ServiceID == "" {
		return errors.New("check requires a service id")
	}
	if c.Target == "" {
		return errors.New("check requires a target")
	}
	if c.Type != TypeHTTP && c.Type != TypeTCP {
		return fmt.Errorf("unsupported check type %q", c.Type)
	}
	return nil
}

// AddCheck registers or replaces a check definition without starting it.
func (p *Poller) AddCheck(c Check) error {
	if err := validate(c); err != nil {
		return err
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defs[c.ID] = c
	return nil
}

// RemoveCheck stops a running probe loop and drops the definition and its
// last status.
func (p *Poller) RemoveCheck(checkID string) {
	p.StopCheck(checkID)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.defs, checkID)
	delete(p.status, checkID)
}

// ChecksForService returns the registered definitions for one service.
func (p *Poller) ChecksForService(serviceID string) []Check {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Check, 0)
	for _, c := range p.defs {
		if c.ServiceID == serviceID {
			out = append(out, c)
		}
	}
	return out
}

// StartCheck begins probing. The definition is registered if new. Starting
// an already-running check is a no-op.
func (p *Poller) StartCheck(c Check) error {
	if err := validate(c); err != nil {
		return err
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defs[c.ID] = c
	if _, running := p.active[c.ID]; running {
		return nil
	}
	stop := make(chan struct{})
	p.active[c.ID] = stop
	p.wg.Add(1)
	go p.run(c, stop)
	return nil
}

// StopCheck halts the probe loop for a check. The last status stays
// queryable. Unknown ids are a no-op.
func (p *Poller) StopCheck(checkID string) {
	p.mu.Lock()
	stop, ok := p.active[checkID]
	if ok {
		delete(p.active, checkID)
	}
	p.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Status returns the last probe outcome for one check.
func (p *Poller) Status(checkID string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[checkID]
	return st, ok
}

// Statuses returns the last probe outcomes for all of a service's checks.
func (p *Poller) Statuses(serviceID string) []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0)
	for _, st := range p.status {
		if st.ServiceID == serviceID {
			out = append(out, st)
		}
	}
	return out
}

// Close stops every probe loop and waits for them to finish.
func (p *Poller) Close() {
	p.mu.Lock()
	for id, stop := range p.active {
		delete(p.active, id)
		close(stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(c Check, stop chan struct{}) {
	defer p.wg.Done()
	p.probe(c)
	// up to 10% startup jitter
	if j := int64(c.Interval / 10); j > 0 {
		select {
		case <-stop:
			return
		case <-time.After(time.Duration(rand.Int64N(j))):
		}
	}
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.probe(c)
		}
	}
}

func (p *Poller) probe(c Check) {
	var healthy bool
	var probeErr error
	switch c.Type {
	case TypeTCP:
		conn, err := net.DialTimeout("tcp", c.Target, probeTimeout)
		if err != nil {
			probeErr = err
		} else {
			_ = conn.Close()
			healthy = true
		}
	default:
		resp, err := p.client.Get(c.Target)
		if err != nil {
			probeErr = err
		} else {
			_ = resp.Body.Close()
			healthy = resp.StatusCode < 400
			if !healthy {
				probeErr = fmt.Errorf("status %d", resp.StatusCode)
			}
		}
	}
	st := Status{CheckID: c.ID, ServiceID: c.ServiceID, Healthy: healthy, CheckedAt: time.Now()}
	if probeErr != nil {
		st.Err = probeErr.Error()
	}
	p.mu.Lock()
	p.status[c.ID] = st
	p.mu.Unlock()
}
