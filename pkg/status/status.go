// Package status tracks the coarse computation status of the module.
package status

import (
	"encoding/json"
	"fmt"
	"sync"
)

type ComputationStatus int

const (
	Idle ComputationStatus = iota + 1
	Working
	Completed
	Failed
	Rejected
	Aborted
	Neglected
)

var names = map[ComputationStatus]string{
	Idle:      "Idle",
	Working:   "Working",
	Completed: "Completed",
	Failed:    "Failed",
	Rejected:  "Rejected",
	Aborted:   "Aborted",
	Neglected: "Neglected",
}

func (s ComputationStatus) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("ComputationStatus(%d)", int(s))
}

func (s ComputationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ComputationStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range names {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown computation status %q", name)
}

// JobStatus is a snapshot of the tracker.
type JobStatus struct {
	Status   ComputationStatus `json:"status"`
	Progress float64           `json:"progress"`
}

// Tracker holds the process-wide status. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	status   ComputationStatus
	progress float64
}

func NewTracker() *Tracker {
	return &Tracker{status: Idle}
}

// Update sets the status. A progress of exactly zero keeps the previous
// progress; any other value replaces it. Idle never replaces Failed: a
// failure is only cleared by the next dispatch (Working) or another
// explicit outcome.
func (t *Tracker) Update(s ComputationStatus, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(s, progress)
}

// ResetIdle is the post-task reset. It reports whether the status became
// Idle.
func (t *Tracker) ResetIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set(Idle, 0)
}

func (t *Tracker) set(s ComputationStatus, progress float64) bool {
	if progress != 0 {
		t.progress = progress
	}
	if s == Idle && t.status == Failed {
		return false
	}
	t.status = s
	return true
}

func (t *Tracker) Read() JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return JobStatus{Status: t.status, Progress: t.progress}
}

func (t *Tracker) Status() ComputationStatus {
	return t.Read().Status
}
