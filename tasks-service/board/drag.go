package board

import (
	"sync"

	"github.com/google/uuid"
)

// DragState tracks the card currently being dragged.
type DragState struct {
	mu     sync.Mutex
	taskID uuid.UUID
	active bool
}

func (d *DragState) Start(taskID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taskID = taskID
	d.active = true
}

func (d *DragState) Active() (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskID, d.active
}

// End clears the state after a drop and returns the dragged task.
func (d *DragState) End() (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.taskID, d.active
	d.taskID, d.active = uuid.Nil, false
	return id, ok
}

func (d *DragState) Cancel() {
	d.End()
}
