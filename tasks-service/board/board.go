package board

import (
	"slices"
	"sync"

	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

// Board is a client-side copy of one project's columns. Remote events and
// local drops are applied to it without going back to the server. It is
// safe for concurrent use.
type Board struct {
	mu        sync.RWMutex
	projectID uuid.UUID
	cols      Columns
}

func New(projectID uuid.UUID, tasks []*models.Task) *Board {
	b := &Board{projectID: projectID}
	b.Replace(tasks)
	return b
}

func (b *Board) ProjectID() uuid.UUID { return b.projectID }

// Replace discards the current state, as after a full re-fetch.
func (b *Board) Replace(tasks []*models.Task) {
	own := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ProjectID == b.projectID {
			own = append(own, t.Clone())
		}
	}
	cols := GroupByStatus(own)

	b.mu.Lock()
	b.cols = cols
	b.mu.Unlock()
}

// Columns returns a copy of the board.
func (b *Board) Columns() Columns {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneColumns(b.cols)
}

func (b *Board) Task(taskID uuid.UUID) (*models.Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status, idx, ok := b.locate(taskID)
	if !ok {
		return nil, false
	}
	return b.cols[status][idx].Clone(), true
}

// Locate returns the column and index of a task.
func (b *Board) Locate(taskID uuid.UUID) (models.TaskStatus, int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locate(taskID)
}

func (b *Board) locate(taskID uuid.UUID) (models.TaskStatus, int, bool) {
	for _, s := range models.TaskStatuses {
		for i, t := range b.cols[s] {
			if t.ID == taskID {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

// Upsert inserts or replaces a task and places it by its position. Tasks
// of other projects are ignored.
func (b *Board) Upsert(task *models.Task) bool {
	if task.ProjectID != b.projectID || !task.Status.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(task.ID)
	col := append(b.cols[task.Status], task.Clone())
	sortColumn(col)
	b.cols[task.Status] = col
	return true
}

func (b *Board) Remove(taskID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(taskID)
}

func (b *Board) remove(taskID uuid.UUID) bool {
	status, idx, ok := b.locate(taskID)
	if !ok {
		return false
	}
	b.cols[status] = slices.Delete(b.cols[status], idx, idx+1)
	return true
}

// Move puts the task at index in the status column and renumbers that
// column 1..n, the way the server does.
func (b *Board) Move(taskID uuid.UUID, status models.TaskStatus, index int) bool {
	if !status.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	from, idx, ok := b.locate(taskID)
	if !ok {
		return false
	}
	task := b.cols[from][idx]
	b.cols[from] = slices.Delete(b.cols[from], idx, idx+1)

	col := b.cols[status]
	index = max(0, min(index, len(col)))
	col = slices.Insert(col, index, task)
	task.Status = status
	for i, t := range col {
		t.Position = i + 1
	}
	b.cols[status] = col
	return true
}

// Snapshot is a saved copy of the board used to undo an optimistic move.
type Snapshot struct {
	cols Columns
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{cols: cloneColumns(b.cols)}
}

func (b *Board) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cols = cloneColumns(s.cols)
}

func cloneColumns(cols Columns) Columns {
	out := make(Columns, len(cols))
	for s, col := range cols {
		c := make([]*models.Task, len(col))
		for i, t := range col {
			c[i] = t.Clone()
		}
		out[s] = c
	}
	return out
}
