// Package board groups tasks into Kanban columns and interprets drag and
// drop results. It does no I/O.
package board

import (
	"log"
	"slices"

	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

// Columns maps every status to its tasks in display order.
type Columns map[models.TaskStatus][]*models.Task

// GroupByStatus splits a flat task list into the four board columns. Every
// status is present, empty columns hold an empty slice.
//
// The repository only stores the four known statuses, so callers pass
// tasks it returned. A task with any other status is logged and left out
// of every column.
func GroupByStatus(tasks []*models.Task) Columns {
	cols := make(Columns, len(models.TaskStatuses))
	for _, s := range models.TaskStatuses {
		cols[s] = []*models.Task{}
	}
	for _, t := range tasks {
		if _, ok := cols[t.Status]; !ok {
			log.Printf("Task %s has unknown status %q, left off the board", t.ID, t.Status)
			continue
		}
		cols[t.Status] = append(cols[t.Status], t)
	}
	for _, s := range models.TaskStatuses {
		sortColumn(cols[s])
	}
	return cols
}

func sortColumn(col []*models.Task) {
	slices.SortStableFunc(col, compareTasks)
}

func compareTasks(a, b *models.Task) int {
	if a.Position != b.Position {
		return a.Position - b.Position
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

func compareIDs(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}

// Move is a change of column or order produced by a drop. Position is the
// destination index.
type Move struct {
	TaskID   uuid.UUID         `json:"taskId"`
	Status   models.TaskStatus `json:"status"`
	Position int               `json:"position"`
}

// Patch turns the move into a repository update.
func (m Move) Patch() models.TaskPatch {
	status, index := m.Status, m.Position
	return models.TaskPatch{Status: &status, Position: &index}
}

// InterpretDrop converts a drag result into a Move. It reports false when
// the card was dropped where it started, in which case nothing should be
// written.
func InterpretDrop(src models.TaskStatus, srcIdx int, dst models.TaskStatus, dstIdx int, taskID uuid.UUID) (Move, bool) {
	if src == dst && srcIdx == dstIdx {
		return Move{}, false
	}
	if dstIdx < 0 {
		dstIdx = 0
	}
	return Move{TaskID: taskID, Status: dst, Position: dstIdx}, true
}
