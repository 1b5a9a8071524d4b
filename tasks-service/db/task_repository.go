package db

import (
	"context"
	"database/sql"
	"time"

	idb "github.com/chepyr/go-task-tracker/internal/db"
	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, input models.NewTask) (*models.Task, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Task, error)
	Update(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (*models.Task, MoveResult, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// MoveResult describes how an update changed the task's place on the board.
// Index is the task's zero-based index in its destination column.
type MoveResult struct {
	Moved      bool
	FromStatus models.TaskStatus
	Index      int
}

type TaskRepository struct {
	db    *sql.DB
	users *idb.UserRepository
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db, users: idb.NewUserRepository(db)}
}

const taskColumns = `id, project_id, title, description, status, priority, position, assignee_id, reporter_id,
 due_date, estimated_hours, actual_hours, created_at, updated_at`

// columnOrder is the canonical order of tasks inside one column.
const columnOrder = `ORDER BY position, created_at, id`

func scanTask(row scanner) (*models.Task, error) {
	t := &models.Task{}
	var assignee uuid.NullUUID
	var due sql.NullTime
	var estimated, actual sql.NullFloat64
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Position,
		&assignee, &t.ReporterID, &due, &estimated, &actual, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.AssigneeID = uuidPtr(assignee)
	t.DueDate = timePtr(due)
	t.EstimatedHours = floatPtr(estimated)
	t.ActualHours = floatPtr(actual)
	return t, nil
}

// Create validates the input and appends the task to the end of its
// column.
func (r *TaskRepository) Create(ctx context.Context, input models.NewTask) (*models.Task, error) {
	if err := input.Normalize(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task := &models.Task{
		ID:             uuid.New(),
		ProjectID:      input.ProjectID,
		Title:          input.Title,
		Description:    input.Description,
		Status:         input.Status,
		Priority:       input.Priority,
		AssigneeID:     input.AssigneeID,
		ReporterID:     input.ReporterID,
		DueDate:        input.DueDate,
		EstimatedHours: input.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		found, err := lockProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		if !found {
			return shared.NewNotFoundError("project", task.ProjectID.String())
		}

		refs := []struct {
			table, entity string
			id            *uuid.UUID
		}{
			{"users", "user", &task.ReporterID},
			{"users", "user", task.AssigneeID},
		}
		for _, ref := range refs {
			if ref.id == nil {
				continue
			}
			ok, err := exists(ctx, tx, ref.table, *ref.id)
			if err != nil {
				return err
			}
			if !ok {
				return shared.NewNotFoundError(ref.entity, ref.id.String())
			}
		}

		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM tasks WHERE project_id = $1 AND status = $2`,
			task.ProjectID, task.Status).Scan(&task.Position)
		if err != nil {
			return err
		}

		query := `INSERT INTO tasks (` + taskColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err = tx.ExecContext(ctx, query,
			task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority, task.Position,
			nullUUID(task.AssigneeID), task.ReporterID, nullTime(task.DueDate),
			nullFloat(task.EstimatedHours), nullFloat(task.ActualHours), task.CreatedAt, task.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return nil, idb.Classify("create task", "task", task.ID.String(), err)
	}
	if err := r.loadRelations(ctx, []*models.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, idb.Classify("get task", "task", id.String(), err)
	}
	if err := r.loadRelations(ctx, []*models.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// ProjectOf returns the project a task belongs to.
func (r *TaskRepository) ProjectOf(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	var projectID uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = $1`, taskID).Scan(&projectID)
	if err != nil {
		return uuid.Nil, idb.Classify("get task project", "task", taskID.String(), err)
	}
	return projectID, nil
}

// ListByProject returns every task of the project with assignee, reporter,
// comments and labels attached. Tasks come back grouped by status and in
// column order.
func (r *TaskRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = $1 ORDER BY status, position, created_at, id`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, idb.Classify("list tasks", "task", "", err)
	}

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, idb.Classify("list tasks", "task", "", err)
		}
		tasks = append(tasks, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, idb.Classify("list tasks", "task", "", err)
	}

	if err := r.loadRelations(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update merges the patch into the task. When the patch sets a status or a
// position the task is moved: it is inserted at the requested index of the
// destination column and that column is renumbered 1..n. A status change
// without a position appends the task to the new column.
func (r *TaskRepository) Update(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (*models.Task, MoveResult, error) {
	var result MoveResult
	if err := patch.Validate(); err != nil {
		return nil, result, err
	}

	var task *models.Task
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if patch.IsMove() {
			if err := lockTaskProject(ctx, tx, id); err != nil {
				return err
			}
		}
		t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
		if err != nil {
			return err
		}
		if patch.AssigneeID != nil {
			ok, err := exists(ctx, tx, "users", *patch.AssigneeID)
			if err != nil {
				return err
			}
			if !ok {
				return shared.NewNotFoundError("user", patch.AssigneeID.String())
			}
		}
		applyPatch(t, patch)

		result.FromStatus = t.Status
		if patch.IsMove() {
			result, err = moveTask(ctx, tx, t, patch)
			if err != nil {
				return err
			}
		}

		t.UpdatedAt = time.Now().UTC()
		query := `UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4, position = $5,
		 assignee_id = $6, due_date = $7, estimated_hours = $8, actual_hours = $9, updated_at = $10
		 WHERE id = $11`
		_, err = tx.ExecContext(ctx, query,
			t.Title, t.Description, t.Status, t.Priority, t.Position,
			nullUUID(t.AssigneeID), nullTime(t.DueDate), nullFloat(t.EstimatedHours), nullFloat(t.ActualHours),
			t.UpdatedAt, t.ID,
		)
		task = t
		return err
	})
	if err != nil {
		return nil, MoveResult{}, idb.Classify("update task", "task", id.String(), err)
	}
	if err := r.loadRelations(ctx, []*models.Task{task}); err != nil {
		return nil, MoveResult{}, err
	}
	return task, result, nil
}

func applyPatch(t *models.Task, patch models.TaskPatch) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.ClearAssignee {
		t.AssigneeID = nil
	} else if patch.AssigneeID != nil {
		t.AssigneeID = patch.AssigneeID
	}
	if patch.ClearDueDate {
		t.DueDate = nil
	} else if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.EstimatedHours != nil {
		t.EstimatedHours = patch.EstimatedHours
	}
	if patch.ActualHours != nil {
		t.ActualHours = patch.ActualHours
	}
}

type columnEntry struct {
	id       uuid.UUID
	position int
}

func readColumn(ctx context.Context, tx *sql.Tx, projectID uuid.UUID, status models.TaskStatus) ([]columnEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, position FROM tasks WHERE project_id = $1 AND status = $2 `+columnOrder,
		projectID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var column []columnEntry
	for rows.Next() {
		var e columnEntry
		if err := rows.Scan(&e.id, &e.position); err != nil {
			return nil, err
		}
		column = append(column, e)
	}
	return column, rows.Err()
}

// renumber writes positions 1..n for the given order, skipping rows that
// already hold the right value. The row of skip is written by the caller.
func renumber(ctx context.Context, tx *sql.Tx, column []columnEntry, skip uuid.UUID) error {
	for i, e := range column {
		if e.id == skip || e.position == i+1 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET position = $1 WHERE id = $2`, i+1, e.id); err != nil {
			return err
		}
	}
	return nil
}

// moveTask places t in its destination column and renumbers that column.
// t.Status and t.Position are updated; the row of t itself is written by
// the caller.
func moveTask(ctx context.Context, tx *sql.Tx, t *models.Task, patch models.TaskPatch) (MoveResult, error) {
	result := MoveResult{FromStatus: t.Status}
	dest := t.Status
	if patch.Status != nil {
		dest = *patch.Status
	}

	column, err := readColumn(ctx, tx, t.ProjectID, dest)
	if err != nil {
		return result, err
	}
	current := -1
	others := make([]columnEntry, 0, len(column))
	for i, e := range column {
		if e.id == t.ID {
			current = i
			continue
		}
		others = append(others, e)
	}

	index := len(others)
	switch {
	case patch.Position != nil:
		index = min(*patch.Position, len(others))
	case current >= 0:
		index = current
	}

	if current == index {
		// Already there. A column with gaps keeps them until compaction.
		result.Index = index
		return result, nil
	}

	ordered := make([]columnEntry, 0, len(others)+1)
	ordered = append(ordered, others[:index]...)
	ordered = append(ordered, columnEntry{id: t.ID})
	ordered = append(ordered, others[index:]...)
	if err := renumber(ctx, tx, ordered, t.ID); err != nil {
		return result, err
	}

	t.Status = dest
	t.Position = index + 1
	result.Moved = true
	result.Index = index
	return result, nil
}

// Delete removes the task with its comments and label assignments and
// returns what was deleted. The column is not renumbered.
func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task *models.Task
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
		if err != nil {
			return err
		}
		for _, query := range []string{
			`DELETE FROM comments WHERE task_id = $1`,
			`DELETE FROM task_labels WHERE task_id = $1`,
			`DELETE FROM tasks WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, idb.Classify("delete task", "task", id.String(), err)
	}
	return task, nil
}

// CompactPositions renumbers every column whose positions are not exactly
// 1..n, keeping the current order. It returns the number of columns
// rewritten.
func (r *TaskRepository) CompactPositions(ctx context.Context) (int, error) {
	query := `SELECT project_id, status FROM tasks GROUP BY project_id, status
	 HAVING MIN(position) <> 1 OR MAX(position) <> COUNT(*) OR COUNT(DISTINCT position) <> COUNT(*)`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return 0, idb.Classify("compact positions", "task", "", err)
	}
	type columnKey struct {
		projectID uuid.UUID
		status    models.TaskStatus
	}
	var columns []columnKey
	for rows.Next() {
		var k columnKey
		if err := rows.Scan(&k.projectID, &k.status); err != nil {
			rows.Close()
			return 0, idb.Classify("compact positions", "task", "", err)
		}
		columns = append(columns, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, idb.Classify("compact positions", "task", "", err)
	}

	for i, k := range columns {
		err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			if _, err := lockProject(ctx, tx, k.projectID); err != nil {
				return err
			}
			column, err := readColumn(ctx, tx, k.projectID, k.status)
			if err != nil {
				return err
			}
			return renumber(ctx, tx, column, uuid.Nil)
		})
		if err != nil {
			return i, idb.Classify("compact positions", "task", "", err)
		}
	}
	return len(columns), nil
}

// loadRelations attaches users, comments and labels to the tasks using one
// query per relation.
func (r *TaskRepository) loadRelations(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(tasks))
	userIDs := make([]uuid.UUID, 0, 2*len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		userIDs = append(userIDs, t.ReporterID)
		if t.AssigneeID != nil {
			userIDs = append(userIDs, *t.AssigneeID)
		}
	}

	users, err := r.users.GetByIDs(ctx, userIDs)
	if err != nil {
		return err
	}
	comments, err := loadComments(ctx, r.db, r.users, ids)
	if err != nil {
		return err
	}
	labels, err := loadTaskLabels(ctx, r.db, ids)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		t.Reporter = users[t.ReporterID]
		if t.AssigneeID != nil {
			t.Assignee = users[*t.AssigneeID]
		}
		t.Comments = comments[t.ID]
		if t.Comments == nil {
			t.Comments = []models.Comment{}
		}
		t.Labels = labels[t.ID]
		if t.Labels == nil {
			t.Labels = []models.Label{}
		}
	}
	return nil
}

func loadTaskLabels(ctx context.Context, q queryer, taskIDs []uuid.UUID) (map[uuid.UUID][]models.Label, error) {
	placeholders, args := idb.InClause(taskIDs, 1)
	query := `SELECT tl.task_id, l.id, l.project_id, l.name, l.color, l.created_at
	 FROM task_labels tl JOIN labels l ON l.id = tl.label_id
	 WHERE tl.task_id IN (` + placeholders + `) ORDER BY l.name, l.id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, idb.Classify("list task labels", "label", "", err)
	}
	defer rows.Close()

	byTask := make(map[uuid.UUID][]models.Label)
	for rows.Next() {
		var taskID uuid.UUID
		var l models.Label
		if err := rows.Scan(&taskID, &l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, idb.Classify("list task labels", "label", "", err)
		}
		byTask[taskID] = append(byTask[taskID], l)
	}
	return byTask, idb.Classify("list task labels", "label", "", rows.Err())
}
