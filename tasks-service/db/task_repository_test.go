package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/chepyr/go-task-tracker/internal/db/dbtest"
	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

type fixture struct {
	db       *sql.DB
	tasks    *TaskRepository
	projects *ProjectRepository
	owner    *models.User
	project  *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbx := dbtest.Open(t)
	f := &fixture{
		db:       dbx,
		tasks:    NewTaskRepository(dbx),
		projects: NewProjectRepository(dbx),
		owner:    dbtest.InsertUser(t, dbx, "Owner"),
	}
	f.project = &models.Project{OwnerID: f.owner.ID, Name: "Demo"}
	if err := f.projects.Create(context.Background(), f.project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return f
}

func (f *fixture) createTask(t *testing.T, title string, status models.TaskStatus) *models.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), models.NewTask{
		ProjectID:  f.project.ID,
		ReporterID: f.owner.ID,
		Title:      title,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

// column returns the titles of a column in position order and checks the
// positions are strictly increasing.
func (f *fixture) column(t *testing.T, status models.TaskStatus) []string {
	t.Helper()
	rows, err := f.db.Query(
		`SELECT title, position FROM tasks WHERE project_id = $1 AND status = $2 ORDER BY position`,
		f.project.ID, status)
	if err != nil {
		t.Fatalf("query column: %v", err)
	}
	defer rows.Close()

	var titles []string
	last := 0
	for rows.Next() {
		var title string
		var pos int
		if err := rows.Scan(&title, &pos); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if pos <= last {
			t.Errorf("column %s: position %d of %q does not increase after %d", status, pos, title, last)
		}
		last = pos
		titles = append(titles, title)
	}
	return titles
}

func equalTitles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTaskRepository_CreateAssignsNextPosition(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "A", "")
	b := f.createTask(t, "B", models.TaskStatusToDo)
	c := f.createTask(t, "C", models.TaskStatusDone)

	if a.Status != models.TaskStatusToDo || a.Priority != models.TaskPriorityMedium {
		t.Errorf("Expected defaults todo/medium, got %s/%s", a.Status, a.Priority)
	}
	if a.Position != 1 || b.Position != 2 {
		t.Errorf("Expected positions 1 and 2, got %d and %d", a.Position, b.Position)
	}
	if c.Position != 1 {
		t.Errorf("Empty column should start at 1, got %d", c.Position)
	}
	if a.Reporter == nil || a.Reporter.ID != f.owner.ID {
		t.Errorf("Expected reporter to be attached, got %+v", a.Reporter)
	}
	if a.Comments == nil || a.Labels == nil {
		t.Error("Expected empty comments and labels, got nil")
	}
}

func TestTaskRepository_CreateErrors(t *testing.T) {
	f := newFixture(t)
	ghost := uuid.New()

	tests := []struct {
		name     string
		input    models.NewTask
		notFound bool
	}{
		{
			name:  "Empty title",
			input: models.NewTask{ProjectID: f.project.ID, ReporterID: f.owner.ID, Title: "   "},
		},
		{
			name:  "Missing project id",
			input: models.NewTask{ReporterID: f.owner.ID, Title: "x"},
		},
		{
			name:  "Invalid status",
			input: models.NewTask{ProjectID: f.project.ID, ReporterID: f.owner.ID, Title: "x", Status: "later"},
		},
		{
			name:     "Unknown project",
			input:    models.NewTask{ProjectID: uuid.New(), ReporterID: f.owner.ID, Title: "x"},
			notFound: true,
		},
		{
			name:     "Unknown reporter",
			input:    models.NewTask{ProjectID: f.project.ID, ReporterID: uuid.New(), Title: "x"},
			notFound: true,
		},
		{
			name:     "Unknown assignee",
			input:    models.NewTask{ProjectID: f.project.ID, ReporterID: f.owner.ID, Title: "x", AssigneeID: &ghost},
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tasks.Create(context.Background(), tt.input)
			if tt.notFound && !shared.IsNotFound(err) {
				t.Errorf("Expected NotFoundError, got %v", err)
			}
			if !tt.notFound && !shared.IsValidation(err) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestTaskRepository_MoveWithinColumn(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "A", "")
	f.createTask(t, "B", "")
	c := f.createTask(t, "C", "")

	zero := 0
	moved, res, err := f.tasks.Update(context.Background(), c.ID, models.TaskPatch{Position: &zero})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !res.Moved || res.Index != 0 || moved.Position != 1 {
		t.Errorf("Unexpected move result %+v, position %d", res, moved.Position)
	}
	if got := f.column(t, models.TaskStatusToDo); !equalTitles(got, []string{"C", "A", "B"}) {
		t.Errorf("Expected [C A B], got %v", got)
	}
}

func TestTaskRepository_MoveAcrossColumns(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "A", "")
	f.createTask(t, "B", "")
	f.createTask(t, "X", models.TaskStatusInProgress)
	f.createTask(t, "Y", models.TaskStatusInProgress)

	status := models.TaskStatusInProgress
	one := 1
	moved, res, err := f.tasks.Update(context.Background(), a.ID, models.TaskPatch{Status: &status, Position: &one})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !res.Moved || res.FromStatus != models.TaskStatusToDo || res.Index != 1 {
		t.Errorf("Unexpected move result %+v", res)
	}
	if moved.Status != models.TaskStatusInProgress {
		t.Errorf("Expected status in_progress, got %s", moved.Status)
	}
	if got := f.column(t, models.TaskStatusInProgress); !equalTitles(got, []string{"X", "A", "Y"}) {
		t.Errorf("Expected [X A Y], got %v", got)
	}
	if got := f.column(t, models.TaskStatusToDo); !equalTitles(got, []string{"B"}) {
		t.Errorf("Expected [B], got %v", got)
	}

	// status only appends, an oversized index is clamped
	done := models.TaskStatusDone
	f.createTask(t, "D", models.TaskStatusDone)
	if _, _, err := f.tasks.Update(context.Background(), moved.ID, models.TaskPatch{Status: &done}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	big := 99
	y := f.column(t, models.TaskStatusInProgress)
	if len(y) != 2 {
		t.Fatalf("Expected 2 tasks left in progress, got %v", y)
	}
	tasks, err := f.tasks.ListByProject(context.Background(), f.project.ID)
	if err != nil {
		t.Fatalf("ListByProject failed: %v", err)
	}
	for _, task := range tasks {
		if task.Title == "X" {
			if _, res, err := f.tasks.Update(context.Background(), task.ID, models.TaskPatch{Status: &done, Position: &big}); err != nil || res.Index != 2 {
				t.Fatalf("clamped move: %+v, %v", res, err)
			}
		}
	}
	if got := f.column(t, models.TaskStatusDone); !equalTitles(got, []string{"D", "A", "X"}) {
		t.Errorf("Expected [D A X], got %v", got)
	}
}

func TestTaskRepository_MoveToSameIndexIsNoop(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "A", "")
	b := f.createTask(t, "B", "")

	one := 1
	_, res, err := f.tasks.Update(context.Background(), b.ID, models.TaskPatch{Position: &one})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Moved {
		t.Errorf("Expected no move, got %+v", res)
	}
	if got := f.column(t, models.TaskStatusToDo); !equalTitles(got, []string{"A", "B"}) {
		t.Errorf("Expected [A B], got %v", got)
	}
}

func TestTaskRepository_UpdateFields(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "A", "")
	assignee := dbtest.InsertUser(t, f.db, "Bob")

	title := "  Renamed  "
	hours := 3.5
	updated, res, err := f.tasks.Update(context.Background(), task.ID, models.TaskPatch{
		Title:          &title,
		AssigneeID:     &assignee.ID,
		EstimatedHours: &hours,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Moved {
		t.Error("A field update must not move the task")
	}
	if updated.Title != "Renamed" || updated.Assignee == nil || updated.Assignee.Name != "Bob" {
		t.Errorf("Unexpected task after update: %+v", updated)
	}
	if updated.EstimatedHours == nil || *updated.EstimatedHours != 3.5 {
		t.Errorf("Expected estimated hours 3.5, got %v", updated.EstimatedHours)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) && !updated.UpdatedAt.Equal(task.UpdatedAt) {
		t.Errorf("updatedAt went backwards: %v < %v", updated.UpdatedAt, task.UpdatedAt)
	}

	cleared, _, err := f.tasks.Update(context.Background(), task.ID, models.TaskPatch{ClearAssignee: true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cleared.AssigneeID != nil || cleared.Assignee != nil {
		t.Errorf("Expected assignee cleared, got %v", cleared.AssigneeID)
	}

	ghost := uuid.New()
	if _, _, err := f.tasks.Update(context.Background(), task.ID, models.TaskPatch{AssigneeID: &ghost}); !shared.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for unknown assignee, got %v", err)
	}
	negative := -1.0
	if _, _, err := f.tasks.Update(context.Background(), task.ID, models.TaskPatch{ActualHours: &negative}); !shared.IsValidation(err) {
		t.Errorf("Expected ValidationError for negative hours, got %v", err)
	}
	if _, _, err := f.tasks.Update(context.Background(), uuid.New(), models.TaskPatch{Title: &title}); !shared.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for unknown task, got %v", err)
	}
}

func TestTaskRepository_DeleteCascades(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "A", "")
	f.createTask(t, "B", "")

	label := &models.Label{ProjectID: f.project.ID, Name: "bug"}
	labels := NewLabelRepository(f.db)
	if err := labels.Create(context.Background(), label); err != nil {
		t.Fatalf("create label: %v", err)
	}
	if err := labels.Assign(context.Background(), a.ID, label.ID); err != nil {
		t.Fatalf("assign label: %v", err)
	}
	if _, err := NewCommentRepository(f.db).Add(context.Background(), a.ID, f.owner.ID, "hello"); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	deleted, err := f.tasks.Delete(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted.ProjectID != f.project.ID {
		t.Errorf("Expected deleted task of project %v, got %v", f.project.ID, deleted.ProjectID)
	}

	for table, query := range map[string]string{
		"comments":    `SELECT COUNT(*) FROM comments WHERE task_id = $1`,
		"task_labels": `SELECT COUNT(*) FROM task_labels WHERE task_id = $1`,
		"tasks":       `SELECT COUNT(*) FROM tasks WHERE id = $1`,
	} {
		var n int
		if err := f.db.QueryRow(query, a.ID).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("Expected no %s rows left, got %d", table, n)
		}
	}

	// the label itself survives, the gap stays until compaction
	if got, _ := labels.ListByProject(context.Background(), f.project.ID); len(got) != 1 {
		t.Errorf("Expected label to survive, got %v", got)
	}
	var pos int
	if err := f.db.QueryRow(`SELECT position FROM tasks WHERE title = 'B'`).Scan(&pos); err != nil || pos != 2 {
		t.Errorf("Expected B to keep position 2, got %d (%v)", pos, err)
	}

	if _, err := f.tasks.Delete(context.Background(), a.ID); !shared.IsNotFound(err) {
		t.Errorf("Expected NotFoundError on second delete, got %v", err)
	}
}

func TestTaskRepository_ListByProjectLoadsRelations(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "A", "")
	f.createTask(t, "B", models.TaskStatusInReview)

	comments := NewCommentRepository(f.db)
	for _, text := range []string{"first", "second"} {
		if _, err := comments.Add(context.Background(), a.ID, f.owner.ID, text); err != nil {
			t.Fatalf("add comment: %v", err)
		}
	}

	tasks, err := f.tasks.ListByProject(context.Background(), f.project.ID)
	if err != nil {
		t.Fatalf("ListByProject failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ID != a.ID {
			continue
		}
		if len(task.Comments) != 2 || task.Comments[0].Content != "first" || task.Comments[1].Content != "second" {
			t.Errorf("Expected comments in creation order, got %+v", task.Comments)
		}
		if task.Comments[0].User == nil || task.Comments[0].User.Name != "Owner" {
			t.Errorf("Expected comment author attached, got %+v", task.Comments[0].User)
		}
	}

	empty, err := f.tasks.ListByProject(context.Background(), uuid.New())
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty list for unknown project, got %v, %v", empty, err)
	}
}

func TestTaskRepository_CompactPositions(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "A", "")
	f.createTask(t, "B", "")
	f.createTask(t, "C", "")
	f.createTask(t, "D", "")
	f.createTask(t, "X", models.TaskStatusDone)

	if _, err := f.tasks.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := f.tasks.CompactPositions(context.Background())
	if err != nil {
		t.Fatalf("CompactPositions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 column compacted, got %d", n)
	}

	rows, err := f.db.Query(`SELECT title, position FROM tasks WHERE status = 'todo' ORDER BY position`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	want := []string{"B", "C", "D"}
	i := 0
	for rows.Next() {
		var title string
		var pos int
		if err := rows.Scan(&title, &pos); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if title != want[i] || pos != i+1 {
			t.Errorf("row %d: got %s@%d, want %s@%d", i, title, pos, want[i], i+1)
		}
		i++
	}
	rows.Close()

	if n, err := f.tasks.CompactPositions(context.Background()); err != nil || n != 0 {
		t.Errorf("Second run should find nothing, got %d, %v", n, err)
	}
}
