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

type LabelRepository struct {
	db *sql.DB
}

func NewLabelRepository(db *sql.DB) *LabelRepository {
	return &LabelRepository{db: db}
}

const labelColumns = `id, project_id, name, color, created_at`

func scanLabel(row scanner) (models.Label, error) {
	var l models.Label
	err := row.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt)
	return l, err
}

func (r *LabelRepository) Create(ctx context.Context, label *models.Label) error {
	if err := label.Normalize(); err != nil {
		return err
	}
	ok, err := exists(ctx, r.db, "projects", label.ProjectID)
	if err != nil {
		return idb.Classify("create label", "project", label.ProjectID.String(), err)
	}
	if !ok {
		return shared.NewNotFoundError("project", label.ProjectID.String())
	}
	if label.ID == uuid.Nil {
		label.ID = uuid.New()
	}
	label.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO labels (`+labelColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		label.ID, label.ProjectID, label.Name, label.Color, label.CreatedAt)
	return idb.Classify("create label", "label", label.ID.String(), err)
}

func (r *LabelRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Label, error) {
	ok, err := exists(ctx, r.db, "projects", projectID)
	if err != nil {
		return nil, idb.Classify("list labels", "project", projectID.String(), err)
	}
	if !ok {
		return nil, shared.NewNotFoundError("project", projectID.String())
	}
	return r.list(ctx, `SELECT `+labelColumns+` FROM labels WHERE project_id = $1 ORDER BY name, id`, projectID)
}

// ListByTask returns the labels assigned to a task ordered by name.
func (r *LabelRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]models.Label, error) {
	ok, err := exists(ctx, r.db, "tasks", taskID)
	if err != nil {
		return nil, idb.Classify("list labels", "task", taskID.String(), err)
	}
	if !ok {
		return nil, shared.NewNotFoundError("task", taskID.String())
	}
	query := `SELECT l.id, l.project_id, l.name, l.color, l.created_at
	 FROM labels l JOIN task_labels tl ON tl.label_id = l.id
	 WHERE tl.task_id = $1 ORDER BY l.name, l.id`
	return r.list(ctx, query, taskID)
}

func (r *LabelRepository) list(ctx context.Context, query string, id uuid.UUID) ([]models.Label, error) {
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, idb.Classify("list labels", "label", "", err)
	}
	defer rows.Close()

	labels := []models.Label{}
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, idb.Classify("list labels", "label", "", err)
		}
		labels = append(labels, l)
	}
	return labels, idb.Classify("list labels", "label", "", rows.Err())
}

// Delete removes a project's label and every assignment of it.
func (r *LabelRepository) Delete(ctx context.Context, projectID, labelID uuid.UUID) error {
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var found bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM labels WHERE id = $1 AND project_id = $2)`, labelID, projectID).Scan(&found)
		if err != nil {
			return err
		}
		if !found {
			return shared.NewNotFoundError("label", labelID.String())
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE label_id = $1`, labelID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM labels WHERE id = $1`, labelID)
		return err
	})
	return idb.Classify("delete label", "label", labelID.String(), err)
}

// Assign attaches a label to a task. Assigning twice is a no-op. The label
// must belong to the task's project.
func (r *LabelRepository) Assign(ctx context.Context, taskID, labelID uuid.UUID) error {
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := sameProject(ctx, tx, taskID, labelID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_labels (task_id, label_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, taskID, labelID)
		return err
	})
	return idb.Classify("assign label", "label", labelID.String(), err)
}

// Unassign detaches a label from a task. Detaching an unassigned label is
// a no-op.
func (r *LabelRepository) Unassign(ctx context.Context, taskID, labelID uuid.UUID) error {
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := sameProject(ctx, tx, taskID, labelID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM task_labels WHERE task_id = $1 AND label_id = $2`, taskID, labelID)
		return err
	})
	return idb.Classify("unassign label", "label", labelID.String(), err)
}

func sameProject(ctx context.Context, tx *sql.Tx, taskID, labelID uuid.UUID) error {
	var taskProject, labelProject uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = $1`, taskID).Scan(&taskProject)
	if err != nil {
		return idb.Classify("load task", "task", taskID.String(), err)
	}
	err = tx.QueryRowContext(ctx, `SELECT project_id FROM labels WHERE id = $1`, labelID).Scan(&labelProject)
	if err != nil {
		return idb.Classify("load label", "label", labelID.String(), err)
	}
	if taskProject != labelProject {
		return shared.NewValidationError("labelId", "label belongs to another project")
	}
	return nil
}
