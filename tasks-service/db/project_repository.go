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

// defines methods for project db operations
type ProjectRepositoryInterface interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByMember(ctx context.Context, userID uuid.UUID) ([]*models.Project, error)
	Update(ctx context.Context, id uuid.UUID, patch models.ProjectPatch) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, owner_id, name, description, status, color, start_date, end_date, created_at, updated_at`

func scanProject(row scanner) (*models.Project, error) {
	p := &models.Project{}
	var start, end sql.NullTime
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Status, &p.Color,
		&start, &end, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StartDate = timePtr(start)
	p.EndDate = timePtr(end)
	return p, nil
}

// Create stores the project and makes its owner a member with the owner
// role in the same transaction.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if err := project.Normalize(); err != nil {
		return err
	}
	if project.OwnerID == uuid.Nil {
		return shared.NewValidationError("ownerId", "is required")
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now().UTC()
	project.CreatedAt, project.UpdatedAt = now, now

	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "users", project.OwnerID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NewNotFoundError("user", project.OwnerID.String())
		}

		query := `INSERT INTO projects (` + projectColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.ExecContext(ctx, query,
			project.ID, project.OwnerID, project.Name, project.Description, project.Status,
			project.Color, nullTime(project.StartDate), nullTime(project.EndDate),
			project.CreatedAt, project.UpdatedAt,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			project.ID, project.OwnerID, models.RoleOwner, now)
		return err
	})
	return idb.Classify("create project", "project", project.ID.String(), err)
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, idb.Classify("get project", "project", id.String(), err)
	}
	return p, nil
}

// ListByMember returns the projects the user belongs to, newest first.
func (r *ProjectRepository) ListByMember(ctx context.Context, userID uuid.UUID) ([]*models.Project, error) {
	query := `SELECT p.id, p.owner_id, p.name, p.description, p.status, p.color, p.start_date, p.end_date,
	 p.created_at, p.updated_at
	 FROM projects p JOIN project_members m ON m.project_id = p.id
	 WHERE m.user_id = $1
	 ORDER BY p.created_at DESC, p.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, idb.Classify("list projects", "project", "", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, idb.Classify("list projects", "project", "", err)
		}
		projects = append(projects, p)
	}
	return projects, idb.Classify("list projects", "project", "", rows.Err())
}

func (r *ProjectRepository) Update(ctx context.Context, id uuid.UUID, patch models.ProjectPatch) (*models.Project, error) {
	var project *models.Project
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
		if err != nil {
			return err
		}
		if err := patch.Apply(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()

		query := `UPDATE projects SET name = $1, description = $2, status = $3, color = $4,
		 start_date = $5, end_date = $6, updated_at = $7 WHERE id = $8`
		if _, err := tx.ExecContext(ctx, query,
			p.Name, p.Description, p.Status, p.Color,
			nullTime(p.StartDate), nullTime(p.EndDate), p.UpdatedAt, p.ID,
		); err != nil {
			return err
		}
		project = p
		return nil
	})
	if err != nil {
		return nil, idb.Classify("update project", "project", id.String(), err)
	}
	return project, nil
}

// Delete removes the project together with its tasks, their comments and
// label assignments, its labels and its members.
func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "projects", id)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NewNotFoundError("project", id.String())
		}

		steps := []string{
			`DELETE FROM comments WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`,
			`DELETE FROM task_labels WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`,
			`DELETE FROM tasks WHERE project_id = $1`,
			`DELETE FROM labels WHERE project_id = $1`,
			`DELETE FROM project_members WHERE project_id = $1`,
			`DELETE FROM projects WHERE id = $1`,
		}
		for _, query := range steps {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		return nil
	})
	return idb.Classify("delete project", "project", id.String(), err)
}

func (r *ProjectRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := exists(ctx, r.db, "projects", id)
	if err != nil {
		return false, idb.Classify("check project", "project", id.String(), err)
	}
	return ok, nil
}
