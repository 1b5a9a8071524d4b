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

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Add makes the user a member of the project. Adding an existing member
// updates its role. The owner's role cannot be changed.
func (r *MemberRepository) Add(ctx context.Context, member *models.ProjectMember) error {
	if member.Role == "" {
		member.Role = models.RoleMember
	}
	if !models.ValidRole(member.Role) {
		return shared.NewValidationError("role", "invalid value "+member.Role)
	}
	if member.UserID == uuid.Nil {
		return shared.NewValidationError("userId", "is required")
	}
	member.JoinedAt = time.Now().UTC()

	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var ownerID uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id = $1`, member.ProjectID).Scan(&ownerID)
		if err != nil {
			return idb.Classify("add member", "project", member.ProjectID.String(), err)
		}
		ok, err := exists(ctx, tx, "users", member.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NewNotFoundError("user", member.UserID.String())
		}
		if member.UserID == ownerID && member.Role != models.RoleOwner {
			return shared.NewValidationError("role", "the project owner keeps the owner role")
		}

		query := `INSERT INTO project_members (project_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role`
		_, err = tx.ExecContext(ctx, query, member.ProjectID, member.UserID, member.Role, member.JoinedAt)
		return err
	})
	return idb.Classify("add member", "member", member.UserID.String(), err)
}

func (r *MemberRepository) Remove(ctx context.Context, projectID, userID uuid.UUID) error {
	err := idb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRowContext(ctx,
			`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID).Scan(&role)
		if err != nil {
			return idb.Classify("remove member", "member", userID.String(), err)
		}
		if role == models.RoleOwner {
			return shared.NewValidationError("userId", "the project owner cannot be removed")
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
		return err
	})
	return idb.Classify("remove member", "member", userID.String(), err)
}

// ListByProject returns the members with their user attached, in join order.
func (r *MemberRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ProjectMember, error) {
	ok, err := exists(ctx, r.db, "projects", projectID)
	if err != nil {
		return nil, idb.Classify("list members", "project", projectID.String(), err)
	}
	if !ok {
		return nil, shared.NewNotFoundError("project", projectID.String())
	}

	query := `SELECT m.project_id, m.user_id, m.role, m.joined_at,
	 u.id, u.email, u.password_hash, u.name, u.avatar_url, u.role, u.created_at, u.updated_at
	 FROM project_members m JOIN users u ON u.id = m.user_id
	 WHERE m.project_id = $1
	 ORDER BY m.joined_at, u.name`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, idb.Classify("list members", "member", "", err)
	}
	defer rows.Close()

	members := []models.ProjectMember{}
	for rows.Next() {
		var m models.ProjectMember
		u := &models.User{}
		if err := rows.Scan(
			&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt,
			&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.AvatarURL, &u.Role, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, idb.Classify("list members", "member", "", err)
		}
		m.User = u
		members = append(members, m)
	}
	return members, idb.Classify("list members", "member", "", rows.Err())
}
