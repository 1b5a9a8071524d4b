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

type CommentRepository struct {
	db    *sql.DB
	users *idb.UserRepository
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db, users: idb.NewUserRepository(db)}
}

// Add appends a comment to the task. The returned comment has its author
// attached.
func (r *CommentRepository) Add(ctx context.Context, taskID, userID uuid.UUID, content string) (*models.Comment, error) {
	content, err := models.NormalizeComment(content)
	if err != nil {
		return nil, err
	}
	ok, err := exists(ctx, r.db, "tasks", taskID)
	if err != nil {
		return nil, idb.Classify("add comment", "task", taskID.String(), err)
	}
	if !ok {
		return nil, shared.NewNotFoundError("task", taskID.String())
	}
	author, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		ID:        uuid.New(),
		TaskID:    taskID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		User:      author,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO comments (id, task_id, user_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.TaskID, comment.UserID, comment.Content, comment.CreatedAt)
	if err != nil {
		return nil, idb.Classify("add comment", "comment", comment.ID.String(), err)
	}
	return comment, nil
}

// ListByTask returns the task's comments oldest first.
func (r *CommentRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error) {
	ok, err := exists(ctx, r.db, "tasks", taskID)
	if err != nil {
		return nil, idb.Classify("list comments", "task", taskID.String(), err)
	}
	if !ok {
		return nil, shared.NewNotFoundError("task", taskID.String())
	}
	byTask, err := loadComments(ctx, r.db, r.users, []uuid.UUID{taskID})
	if err != nil {
		return nil, err
	}
	comments := byTask[taskID]
	if comments == nil {
		comments = []models.Comment{}
	}
	return comments, nil
}

// loadComments fetches the comments of several tasks at once, with authors.
func loadComments(ctx context.Context, q queryer, users *idb.UserRepository, taskIDs []uuid.UUID) (map[uuid.UUID][]models.Comment, error) {
	byTask := make(map[uuid.UUID][]models.Comment)
	if len(taskIDs) == 0 {
		return byTask, nil
	}
	placeholders, args := idb.InClause(taskIDs, 1)
	query := `SELECT id, task_id, user_id, content, created_at FROM comments
	 WHERE task_id IN (` + placeholders + `) ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, idb.Classify("list comments", "comment", "", err)
	}

	var all []models.Comment
	var authorIDs []uuid.UUID
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, idb.Classify("list comments", "comment", "", err)
		}
		all = append(all, c)
		authorIDs = append(authorIDs, c.UserID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, idb.Classify("list comments", "comment", "", err)
	}

	authors, err := users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		c.User = authors[c.UserID]
		byTask[c.TaskID] = append(byTask[c.TaskID], c)
	}
	return byTask, nil
}
