package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, userID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_active=$2 WHERE id=$1`, userID, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, manager_id, created_at FROM departments ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var dept Department
		if err := rows.Scan(&dept.ID, &dept.Name, &dept.ManagerID, &dept.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateDepartment(ctx context.Context, dept Department) (Department, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (name, manager_id)
		VALUES ($1, $2)
		RETURNING id, name, manager_id, created_at
	`, dept.Name, dept.ManagerID).Scan(&dept.ID, &dept.Name, &dept.ManagerID, &dept.CreatedAt)
	if err != nil {
		return Department{}, fmt.Errorf("create department: %w", err)
	}
	return dept, nil
}

func (s *PostgresStore) UpdateDepartmentManager(ctx context.Context, departmentID string, managerID *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE departments SET manager_id=$2 WHERE id=$1
	`, departmentID, managerID)
	if err != nil {
		return fmt.Errorf("update department manager: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update department manager: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
