package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// CreateGroup inserts the group and its member set, assigning its id.
func (s *Store) CreateGroup(ctx context.Context, group *models.Group) (int64, error) {
	members := normalizeMembers(group.Members)
	if len(members) == 0 {
		return 0, fmt.Errorf("group must have at least one member")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO groups (account_id, name) VALUES ($1, $2)
		RETURNING id, created_at
	`, group.AccountID, group.Name).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create group: %w", err)
	}

	for _, member := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members (group_id, email) VALUES ($1, $2)
		`, group.ID, member); err != nil {
			return 0, fmt.Errorf("failed to add group member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit group: %w", err)
	}

	group.Members = members
	return group.ID, nil
}

func (s *Store) GetGroup(ctx context.Context, accountID, groupID int64) (*models.Group, error) {
	var group models.Group
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, name, created_at
		FROM groups WHERE id = $1 AND account_id = $2
	`, groupID, accountID).Scan(&group.ID, &group.AccountID, &group.Name, &group.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	group.Members, err = s.groupMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Store) ListGroups(ctx context.Context, accountID int64) ([]*models.Group, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, name, created_at
		FROM groups WHERE account_id = $1 ORDER BY name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.AccountID, &group.Name, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	for _, group := range groups {
		if group.Members, err = s.groupMembers(ctx, group.ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// DeleteGroup removes the group, its messages and its chat. external_ids
// tombstoning for the deleted messages happens via ON DELETE SET NULL.
func (s *Store) DeleteGroup(ctx context.Context, accountID, groupID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM messages WHERE account_id = $1 AND group_id = $2
	`, accountID, groupID); err != nil {
		return fmt.Errorf("failed to delete group messages: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM groups WHERE id = $1 AND account_id = $2
	`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrGroupNotFound
	}

	return tx.Commit(ctx)
}

// FindGroupByMembers returns the group whose member set exactly equals the
// given addresses after normalization.
func (s *Store) FindGroupByMembers(ctx context.Context, accountID int64, members []string) (*models.Group, error) {
	wanted := normalizeMembers(members)
	if len(wanted) == 0 {
		return nil, store.ErrGroupNotFound
	}

	var groupID int64
	err := s.pool.QueryRow(ctx, `
		SELECT g.id
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE g.account_id = $1
		GROUP BY g.id
		HAVING COUNT(*) = cardinality($2::text[])
		   AND COUNT(*) FILTER (WHERE m.email = ANY($2::text[])) = COUNT(*)
		ORDER BY g.id
		LIMIT 1
	`, accountID, wanted).Scan(&groupID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group by members: %w", err)
	}

	return s.GetGroup(ctx, accountID, groupID)
}

func (s *Store) groupMembers(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email FROM group_members WHERE group_id = $1 ORDER BY email
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group members: %w", err)
	}
	return members, nil
}

// normalizeMembers lower-cases, trims, deduplicates and sorts the member set.
func normalizeMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	var out []string
	for _, member := range members {
		email := strings.ToLower(strings.TrimSpace(member))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}
