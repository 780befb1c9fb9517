package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/N1kunj1998/FastCaption/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// querier は*sql.DBと*sql.Txの共通部分集合。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const userColumns = `id, email, name, legacy_provider, legacy_provider_sub, created_at, updated_at`

// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
// 重複が存在する場合はcreated_atが最も古いものを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY created_at ASC LIMIT 1`,
		email,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if err := r.loadProviders(ctx, r.db, user); err != nil {
		return nil, err
	}
	return user, nil
}

// FindAllByEmail は指定emailを持つ全ユーザーをcreated_at昇順で返す。
func (r *PostgresUserRepo) FindAllByEmail(ctx context.Context, email string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY created_at ASC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by email: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	for _, user := range users {
		if err := r.loadProviders(ctx, r.db, user); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// FindByProvider は(provider, providerSub)ペアを持つユーザーを検索する。
// identitiesと廃止予定のlegacyカラムの両方を対象にする。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProvider(ctx context.Context, provider, providerSub string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE (u.legacy_provider = $1 AND u.legacy_provider_sub = $2)
		    OR EXISTS (
		        SELECT 1 FROM identities i
		        WHERE i.user_id = u.id AND i.provider = $1 AND i.provider_sub = $2
		    )
		 LIMIT 1`,
		provider, providerSub,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider: %w", err)
	}
	if err := r.loadProviders(ctx, r.db, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Create はユーザーとそのprovidersを同一トランザクションで作成する。
// emailの一意制約に違反した場合はErrEmailConflictを、
// providerペアの一意制約に違反した場合はErrProviderConflictを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	for _, ref := range user.Providers {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (user_id, provider, provider_sub, created_at)
			 VALUES ($1, $2, $3, $4)`,
			user.ID, ref.Provider, ref.ProviderSub, user.CreatedAt,
		)
		if err != nil {
			return mapUniqueViolation(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// AddProvider はユーザーにproviderペアを冪等にリンクし、名前を更新する。
// nameがnilの場合は既存の名前を維持する。legacyカラムはidentitiesへ正規化される。
func (r *PostgresUserRepo) AddProvider(ctx context.Context, userID string, ref model.ProviderRef, name *string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := normalizeLegacyTx(ctx, tx, userID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (user_id, provider, provider_sub)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, provider_sub) DO NOTHING`,
		userID, ref.Provider, ref.ProviderSub,
	)
	if err != nil {
		return fmt.Errorf("failed to link provider: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET name = COALESCE($2, name), updated_at = now() WHERE id = $1`,
		userID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AttachEmail はemailを持たなかった既存ユーザーにemailを付与する。
// 付与時点で別ユーザーが同じemailを持っていた場合はErrEmailConflictを返す。
func (r *PostgresUserRepo) AttachEmail(ctx context.Context, userID, email string, name *string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := normalizeLegacyTx(ctx, tx, userID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET email = $2, name = COALESCE($3, name), updated_at = now() WHERE id = $1`,
		userID, email, name,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	if err := tx.Commit(); err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// MergeInto はdupIDのprovidersをkeeperIDへ統合し、dupIDを削除する。
// keeperが既に持つペアはそのまま、持たないペアはkeeperへ付け替える。
// dupの削除でCASCADEされるのはkeeperへ移せなかった重複ペアのみのため、
// providerリンクは失われない。
func (r *PostgresUserRepo) MergeInto(ctx context.Context, keeperID, dupID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := normalizeLegacyTx(ctx, tx, keeperID); err != nil {
		return err
	}
	if err := normalizeLegacyTx(ctx, tx, dupID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE identities SET user_id = $1
		 WHERE user_id = $2
		   AND (provider, provider_sub) NOT IN (
		       SELECT provider, provider_sub FROM identities WHERE user_id = $1
		   )`,
		keeperID, dupID,
	)
	if err != nil {
		return fmt.Errorf("failed to move identities: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users k SET name = COALESCE(k.name, d.name), updated_at = now()
		 FROM users d
		 WHERE k.id = $1 AND d.id = $2`,
		keeperID, dupID,
	)
	if err != nil {
		return fmt.Errorf("failed to update keeper: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, dupID)
	if err != nil {
		return fmt.Errorf("failed to delete duplicate user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListDuplicateEmails は複数ユーザーに共有されているemailの一覧を返す。
func (r *PostgresUserRepo) ListDuplicateEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM users
		 WHERE email IS NOT NULL AND email <> ''
		 GROUP BY email HAVING COUNT(*) > 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate emails: %w", err)
	}
	return emails, nil
}

// EnsureEmailUniqueIndex はemailの部分一意インデックスを作成する。冪等。
// 一意性は疎（email IS NOT NULLの行のみ対象）で、email無しアカウント同士は衝突しない。
func (r *PostgresUserRepo) EnsureEmailUniqueIndex(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_users_email
		 ON users(email) WHERE email IS NOT NULL`,
	)
	if err != nil {
		return fmt.Errorf("failed to create unique email index: %w", err)
	}
	return nil
}

// scanner は*sql.Rowと*sql.Rowsの共通部分集合。
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanUser はユーザー行をスキャンし、legacyカラムをProvidersへ正規化した形で返す。
func scanUser(s scanner) (*model.User, error) {
	user := &model.User{}
	var legacyProvider, legacyProviderSub sql.NullString
	err := s.Scan(
		&user.ID, &user.Email, &user.Name,
		&legacyProvider, &legacyProviderSub,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if legacyProvider.Valid && legacyProviderSub.Valid {
		user.Providers = append(user.Providers, model.ProviderRef{
			Provider:    legacyProvider.String,
			ProviderSub: legacyProviderSub.String,
		})
	}
	return user, nil
}

// loadProviders はidentitiesの行をユーザーのProvidersリストへ読み込む。
// scanUserが足したlegacyペアと重複する場合はde-dupする。
func (r *PostgresUserRepo) loadProviders(ctx context.Context, q querier, user *model.User) error {
	rows, err := q.QueryContext(ctx,
		`SELECT provider, provider_sub FROM identities
		 WHERE user_id = $1 ORDER BY created_at ASC`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref model.ProviderRef
		if err := rows.Scan(&ref.Provider, &ref.ProviderSub); err != nil {
			return fmt.Errorf("failed to scan identity: %w", err)
		}
		if !user.HasProvider(ref) {
			user.Providers = append(user.Providers, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate identities: %w", err)
	}
	return nil
}

// normalizeLegacyTx は廃止予定の単一プロバイダーカラムをidentitiesへ移行し、
// カラムをNULLに戻す。移行は一方向で、以後legacyカラムが再設定されることはない。
func normalizeLegacyTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO identities (user_id, provider, provider_sub)
		 SELECT id, legacy_provider, legacy_provider_sub FROM users
		 WHERE id = $1 AND legacy_provider IS NOT NULL AND legacy_provider_sub IS NOT NULL
		 ON CONFLICT (provider, provider_sub) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to normalize legacy provider: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET legacy_provider = NULL, legacy_provider_sub = NULL WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear legacy provider: %w", err)
	}
	return nil
}

// mapUniqueViolation はPostgreSQLの一意制約違反を回復可能なセンチネルへ変換する。
// それ以外のエラーはそのまま返す。
func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "email") {
			return ErrEmailConflict
		}
		return ErrProviderConflict
	}
	return err
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
