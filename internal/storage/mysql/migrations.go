package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"BloodBank-Chain/deploy/migrations"
)

const (
	createSchemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`
	selectAppliedVersions = `SELECT version FROM schema_migrations`
	insertAppliedVersion  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// 迁移文件名形如 0001_create_records.sql。
var migrationName = regexp.MustCompile(`^(\d+)_[\w-]+\.sql$`)

type migration struct {
	version    string
	name       string
	statements []string
}

// runMigrations 依次执行尚未记录在 schema_migrations 中的迁移，每个版本一个事务。
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createSchemaTable); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	pending, err := loadMigrationFiles()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, selectAppliedVersions)
	if err != nil {
		return nil, fmt.Errorf("查询已执行迁移失败: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("读取迁移版本失败: %w", err)
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

func (m migration) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s 开启事务失败: %w", m.name, err)
	}
	// Commit 之后的 Rollback 返回 ErrTxDone，可忽略。
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", m.name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, insertAppliedVersion, m.version, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("记录迁移 %s 失败: %w", m.name, err)
	}
	return tx.Commit()
}

// loadMigrationFiles 读取内嵌的 SQL 文件并按版本排序，版本号重复视为错误。
func loadMigrationFiles() ([]migration, error) {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	var out []migration
	seen := make(map[string]string, len(names))
	for _, name := range names {
		match := migrationName.FindStringSubmatch(path.Base(name))
		if match == nil {
			return nil, fmt.Errorf("迁移文件名不合法: %s", name)
		}
		version := match[1]
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移版本 %s 重复: %s 与 %s", version, prev, name)
		}
		seen[version] = name

		raw, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		if stmts := splitStatements(string(raw)); len(stmts) > 0 {
			out = append(out, migration{version: version, name: name, statements: stmts})
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

// splitStatements 按分号切分脚本并去掉空语句与整行 -- 注释。
func splitStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
