package gormdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// GormComponent manages named gorm connections.
type GormComponent struct {
	*core.BaseComponent
	cfg *Config

	mu  sync.RWMutex
	dbs map[string]*gorm.DB
}

func NewGormComponent(cfg *Config) *GormComponent {
	return &GormComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GORM, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		dbs:           make(map[string]*gorm.DB),
	}
}

func (c *GormComponent) Start(ctx context.Context) error {
	if c.cfg == nil || len(c.cfg.DataSources) == 0 {
		return fmt.Errorf("gorm: no data_sources configured")
	}
	names := make([]string, 0, len(c.cfg.DataSources))
	for n := range c.cfg.DataSources {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		db, err := c.open(ctx, name, c.cfg.DataSources[name])
		if err != nil {
			c.closeAll(ctx)
			return err
		}
		c.mu.Lock()
		c.dbs[name] = db
		c.mu.Unlock()
		logging.Infof(ctx, "[gorm] datasource %s initialized", name)
	}
	return c.BaseComponent.Start(ctx)
}

func (c *GormComponent) open(ctx context.Context, name string, ds *DataSourceConfig) (*gorm.DB, error) {
	if ds == nil {
		return nil, fmt.Errorf("datasource %s config is nil", name)
	}
	dial, err := dialector(ds)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", name, err)
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:                 newGormLogger(c.cfg),
		SkipDefaultTransaction: ds.SkipDefaultTransaction,
		PrepareStmt:            ds.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("open datasource %s: %w", name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("datasource %s sql.DB: %w", name, err)
	}
	tunePool(sqlDB, ds)
	if ds.PingOnStart {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sqlDB.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("ping datasource %s: %w", name, err)
		}
	}
	if strings.TrimSpace(ds.MigrateDir) != "" {
		if err := runMigrations(ctx, sqlDB, ds.MigrateDir); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("datasource %s migrations: %w", name, err)
		}
	}
	return db, nil
}

func tunePool(db *sql.DB, ds *DataSourceConfig) {
	maxOpen, maxIdle, life := 50, 10, time.Hour
	if ds.MaxOpenConns > 0 {
		maxOpen = ds.MaxOpenConns
	}
	if ds.MaxIdleConns > 0 {
		maxIdle = ds.MaxIdleConns
	}
	if ds.ConnMaxLife > 0 {
		life = ds.ConnMaxLife
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(life)
	if ds.ConnMaxIdle > 0 {
		db.SetConnMaxIdleTime(ds.ConnMaxIdle)
	}
}

func (c *GormComponent) Stop(ctx context.Context) error {
	c.closeAll(ctx)
	return c.BaseComponent.Stop(ctx)
}

func (c *GormComponent) closeAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, db := range c.dbs {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		logging.Infof(ctx, "[gorm] datasource %s closed", name)
	}
	c.dbs = make(map[string]*gorm.DB)
}

func (c *GormComponent) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, db := range c.dbs {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("datasource %s: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("datasource %s ping: %w", name, err)
		}
	}
	return nil
}

func (c *GormComponent) GetDB(name string) (*gorm.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[name]
	if !ok {
		return nil, fmt.Errorf("gorm datasource %s not found", name)
	}
	return db, nil
}

// runMigrations executes *.sql files in lexical order, statements split on ';'.
func runMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		for _, stmt := range strings.Split(string(b), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s: %w", f, err)
			}
		}
	}
	return nil
}
