// Package database 提供导入记录与层级树的PostgreSQL持久化
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/model"
)

// PostgreSQLDB PostgreSQL数据库
type PostgreSQLDB struct {
	db     *gorm.DB
	config config.DatabaseConfig
	log    *logrus.Entry
}

// NewPostgreSQLDB 创建PostgreSQL数据库连接
func NewPostgreSQLDB(cfg config.DatabaseConfig, log *logrus.Logger) (*PostgreSQLDB, error) {
	entry := logrus.NewEntry(log).WithField("component", "database")
	if cfg.Schema == "" {
		cfg.Schema = "bc3tree"
		entry.Warn("schema为空，使用默认值 bc3tree")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)).Error; err != nil {
		return nil, fmt.Errorf("创建schema失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("SET search_path TO %s", cfg.Schema)).Error; err != nil {
		return nil, fmt.Errorf("设置schema失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库ping失败: %w", err)
	}
	entry.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.Database, "schema": cfg.Schema}).Info("数据库连接成功")

	return &PostgreSQLDB{db: db, config: cfg, log: entry}, nil
}

// CreateTables 创建表结构
func (p *PostgreSQLDB) CreateTables(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&ImportRecord{}, &TreeNodeRecord{}); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}
	return nil
}

// CreateImport 创建导入记录
func (p *PostgreSQLDB) CreateImport(ctx context.Context, rec *ImportRecord) error {
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		p.log.WithError(err).WithField("import_id", rec.ID).Error("创建导入记录失败")
		return fmt.Errorf("创建导入记录失败: %w", err)
	}
	return nil
}

// GetImport 获取导入记录
func (p *PostgreSQLDB) GetImport(ctx context.Context, importID string) (*ImportRecord, error) {
	var rec ImportRecord
	err := p.db.WithContext(ctx).First(&rec, "id = ?", importID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NewNotFoundError(fmt.Sprintf("导入记录不存在: %s", importID))
		}
		return nil, fmt.Errorf("获取导入记录失败: %w", err)
	}
	return &rec, nil
}

// UpdateImport 更新导入记录
func (p *PostgreSQLDB) UpdateImport(ctx context.Context, rec *ImportRecord) error {
	rec.UpdatedAt = time.Now()
	if err := p.db.WithContext(ctx).Save(rec).Error; err != nil {
		p.log.WithError(err).WithField("import_id", rec.ID).Error("更新导入记录失败")
		return fmt.Errorf("更新导入记录失败: %w", err)
	}
	return nil
}

// ListImports 按创建时间倒序列出导入记录
func (p *PostgreSQLDB) ListImports(ctx context.Context, limit, offset int) ([]*ImportRecord, error) {
	var recs []*ImportRecord
	err := p.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("列出导入记录失败: %w", err)
	}
	return recs, nil
}

// DeleteImport 删除导入记录及其节点
func (p *PostgreSQLDB) DeleteImport(ctx context.Context, importID string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("import_id = ?", importID).Delete(&TreeNodeRecord{}).Error; err != nil {
			return fmt.Errorf("删除树节点失败: %w", err)
		}
		if err := tx.Delete(&ImportRecord{}, "id = ?", importID).Error; err != nil {
			return fmt.Errorf("删除导入记录失败: %w", err)
		}
		return nil
	})
}

// SaveTree 在一个事务中替换导入的全部节点
func (p *PostgreSQLDB) SaveTree(ctx context.Context, importID string, tree *model.Tree) error {
	records, err := NodeRecordsFromTree(importID, tree)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("import_id = ?", importID).Delete(&TreeNodeRecord{}).Error; err != nil {
			return fmt.Errorf("清理旧节点失败: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Omit("id").CreateInBatches(records, p.config.BatchSize).Error; err != nil {
			return fmt.Errorf("批量插入树节点失败: %w", err)
		}
		return nil
	})
	if err != nil {
		p.log.WithError(err).WithField("import_id", importID).Error("保存树失败")
		return err
	}

	p.log.WithFields(logrus.Fields{
		"import_id":  importID,
		"nodes":      len(records),
		"batch_size": p.config.BatchSize,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("树节点已保存")
	return nil
}

// LoadTree 读取导入的全部节点并重建树
func (p *PostgreSQLDB) LoadTree(ctx context.Context, importID string) (*model.Tree, error) {
	var records []*TreeNodeRecord
	err := p.db.WithContext(ctx).Where("import_id = ?", importID).Order("position ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("读取树节点失败: %w", err)
	}
	if len(records) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("导入 %s 没有树节点", importID))
	}
	return TreeFromRecords(records)
}

// GetNode 获取单个节点
func (p *PostgreSQLDB) GetNode(ctx context.Context, importID, code string) (*TreeNodeRecord, error) {
	var rec TreeNodeRecord
	err := p.db.WithContext(ctx).First(&rec, "import_id = ? AND code = ?", importID, code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NewNotFoundError(fmt.Sprintf("节点不存在: %s", code))
		}
		return nil, fmt.Errorf("获取节点失败: %w", err)
	}
	return &rec, nil
}

// GetRoots 获取根节点
func (p *PostgreSQLDB) GetRoots(ctx context.Context, importID string) ([]*TreeNodeRecord, error) {
	return p.findNodes(ctx, "获取根节点失败", "import_id = ? AND parent_code = ''", importID)
}

// GetChildrenByParentCode 获取父节点的直接子节点
func (p *PostgreSQLDB) GetChildrenByParentCode(ctx context.Context, importID, parentCode string) ([]*TreeNodeRecord, error) {
	return p.findNodes(ctx, fmt.Sprintf("获取父节点 %s 的子节点失败", parentCode),
		"import_id = ? AND parent_code = ?", importID, parentCode)
}

// GetNodesByLevel 获取指定层级的节点
func (p *PostgreSQLDB) GetNodesByLevel(ctx context.Context, importID string, level int) ([]*TreeNodeRecord, error) {
	return p.findNodes(ctx, fmt.Sprintf("获取第%d层节点失败", level), "import_id = ? AND level = ?", importID, level)
}

// GetNodesWithMeasurements 获取带测量的节点
func (p *PostgreSQLDB) GetNodesWithMeasurements(ctx context.Context, importID string) ([]*TreeNodeRecord, error) {
	return p.findNodes(ctx, "获取带测量节点失败", "import_id = ? AND measurements IS NOT NULL", importID)
}

func (p *PostgreSQLDB) findNodes(ctx context.Context, failMsg string, query string, args ...interface{}) ([]*TreeNodeRecord, error) {
	var records []*TreeNodeRecord
	err := p.db.WithContext(ctx).Where(query, args...).Order("position ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%s: %w", failMsg, err)
	}
	return records, nil
}

// Close 关闭数据库连接
func (p *PostgreSQLDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 测试连接
func (p *PostgreSQLDB) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetDB 获取原始数据库连接
func (p *PostgreSQLDB) GetDB() *gorm.DB {
	return p.db
}

// DatabaseInterface 数据库接口
type DatabaseInterface interface {
	CreateTables(ctx context.Context) error
	CreateImport(ctx context.Context, rec *ImportRecord) error
	GetImport(ctx context.Context, importID string) (*ImportRecord, error)
	UpdateImport(ctx context.Context, rec *ImportRecord) error
	ListImports(ctx context.Context, limit, offset int) ([]*ImportRecord, error)
	DeleteImport(ctx context.Context, importID string) error

	// 层级树
	SaveTree(ctx context.Context, importID string, tree *model.Tree) error
	LoadTree(ctx context.Context, importID string) (*model.Tree, error)
	GetNode(ctx context.Context, importID, code string) (*TreeNodeRecord, error)
	GetRoots(ctx context.Context, importID string) ([]*TreeNodeRecord, error)
	GetChildrenByParentCode(ctx context.Context, importID, parentCode string) ([]*TreeNodeRecord, error)
	GetNodesByLevel(ctx context.Context, importID string, level int) ([]*TreeNodeRecord, error)
	GetNodesWithMeasurements(ctx context.Context, importID string) ([]*TreeNodeRecord, error)

	Close() error
	Ping(ctx context.Context) error
}

var _ DatabaseInterface = (*PostgreSQLDB)(nil)
