package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stock_bot/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists bot portfolios in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (and creates when missing) the portfolio database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := db.AutoMigrate(&domain.PortfolioRecord{}, &domain.HoldingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Portfolio Operations
// ======================================================================================

// CreatePortfolio inserts a new portfolio with its holdings.
func (s *Storage) CreatePortfolio(p *domain.Portfolio) error {
	return s.db.Create(p.ToRecord()).Error
}

// LoadPortfolio reads one portfolio. It returns domain.ErrPortfolioNotFound when missing.
func (s *Storage) LoadPortfolio(name string) (*domain.Portfolio, error) {
	var rec domain.PortfolioRecord
	err := s.db.Preload("Holdings").First(&rec, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPortfolioNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return domain.PortfolioFromRecord(&rec), nil
}

// SavePortfolio replaces cash and holdings in one transaction.
func (s *Storage) SavePortfolio(p *domain.Portfolio) error {
	rec := p.ToRecord()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.PortfolioRecord{}).Where("name = ?", rec.Name).Update("free_cash", rec.FreeCash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", domain.ErrPortfolioNotFound, rec.Name)
		}
		if err := tx.Where("portfolio = ?", rec.Name).Delete(&domain.HoldingRecord{}).Error; err != nil {
			return err
		}
		if len(rec.Holdings) == 0 {
			return nil
		}
		return tx.Create(&rec.Holdings).Error
	})
}

// ListPortfolios returns every portfolio name in order.
func (s *Storage) ListPortfolios() ([]string, error) {
	var names []string
	err := s.db.Model(&domain.PortfolioRecord{}).Order("name").Pluck("name", &names).Error
	return names, err
}

// DeletePortfolio removes a portfolio and its holdings.
func (s *Storage) DeletePortfolio(name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("portfolio = ?", name).Delete(&domain.HoldingRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&domain.PortfolioRecord{}).Error
	})
}
