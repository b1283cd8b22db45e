package writer

import (
	"fmt"
	"regexp"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ibtrading/logger"
	"ibtrading/models"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// BarStore appends bars to SQLite tables, one table per instrument.
type BarStore struct {
	db        *gorm.DB
	path      string
	batchSize int
	log       *logger.Entry
}

// OpenBarStore opens or creates the database at path. batchSize bounds the
// rows of one INSERT statement.
func OpenBarStore(path string, batchSize int) (*BarStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &BarStore{
		db:        db,
		path:      path,
		batchSize: batchSize,
		log:       logger.GetLogger().WithComponent("bar_store").WithFields(logger.Fields{"path": path}),
	}, nil
}

// Save inserts bars into table, creating it when missing. Rows are only
// appended; a bar whose date is already stored fails the call.
func (s *BarStore) Save(table string, bars []models.Bar) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if err := s.db.Table(table).AutoMigrate(&BarRecord{}); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if len(bars) == 0 {
		return nil
	}
	rows := Records(bars)
	if err := s.db.Table(table).CreateInBatches(rows, s.batchSize).Error; err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	logger.LogDataFlowEntry(s.log, "session", "sqlite:"+table, len(rows), "bars")
	return nil
}

// Load returns the rows of table ordered by date.
func (s *BarStore) Load(table string) ([]BarRecord, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	var rows []BarRecord
	if err := s.db.Table(table).Order("date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return rows, nil
}

func (s *BarStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
