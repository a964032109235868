package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	sqlite3 "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/models"
)

// SQLiteStore is the on-device store. It keeps one connection open so that
// SQLite never reports a locked database to concurrent writers.
type SQLiteStore struct {
	db   *gorm.DB
	inTx bool
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.DB().SetMaxOpenConns(1)
	db.LogMode(false)

	if err := db.AutoMigrate(
		&models.Job{},
		&models.Technician{},
		&models.Asset{},
		&models.Checkout{},
		&models.Consumable{},
		&models.Usage{},
	).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	log.WithField("path", path).Info("SQLite store ready")
	return &SQLiteStore{db: db}, nil
}

// Transact implements Store.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}
	tx := s.db.BeginTx(ctx, nil)
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, &SQLiteStore{db: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			log.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

func (s *SQLiteStore) exists(model interface{}, where string, args ...interface{}) (bool, error) {
	var count int
	if err := s.db.Model(model).Where(where, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertJob implements JobCollection.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *models.Job) error {
	return translate(s.db.Create(job).Error)
}

// FindJobByID implements JobCollection.
func (s *SQLiteStore) FindJobByID(ctx context.Context, id int64) (*models.Job, error) {
	var job models.Job
	if err := s.db.Where("id = ?", id).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// FindJobByNumber implements JobCollection.
func (s *SQLiteStore) FindJobByNumber(ctx context.Context, number string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Where("job_number = ?", number).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// FindJobs implements JobCollection.
func (s *SQLiteStore) FindJobs(ctx context.Context, filter JobFilter) ([]models.Job, error) {
	q := s.db.Model(&models.Job{})
	if filter.TechnicianID != "" {
		q = q.Where("technician_id = ?", filter.TechnicianID)
	}
	if !filter.ScheduledFrom.IsZero() {
		q = q.Where("scheduled_at >= ?", filter.ScheduledFrom)
	}
	if !filter.ScheduledTo.IsZero() {
		q = q.Where("scheduled_at < ?", filter.ScheduledTo)
	}
	if filter.OnlyUnsynced {
		q = q.Where("needs_sync = ?", true)
	}
	var jobs []models.Job
	if err := q.Order("scheduled_at asc").Order("id asc").Find(&jobs).Error; err != nil {
		return nil, translate(err)
	}
	return jobs, nil
}

// UpdateJob implements JobCollection.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *models.Job) error {
	res := s.db.Model(&models.Job{}).
		Where("id = ? AND version = ?", job.ID, job.Version).
		UpdateColumns(jobColumns(job, job.Version+1))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := s.exists(&models.Job{}, "id = ?", job.ID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version++
	return nil
}

func jobColumns(job *models.Job, version int64) map[string]interface{} {
	return map[string]interface{}{
		"job_number":         job.JobNumber,
		"technician_id":      job.TechnicianID,
		"customer_name":      job.Customer.Name,
		"customer_phone":     job.Customer.Phone,
		"customer_email":     job.Customer.Email,
		"customer_address":   job.Customer.Address,
		"kind":               job.Kind,
		"priority":           job.Priority,
		"title":              job.Title,
		"description":        job.Description,
		"scheduled_at":       job.ScheduledAt,
		"duration_minutes":   job.DurationMinutes,
		"site_lat":           job.Site.Lat,
		"site_lon":           job.Site.Lon,
		"status_history":     job.History,
		"paused_duration":    job.PausedDuration,
		"work_summary":       job.WorkSummary,
		"follow_up":          job.FollowUp,
		"follow_up_required": job.FollowUpRequired,
		"signed_by":          job.SignedBy,
		"signature_uri":      job.SignatureURI,
		"before_evidence":    job.BeforeEvidence,
		"during_evidence":    job.DuringEvidence,
		"after_evidence":     job.AfterEvidence,
		"usage_summary":      job.UsageSummary,
		"needs_sync":         job.NeedsSync,
		"synced_at":          job.SyncedAt,
		"version":            version,
		"updated_at":         job.UpdatedAt,
	}
}

// InsertTechnician implements TechnicianCollection.
func (s *SQLiteStore) InsertTechnician(ctx context.Context, technician *models.Technician) error {
	return translate(s.db.Create(technician).Error)
}

// FindTechnicianByID implements TechnicianCollection.
func (s *SQLiteStore) FindTechnicianByID(ctx context.Context, id string) (*models.Technician, error) {
	var technician models.Technician
	if err := s.db.Where("id = ?", id).First(&technician).Error; err != nil {
		return nil, translate(err)
	}
	return &technician, nil
}

// FindTechnicianByUsername implements TechnicianCollection.
func (s *SQLiteStore) FindTechnicianByUsername(ctx context.Context, username string) (*models.Technician, error) {
	var technician models.Technician
	if err := s.db.Where("username = ?", username).First(&technician).Error; err != nil {
		return nil, translate(err)
	}
	return &technician, nil
}

// UpdateLastLogin implements TechnicianCollection.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res := s.db.Model(&models.Technician{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"last_login": at, "updated_at": at})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAsset implements AssetCollection.
func (s *SQLiteStore) InsertAsset(ctx context.Context, asset *models.Asset) error {
	return translate(s.db.Create(asset).Error)
}

// FindAssetByCode implements AssetCollection.
func (s *SQLiteStore) FindAssetByCode(ctx context.Context, code string) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.Where("code = ?", code).First(&asset).Error; err != nil {
		return nil, translate(err)
	}
	return &asset, nil
}

// FindAssets implements AssetCollection.
func (s *SQLiteStore) FindAssets(ctx context.Context, filter AssetFilter) ([]models.Asset, error) {
	q := s.db.Model(&models.Asset{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Available != nil {
		q = q.Where("available = ?", *filter.Available)
	}
	if filter.Holder != "" {
		q = q.Where("holder = ?", filter.Holder)
	}
	var assets []models.Asset
	if err := q.Order("code asc").Find(&assets).Error; err != nil {
		return nil, translate(err)
	}
	return assets, nil
}

// UpdateAsset implements AssetCollection.
func (s *SQLiteStore) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	res := s.db.Model(&models.Asset{}).
		Where("code = ? AND version = ?", asset.Code, asset.Version).
		UpdateColumns(map[string]interface{}{
			"name":             asset.Name,
			"category":         asset.Category,
			"serial_number":    asset.SerialNumber,
			"manufacturer":     asset.Manufacturer,
			"model":            asset.Model,
			"available":        asset.Available,
			"holder":           asset.Holder,
			"last_maintenance": asset.LastMaintenance,
			"next_maintenance": asset.NextMaintenance,
			"custody_history":  asset.History,
			"version":          asset.Version + 1,
			"updated_at":       asset.UpdatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := s.exists(&models.Asset{}, "code = ?", asset.Code)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return ErrConflict
	}
	asset.Version++
	return nil
}

// InsertCheckout implements CheckoutCollection.
func (s *SQLiteStore) InsertCheckout(ctx context.Context, checkout *models.Checkout) error {
	checkout.ID = 0
	return translate(s.db.Create(checkout).Error)
}

// FindCheckoutByID implements CheckoutCollection.
func (s *SQLiteStore) FindCheckoutByID(ctx context.Context, id int64) (*models.Checkout, error) {
	var checkout models.Checkout
	if err := s.db.Where("id = ?", id).First(&checkout).Error; err != nil {
		return nil, translate(err)
	}
	return &checkout, nil
}

// FindCheckouts implements CheckoutCollection.
func (s *SQLiteStore) FindCheckouts(ctx context.Context, filter CheckoutFilter) ([]models.Checkout, error) {
	q := s.db.Model(&models.Checkout{})
	if filter.AssetCode != "" {
		q = q.Where("asset_code = ?", filter.AssetCode)
	}
	if filter.Holder != "" {
		q = q.Where("holder = ?", filter.Holder)
	}
	if filter.JobID != nil {
		q = q.Where("job_id = ?", *filter.JobID)
	}
	if filter.OpenOnly {
		q = q.Where("returned_at IS NULL")
	}
	var checkouts []models.Checkout
	if err := q.Order("id asc").Find(&checkouts).Error; err != nil {
		return nil, translate(err)
	}
	return checkouts, nil
}

// CloseCheckout implements CheckoutCollection.
func (s *SQLiteStore) CloseCheckout(ctx context.Context, id int64, at time.Time, condition models.Condition, notes string) (*models.Checkout, error) {
	res := s.db.Model(&models.Checkout{}).
		Where("id = ? AND returned_at IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"returned_at":  at,
			"condition_in": condition,
			"return_notes": notes,
		})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := s.exists(&models.Checkout{}, "id = ?", id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		return nil, ErrGuardFailed
	}
	return s.FindCheckoutByID(ctx, id)
}

// InsertConsumable implements ConsumableCollection.
func (s *SQLiteStore) InsertConsumable(ctx context.Context, consumable *models.Consumable) error {
	return translate(s.db.Create(consumable).Error)
}

// FindConsumableByCode implements ConsumableCollection.
func (s *SQLiteStore) FindConsumableByCode(ctx context.Context, code string) (*models.Consumable, error) {
	var consumable models.Consumable
	if err := s.db.Where("code = ?", code).First(&consumable).Error; err != nil {
		return nil, translate(err)
	}
	return &consumable, nil
}

// FindConsumables implements ConsumableCollection.
func (s *SQLiteStore) FindConsumables(ctx context.Context, filter ConsumableFilter) ([]models.Consumable, error) {
	q := s.db.Model(&models.Consumable{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	var consumables []models.Consumable
	if err := q.Order("code asc").Find(&consumables).Error; err != nil {
		return nil, translate(err)
	}
	return consumables, nil
}

// AdjustStock implements ConsumableCollection.
func (s *SQLiteStore) AdjustStock(ctx context.Context, code string, delta float64, at time.Time) (*models.Consumable, error) {
	res := s.db.Model(&models.Consumable{}).
		Where("code = ? AND current_stock + ? >= 0", code, delta).
		UpdateColumns(map[string]interface{}{
			"current_stock": gorm.Expr("current_stock + ?", delta),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    at,
		})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := s.exists(&models.Consumable{}, "code = ?", code)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		return nil, ErrGuardFailed
	}
	return s.FindConsumableByCode(ctx, code)
}

// InsertUsage implements UsageCollection.
func (s *SQLiteStore) InsertUsage(ctx context.Context, usage *models.Usage) error {
	usage.ID = 0
	return translate(s.db.Create(usage).Error)
}

// FindUsages implements UsageCollection.
func (s *SQLiteStore) FindUsages(ctx context.Context, filter UsageFilter) ([]models.Usage, error) {
	q := s.db.Model(&models.Usage{})
	if filter.JobID != nil {
		q = q.Where("job_id = ?", *filter.JobID)
	}
	if filter.ConsumableCode != "" {
		q = q.Where("consumable_code = ?", filter.ConsumableCode)
	}
	var usages []models.Usage
	if err := q.Order("id asc").Find(&usages).Error; err != nil {
		return nil, translate(err)
	}
	return usages, nil
}
