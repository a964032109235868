package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/auth"
	"github.com/ukydev/fieldops/internal/models"
)

type seedTechnician struct {
	id, username, name, pin string
}

var demoTechnicians = []seedTechnician{
	{"tech-1", "alex", "Alex Rivera", "1234"},
	{"tech-2", "sam", "Sam Okafor", "5678"},
}

// Seed loads a small demo data set. Records that already exist are left alone,
// so seeding an existing database is safe.
func Seed(ctx context.Context, store Store, now time.Time) error {
	for _, t := range demoTechnicians {
		hash, err := auth.HashPIN(t.pin)
		if err != nil {
			return err
		}
		err = store.InsertTechnician(ctx, &models.Technician{
			ID:        t.id,
			Username:  t.username,
			Name:      t.name,
			PINHash:   hash,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err := skipDuplicate(err); err != nil {
			return fmt.Errorf("seed technician %s: %w", t.username, err)
		}
	}

	nextService := now.AddDate(0, 1, 0)
	assets := []models.Asset{
		{Code: "A-100", Name: "Digital multimeter", Category: models.AssetCategoryMeter, Manufacturer: "Fluke", Model: "117"},
		{Code: "A-200", Name: "Extension ladder", Category: models.AssetCategoryEquipment},
		{Code: "A-300", Name: "Thermal camera", Category: models.AssetCategoryTool, Manufacturer: "FLIR", Model: "C5", NextMaintenance: &nextService},
		{Code: "A-400", Name: "Service van 12", Category: models.AssetCategoryVehicle},
	}
	for i := range assets {
		a := assets[i]
		a.Available = true
		a.CreatedAt, a.UpdatedAt = now, now
		if err := skipDuplicate(store.InsertAsset(ctx, &a)); err != nil {
			return fmt.Errorf("seed asset %s: %w", a.Code, err)
		}
	}

	consumables := []models.Consumable{
		{Code: "C-10", Name: "Cable ties", Category: "electrical", CurrentStock: 10, MinimumStock: 5, Unit: "pack"},
		{Code: "C-20", Name: "Copper pipe 15mm", Category: "plumbing", CurrentStock: 50, MinimumStock: 10, Unit: "m"},
		{Code: "C-30", Name: "Silicone sealant", Category: "plumbing", CurrentStock: 3, MinimumStock: 5, Unit: "tube"},
		{Code: "C-40", Name: "Refrigerant R32", Category: "hvac", CurrentStock: 12.5, MinimumStock: 2, Unit: "kg"},
	}
	for i := range consumables {
		c := consumables[i]
		c.CreatedAt, c.UpdatedAt = now, now
		if err := skipDuplicate(store.InsertConsumable(ctx, &c)); err != nil {
			return fmt.Errorf("seed consumable %s: %w", c.Code, err)
		}
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, now.Location())
	jobs := []models.Job{
		{
			ID: 1, JobNumber: "JOB-0001", TechnicianID: "tech-1",
			Customer: models.Customer{Name: "Harbour Cafe", Phone: "555-0101", Address: "12 Quay St"},
			Kind:     models.JobKindRepair, Priority: models.PriorityHigh,
			Title: "Espresso machine leaking", ScheduledAt: day, DurationMinutes: 90,
			Site: models.Location{Lat: -36.8436, Lon: 174.7669},
		},
		{
			ID: 2, JobNumber: "JOB-0002", TechnicianID: "tech-1",
			Customer: models.Customer{Name: "Lee Residence", Phone: "555-0144", Address: "4 Elm Rd"},
			Kind:     models.JobKindInstallation, Priority: models.PriorityMedium,
			Title: "Heat pump install", ScheduledAt: day.Add(3 * time.Hour), DurationMinutes: 180,
			Site: models.Location{Lat: -36.8600, Lon: 174.7800},
		},
		{
			ID: 3, JobNumber: "JOB-0003", TechnicianID: "tech-1",
			Customer: models.Customer{Name: "Northside Clinic", Phone: "555-0199", Address: "88 Great North Rd"},
			Kind:     models.JobKindInspection, Priority: models.PriorityLow,
			Title: "Annual electrical inspection", ScheduledAt: day.Add(7 * time.Hour), DurationMinutes: 60,
		},
		{
			ID: 4, JobNumber: "JOB-0004", TechnicianID: "tech-2",
			Customer: models.Customer{Name: "Bayview Apartments", Address: "200 Marine Pde"},
			Kind:     models.JobKindService, Priority: models.PriorityMedium,
			Title: "Boiler service", ScheduledAt: day.Add(time.Hour), DurationMinutes: 120,
		},
	}
	for i := range jobs {
		j := jobs[i]
		j.CreatedAt, j.UpdatedAt = now, now
		if err := skipDuplicate(store.InsertJob(ctx, &j)); err != nil {
			return fmt.Errorf("seed job %s: %w", j.JobNumber, err)
		}
	}

	log.WithFields(log.Fields{
		"technicians": len(demoTechnicians),
		"assets":      len(assets),
		"consumables": len(consumables),
		"jobs":        len(jobs),
	}).Info("Demo data seeded")
	return nil
}

func skipDuplicate(err error) error {
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}
