package config

import (
	"fmt"

	"reservas/internal/models"
)

// CourtConfig is one entry of the court catalog synced into the store at startup.
type CourtConfig struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	HourlyPrice int64  `yaml:"hourly_price"`
	IsActive    bool   `yaml:"is_active"`
}

func validateCourts(courts []CourtConfig) error {
	ids := make(map[int64]bool)
	for i, c := range courts {
		if c.ID <= 0 {
			return fmt.Errorf("courts[%d]: id must be positive, got %d", i, c.ID)
		}
		if ids[c.ID] {
			return fmt.Errorf("courts[%d]: duplicate id %d", i, c.ID)
		}
		ids[c.ID] = true

		if c.Name == "" {
			return fmt.Errorf("courts[%d]: name is required", i)
		}
		if c.HourlyPrice <= 0 {
			return fmt.Errorf("courts[%d]: hourly_price must be positive", i)
		}
	}
	return nil
}

// CourtModels returns the catalog as store rows.
func (c *Config) CourtModels() []models.Court {
	out := make([]models.Court, 0, len(c.Courts))
	for _, court := range c.Courts {
		out = append(out, models.Court{
			ID:          court.ID,
			Name:        court.Name,
			HourlyPrice: court.HourlyPrice,
			IsActive:    court.IsActive,
		})
	}
	return out
}
