package hubd

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattisv/tradetalk/internal/chat"
)

// SeedPassword is the password for every seeded demo account.
const SeedPassword = "tradetalk"

// seed installs demo users and jobs so a fresh daemon is usable
// immediately. Re-running against an existing database is a no-op.
func (d *Daemon) seed(ctx context.Context) error {
	hash, err := HashPassword(SeedPassword)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	users := []User{
		{
			ID:           "user-sarah",
			Email:        "sarah@example.com",
			DisplayName:  "Sarah Whitfield",
			Phone:        "+44 7700 900123",
			Role:         chat.RoleHomeowner,
			PasswordHash: hash,
		},
		{
			ID:           "user-tom",
			Email:        "tom@example.com",
			DisplayName:  "Tom Barker",
			Phone:        "+44 7700 900456",
			Role:         chat.RoleTrader,
			PasswordHash: hash,
		},
		{
			ID:           "user-priya",
			Email:        "priya@example.com",
			DisplayName:  "Priya Shah",
			Role:         chat.RoleTrader,
			PasswordHash: hash,
		},
	}

	for _, u := range users {
		if err := d.store.CreateUser(ctx, u); err != nil {
			if errors.Is(err, ErrUserExists) {
				// Already seeded.
				return nil
			}
			return err
		}
	}

	jobs := []Job{
		{ID: "job-bathroom", OwnerID: "user-sarah", Title: "Bathroom refit"},
		{ID: "job-boiler", OwnerID: "user-sarah", Title: "Boiler replacement"},
	}
	for _, j := range jobs {
		if err := d.store.CreateJob(ctx, j); err != nil {
			return err
		}
	}

	d.logger.Info().Int("users", len(users)).Int("jobs", len(jobs)).Msg("seeded demo data")
	return nil
}
