package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcoach/assessment-engine/internal/api"
	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/services"
)

func runMigrateRoles(cmd *cobra.Command, _ []string) error {
	log, err := logger.New(flagLogMode)
	if err != nil {
		return err
	}
	defer log.Sync()
	store, closeStore, err := openStore(log, flagDBPath)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := services.NewRoleRegistry(api.NewRoleStore(store), log).MigrateLegacyActors()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d actors\n", n)
	return nil
}

func runActorAdd(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	id, _ := f.GetString("id")
	email, _ := f.GetString("email")
	name, _ := f.GetString("name")
	password, _ := f.GetString("password")
	roles, _ := f.GetStringSlice("role")
	employer, _ := f.GetString("employer")

	for _, r := range roles {
		if _, err := services.ParseRole(r); err != nil {
			return fmt.Errorf("role %q: %w", r, err)
		}
	}
	hash, err := services.HashPassword(password)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	log, err := logger.New(flagLogMode)
	if err != nil {
		return err
	}
	defer log.Sync()
	store, closeStore, err := openStore(log, flagDBPath)
	if err != nil {
		return err
	}
	defer closeStore()

	err = store.AddActor(&api.Actor{
		ID:               id,
		Email:            email,
		DisplayName:      name,
		PassHash:         hash,
		Roles:            roles,
		LinkedEmployerID: strings.TrimSpace(employer),
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
