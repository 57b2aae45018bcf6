package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/pkg/auth"
)

// doctorCmd registers doctors. Doctor profiles are owned by another system;
// this only creates the row booking needs.
func doctorCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Manage bookable doctors",
	}

	var (
		id          string
		fee         int64
		experience  int
		specialties []string
		inactive    bool
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			doctorID := uuid.New()
			if id != "" {
				if doctorID, err = uuid.Parse(id); err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
			}
			d, err := model.NewDoctor(model.NewDoctorParams{
				ID:              doctorID,
				ExperienceYears: experience,
				ConsultationFee: fee,
				IsActive:        !inactive,
				Specialties:     specialties,
			}, time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.NewStore(db, cfg.Booking.LockTimeout(), nil).InsertDoctor(ctx, d); err != nil {
				return err
			}
			log.Info("doctor created", "doctor_id", d.ID().String())
			fmt.Fprintln(cmd.OutOrStdout(), d.ID())
			return nil
		},
	}
	createCmd.Flags().StringVar(&id, "id", "", "doctor id, usually the user id from the identity system")
	createCmd.Flags().Int64Var(&fee, "fee", 0, "consultation fee in minor currency units")
	createCmd.Flags().IntVar(&experience, "experience", 0, "years of experience")
	createCmd.Flags().StringSliceVar(&specialties, "specialty", nil, "specialty, repeatable")
	createCmd.Flags().BoolVar(&inactive, "inactive", false, "register the doctor as not bookable")
	cmd.AddCommand(createCmd)

	return cmd
}

// tokenCmd issues bearer tokens for local testing
func tokenCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token helpers",
	}

	var (
		user string
		role string
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed token for a user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			actor := model.Actor{UserID: userID, Role: model.Role(role)}
			if !actor.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			tokens, err := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry())
			if err != nil {
				return err
			}
			token, err := tokens.Issue(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&user, "user", "", "user id")
	issueCmd.Flags().StringVar(&role, "role", string(model.RolePatient), "patient, doctor or admin")
	_ = issueCmd.MarkFlagRequired("user")
	cmd.AddCommand(issueCmd)

	return cmd
}
