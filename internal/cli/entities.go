package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"surplus-watcher/internal/app"
)

var (
	addEntityName      string
	addEntityRecipient string
	addEntityTimezone  string
	addEntityLatitude  float64
	addEntityLongitude float64
	addEntityRadius    int
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Manage monitored entities",
}

var entitiesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new monitored entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AddEntityOptions{
			Name:         addEntityName,
			Recipient:    addEntityRecipient,
			Timezone:     addEntityTimezone,
			Latitude:     addEntityLatitude,
			Longitude:    addEntityLongitude,
			RadiusMeters: addEntityRadius,
		}

		return getApp().AddEntity(cmd.Context(), opts)
	},
}

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListEntities(cmd.Context())
	},
}

var entitiesEnableCmd = &cobra.Command{
	Use:   "enable <entity-id>",
	Short: "Resume polling for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return errors.New("entity id is required")
		}
		return getApp().SetEntityEnabled(cmd.Context(), args[0], true)
	},
}

var entitiesDisableCmd = &cobra.Command{
	Use:   "disable <entity-id>",
	Short: "Stop polling for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return errors.New("entity id is required")
		}
		return getApp().SetEntityEnabled(cmd.Context(), args[0], false)
	},
}

func init() {
	entitiesAddCmd.Flags().StringVar(&addEntityName, "name", "", "Human readable entity name")
	entitiesAddCmd.Flags().StringVar(&addEntityRecipient, "recipient", "", "Notification recipient for this entity")
	entitiesAddCmd.Flags().StringVar(&addEntityTimezone, "timezone", "UTC", "IANA timezone the poll grid is anchored to")
	entitiesAddCmd.Flags().Float64Var(&addEntityLatitude, "lat", 0, "Search centre latitude")
	entitiesAddCmd.Flags().Float64Var(&addEntityLongitude, "lon", 0, "Search centre longitude")
	entitiesAddCmd.Flags().IntVar(&addEntityRadius, "radius", 5000, "Search radius in meters")

	entitiesCmd.AddCommand(entitiesAddCmd)
	entitiesCmd.AddCommand(entitiesListCmd)
	entitiesCmd.AddCommand(entitiesEnableCmd)
	entitiesCmd.AddCommand(entitiesDisableCmd)
}
