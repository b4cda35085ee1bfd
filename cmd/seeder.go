package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/shop-orders/internal/auth"
	profilemodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/profile"
	"github.com/frahmantamala/shop-orders/internal/user"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with staff accounts and a demo profile",
	Long:  `Seed the database with back-office accounts and a storefront profile for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		deps, err := initializeDependencies()
		if err != nil {
			log.Fatalf("failed to init dependencies: %v", err)
		}
		defer deps.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		staff := []user.CreateStaffRequest{
			{
				Email:       "ops@shop.local",
				Name:        "Order Operations",
				Password:    seedPassword,
				Permissions: []string{auth.PermissionReplayPayments, auth.PermissionManageShipping},
			},
			{
				Email:       "admin@shop.local",
				Name:        "Shop Admin",
				Password:    seedPassword,
				Permissions: []string{auth.PermissionAdmin},
			},
		}

		for _, req := range staff {
			u, err := deps.UserService.EnsureStaff(ctx, req)
			if err != nil {
				log.Fatalf("failed to seed %s: %v", req.Email, err)
			}
			fmt.Printf("Seeded staff user %s with permissions %v\n", u.Email, u.Permissions)
		}

		demo := profilemodel.Profile{
			UserID:     "demo-customer",
			Email:      "marie@example.com",
			Nom:        "Curie",
			Prenom:     "Marie",
			Telephone:  "+33100000000",
			Adresse:    "1 rue Pierre et Marie Curie",
			CodePostal: "75005",
			Ville:      "Paris",
			Pays:       "France",
			UpdatedAt:  time.Now().UTC(),
		}
		if err := deps.Gorm.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&demo).Error; err != nil {
			log.Fatalf("failed to seed demo profile: %v", err)
		}
		fmt.Println("Seeded demo customer profile:", demo.UserID)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "password123", "password for the seeded staff accounts")
}
