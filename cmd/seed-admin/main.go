// seed-admin prepares a local database: it migrates, registers sample members, confirms them,
// and prints an official bearer token for the API.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin -members 10
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/mmdatafocus/hoa_backend/workflow"
)

func main() {
	username := flag.String("username", "hoaAdmin", "official username for the printed token")
	count := flag.Int("members", 5, "number of sample members to register")
	confirm := flag.Bool("confirm", true, "confirm the sample members so they can pay")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	actor := workflow.Actor{Username: *username, Role: utils.RoleOfficial}
	registry := workflow.NewMemberRegistry(db, nil)
	for i := 1; i <= *count; i++ {
		member, err := registry.Register(ctx, actor, models.NewMember{
			Name:    fmt.Sprintf("Sample Member %d", i),
			Address: fmt.Sprintf("Block %d Lot %d", (i-1)/10+1, i),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to register member %d: %v\n", i, err)
			os.Exit(1)
		}
		if *confirm {
			if _, err := registry.Confirm(ctx, actor, member.AccountNo); err != nil {
				fmt.Fprintf(os.Stderr, "failed to confirm member %s: %v\n", member.AccountNo, err)
				os.Exit(1)
			}
		}
		fmt.Printf("member %s %s\n", member.AccountNo, member.Name)
	}

	if _, err := workflow.NewDuesRegistry(db, nil).Get(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap dues: %v\n", err)
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*username, utils.RoleOfficial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("official token for %s:\n%s\n", *username, token)
}
