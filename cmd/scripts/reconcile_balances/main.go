package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/logger"
)

// reconcile_balances compares every credit balance with the sums of its
// transactions and optionally rewrites the drifted rows.
func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	fix := flag.Bool("fix", false, "overwrite drifted balances with the ledger sums")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	db, err := models.Open(&cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	drifted, err := run(services.NewCreditService(db, nil), *fix)
	if err != nil {
		logger.Errorf("Reconcile failed: %v", err)
	}
	if err != nil || (drifted && !*fix) {
		exitCode = 1
	}
}

func run(credits *services.CreditService, fix bool) (bool, error) {
	drifts, err := credits.Reconcile(context.Background(), fix)
	if err != nil {
		return false, err
	}

	if len(drifts) == 0 {
		fmt.Println("All balances match the ledger.")
		return false, nil
	}

	fmt.Printf("%-8s %12s %12s %12s %12s %12s %12s\n",
		"USER", "BALANCE", "LEDGER", "SPENT", "LEDGER_SPENT", "EARNED", "LEDGER_EARN")
	for _, d := range drifts {
		fmt.Printf("%-8d %12d %12d %12d %12d %12d %12d\n",
			d.UserID, d.Balance, d.LedgerSum, d.TotalSpent, d.LedgerSpent, d.TotalEarned, d.LedgerEarned)
	}
	if fix {
		fmt.Printf("Reset %d balances.\n", len(drifts))
	} else {
		fmt.Printf("%d balances drifted; rerun with -fix to reset them.\n", len(drifts))
	}
	return true, nil
}
