package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/database"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/scheduler"
)

const usage = `Usage: dunning <command> [args]

Commands:
  run                    execute one dunning pass over all eligible subscriptions
  sync                   execute one provider import pass
  inspect <ref>          print the dunning decision for one subscription
  suspend <ref> [reason] force the suspend orchestration for one subscription
  reactivate <ref>       force the reactivate orchestration for one subscription

A <ref> is either the numeric id or the provider subscription id.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runPass(ctx)
	case "sync":
		err = scheduler.GetManager().RunSyncOnce(ctx)
	case "inspect":
		err = inspect(os.Args[2:])
	case "suspend":
		err = orchestrate(ctx, os.Args[2:], true)
	case "reactivate":
		err = orchestrate(ctx, os.Args[2:], false)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "dunning: %v\n", err)
		os.Exit(1)
	}
}

func runPass(ctx context.Context) error {
	result, err := scheduler.GetManager().RunDunningOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func inspect(args []string) error {
	sub, err := loadSubscription(args)
	if err != nil {
		return err
	}
	engine := dunning.NewEngineFromDB(
		database.GetDB(),
		gateway.NewWHMClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
		dunning.NewLocalLocker(),
	)
	decision, err := engine.Inspect(sub)
	if err != nil {
		return err
	}
	return printJSON(decision)
}

func orchestrate(ctx context.Context, args []string, suspend bool) error {
	sub, err := loadSubscription(args)
	if err != nil {
		return err
	}
	repo := dunning.NewRepository(database.GetDB())
	orch := dunning.NewOrchestrator(repo, gateway.NewWHMClientFromEnv(), gateway.NewStripeClientFromEnv())

	var result dunning.SuspendResult
	if suspend {
		reason := "suspended by operator"
		if len(args) > 1 {
			reason = args[1]
		}
		result, err = orch.Suspend(ctx, sub, reason)
	} else {
		result, err = orch.Reactivate(ctx, sub)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func loadSubscription(args []string) (*models.Subscription, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("missing subscription reference")
	}
	repo := dunning.NewRepository(database.GetDB())
	if id, err := strconv.ParseUint(args[0], 10, 64); err == nil {
		return repo.GetSubscription(uint(id))
	}
	return repo.GetSubscriptionByStripeID(args[0])
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
