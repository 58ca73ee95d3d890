// Command ledgerctl inspects and adjusts shop credit balances directly
// against the configured store.
//
//	ledgerctl balance -shop demo
//	ledgerctl history -shop demo -limit 20
//	ledgerctl grant -shop demo -amount 50 -key support-1234 -note "refund"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fitroom/fitroom-api/internal/config"
	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/stores"
)

var errUsage = errors.New("usage: ledgerctl <balance|history|grant> -shop <shop> [flags]")

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: "warn", Environment: cfg.Env})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	set, err := stores.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer set.Close()

	if set.Driver == config.StoreMemory {
		fmt.Fprintln(os.Stderr, "warning: STORE_DRIVER=memory, changes are not persisted")
	}

	ledger := credit.NewLedger(set.Credits, cfg.WelcomeCredits)
	if err := run(ctx, ledger, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, ledger *credit.Ledger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	rawShop := fs.String("shop", "", "shop domain or handle")
	amount := fs.Int("amount", 0, "credits to grant")
	key := fs.String("key", "", "idempotency key of the grant")
	note := fs.String("note", "manual grant", "ledger entry description")
	limit := fs.Int("limit", 20, "history page size")
	offset := fs.Int("offset", 0, "history offset")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	shopKey, err := shop.Resolve(*rawShop)
	if err != nil {
		return fmt.Errorf("shop %q: %w", *rawShop, err)
	}

	switch args[0] {
	case "balance":
		acc, err := ledger.Account(ctx, shopKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\tbalance=%d\tlifetime=%d\tgenerations=%d\n", acc.ShopKey, acc.Balance, acc.LifetimeCredits, acc.TotalGenerations)
		return nil

	case "history":
		entries, err := ledger.History(ctx, shopKey, credit.Pagination{Limit: *limit, Offset: *offset})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tKIND\tDELTA\tBALANCE\tREFERENCE\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\t%s\t%s\n",
				e.CreatedAt.UTC().Format(time.RFC3339), e.Kind, e.Delta, e.BalanceAfter, e.Reference, e.Description)
		}
		return tw.Flush()

	case "grant":
		if *key == "" {
			return fmt.Errorf("%w: grant requires -key", errUsage)
		}
		res, err := ledger.Credit(ctx, shopKey, *amount, credit.KindAdminGrant, "grant:"+*key, *note)
		if err != nil {
			return err
		}
		if !res.Applied {
			fmt.Fprintf(out, "%s\tgrant %q already applied\tbalance=%d\n", shopKey, *key, res.Balance)
			return nil
		}
		fmt.Fprintf(out, "%s\tgranted %d\tbalance=%d\n", shopKey, *amount, res.Balance)
		return nil

	default:
		return errUsage
	}
}
