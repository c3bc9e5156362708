// fulfillctl is the operator CLI: stock adjustments, low-stock report, order
// inspection and approval, and API token issuance for local testing.
//
// Usage: go run ./cmd/fulfillctl <command> [args]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wholesale-fulfillment/internal/adapters/cli"
	webAdapter "wholesale-fulfillment/internal/adapters/web"
	"wholesale-fulfillment/internal/app"
	"wholesale-fulfillment/internal/audit"
	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/core"
	"wholesale-fulfillment/internal/db"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	args := os.Args[1:]

	if len(args) > 0 && args[0] == "token" {
		if err := issueToken(cfg.JWTSecret, args[1:]); err != nil {
			logger.WithError(err).Fatal("token")
		}
		return
	}

	actor, err := operatorActor()
	if err != nil {
		logger.WithError(err).Fatal("operator identity")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	defer pool.Close()

	dispatcher := audit.NewDispatcher(audit.NewPGWriter(pool), cfg.AuditBuffer, logger)
	seq := core.NewSequenceGenerator(pool)
	stock := core.NewStockLedger(pool, dispatcher)
	invoices := core.NewInvoiceService(pool, seq, dispatcher)
	orders := core.NewOrderService(pool, stock, seq, invoices, dispatcher)
	svc := app.NewAppService(pool, core.NewSettingsStore(pool), orders, invoices, stock, core.NewUserService(pool))

	runErr := cli.Run(ctx, svc, actor, args, os.Stdout)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		logger.WithError(err).Warn("audit queue not fully drained")
	}

	if runErr != nil {
		if errors.Is(runErr, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, runErr)
			os.Exit(2)
		}
		logger.WithField("code", core.CodeOf(runErr)).WithError(runErr).Fatal("command failed")
	}
}

// operatorActor reads OPERATOR_USER_ID and OPERATOR_ROLE (default ADMIN).
func operatorActor() (core.Actor, error) {
	id, err := strconv.Atoi(os.Getenv("OPERATOR_USER_ID"))
	if err != nil || id <= 0 {
		return core.Actor{}, errors.New("OPERATOR_USER_ID must be a positive user id")
	}
	role := core.Role(strings.ToUpper(os.Getenv("OPERATOR_ROLE")))
	if role == "" {
		role = core.RoleAdmin
	}
	if !role.Valid() {
		return core.Actor{}, fmt.Errorf("OPERATOR_ROLE %q is not a known role", role)
	}
	return core.Actor{ID: id, Role: role}, nil
}

// issueToken prints a signed API token: token <userID> <role> [ttl].
func issueToken(secret string, args []string) error {
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if len(args) < 2 {
		return errors.New("usage: token <userID> <role> [ttl]")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	role := core.Role(strings.ToUpper(args[1]))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", args[1])
	}
	ttl := time.Hour
	if len(args) > 2 {
		if ttl, err = time.ParseDuration(args[2]); err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
	}
	token, err := webAdapter.IssueToken(secret, core.Actor{ID: id, Role: role}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
