package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/coordinator"
	"github.com/objectfs/vaultstore/pkg/retry"
	"github.com/objectfs/vaultstore/pkg/types"
)

type app struct {
	coordinator *coordinator.Coordinator
	stdin       io.Reader
	stdout      io.Writer
	logger      *zap.Logger
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "put":
		return a.put(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "update":
		return a.update(ctx, args)
	case "stat":
		return a.stat(args)
	case "versions":
		return a.versions(args)
	case "recover":
		return a.recover(ctx)
	case "shell":
		return a.shell(ctx)
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "vaultstore"
}

func (a *app) session(user string) (string, error) {
	id, err := a.coordinator.CreateSession(user)
	if err != nil {
		return "", fmt.Errorf("session for %q refused: %w", user, err)
	}
	return id, nil
}

func (a *app) put(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	user := fs.String("user", defaultUser(), "User owning the session")
	level := fs.String("level", "PUBLIC", "Security level (PUBLIC, CONFIDENTIAL, SECRET, TOP_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: put [-user U] [-level L] FILE")
	}

	lvl, err := types.ParseSecurityLevel(*level)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	sessionID, err := a.session(*user)
	if err != nil {
		return err
	}

	id, err := a.coordinator.CreateFile(ctx, sessionID, data, lvl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, id)
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	user := fs.String("user", defaultUser(), "User owning the session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: get [-user U] ID")
	}

	sessionID, err := a.session(*user)
	if err != nil {
		return err
	}
	data, err := a.coordinator.ReadFile(ctx, fs.Arg(0), sessionID)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	user := fs.String("user", defaultUser(), "User owning the session")
	attempts := fs.Int("attempts", 5, "Attempts while the file is locked by another user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: update [-user U] [-attempts N] ID FILE")
	}

	id := fs.Arg(0)
	data, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return err
	}
	sessionID, err := a.session(*user)
	if err != nil {
		return err
	}

	retryer := retry.New(retry.DefaultConfig()).
		WithMaxAttempts(*attempts).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			a.logger.Info("Write contended, retrying",
				zap.String("file_id", id),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		})

	return retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return a.coordinator.WriteFile(ctx, id, sessionID, data)
	})
}

func (a *app) stat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stat ID")
	}
	rec, err := a.coordinator.Stat(args[0])
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, struct {
		ID string `json:"id"`
		types.FileRecord
		Level string `json:"level"`
	}{ID: rec.ID, FileRecord: rec, Level: rec.SecurityLevel.String()})
}

func (a *app) versions(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: versions ID")
	}
	for _, v := range a.coordinator.Versions(args[0]) {
		fmt.Fprintln(a.stdout, v)
	}
	return nil
}

func (a *app) recover(ctx context.Context) error {
	if err := a.coordinator.EnterMaintenance(); err != nil {
		return err
	}
	n, err := a.coordinator.Recover(ctx)
	if exitErr := a.coordinator.ExitMaintenance(); exitErr != nil && err == nil {
		err = exitErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "recovered %d file(s)\n", n)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
