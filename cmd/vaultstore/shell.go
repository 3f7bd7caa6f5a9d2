package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/objectfs/vaultstore/pkg/types"
)

var shellCommands = map[string]func(sh *shell, ctx context.Context, args []string) error{
	"session":  (*shell).session,
	"create":   (*shell).create,
	"read":     (*shell).read,
	"write":    (*shell).write,
	"stat":     (*shell).stat,
	"versions": (*shell).versions,
	"metrics":  (*shell).metrics,
	"help":     (*shell).help,
}

var shellHelp = []string{
	"session <user> - Open a session for user",
	"create <level> <text...> - Store text and print its id",
	"read <id> - Print the content of id",
	"write <id> <text...> - Replace the content of id",
	"stat <id> - Print the metadata record of id",
	"versions <id> - Print the version history of id",
	"metrics - Collect and print system metrics",
	"help - Show this help message",
	"quit - Shut down and exit",
}

type shell struct {
	app       *app
	sessionID string
	user      string
}

func (a *app) shell(ctx context.Context) error {
	sh := &shell{app: a}
	fmt.Fprintln(a.stdout, "vaultstore shell - type 'help' for commands")

	scanner := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.stdout, "vault> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.stdout)
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if name == "quit" || name == "exit" {
			return nil
		}

		handler, ok := shellCommands[name]
		if !ok {
			fmt.Fprintf(a.stdout, "Unknown command: %s\n", name)
			continue
		}
		if err := handler(sh, ctx, fields[1:]); err != nil {
			fmt.Fprintf(a.stdout, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (sh *shell) requireSession() error {
	if sh.sessionID == "" {
		return fmt.Errorf("no session; run 'session <user>' first")
	}
	return nil
}

func (sh *shell) session(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: session <user>")
	}
	id, err := sh.app.session(args[0])
	if err != nil {
		return err
	}
	sh.sessionID, sh.user = id, args[0]
	fmt.Fprintf(sh.app.stdout, "session opened for %s\n", sh.user)
	return nil
}

func (sh *shell) create(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create <level> <text...>")
	}
	if err := sh.requireSession(); err != nil {
		return err
	}
	level, err := types.ParseSecurityLevel(args[0])
	if err != nil {
		return err
	}
	id, err := sh.app.coordinator.CreateFile(ctx, sh.sessionID, []byte(strings.Join(args[1:], " ")), level)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.app.stdout, id)
	return nil
}

func (sh *shell) read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read <id>")
	}
	if err := sh.requireSession(); err != nil {
		return err
	}
	data, err := sh.app.coordinator.ReadFile(ctx, args[0], sh.sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.app.stdout, string(data))
	return nil
}

func (sh *shell) write(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <id> <text...>")
	}
	if err := sh.requireSession(); err != nil {
		return err
	}
	if err := sh.app.coordinator.WriteFile(ctx, args[0], sh.sessionID, []byte(strings.Join(args[1:], " "))); err != nil {
		return err
	}
	fmt.Fprintln(sh.app.stdout, "ok")
	return nil
}

func (sh *shell) stat(_ context.Context, args []string) error {
	return sh.app.stat(args)
}

func (sh *shell) versions(_ context.Context, args []string) error {
	return sh.app.versions(args)
}

func (sh *shell) metrics(_ context.Context, _ []string) error {
	return writeJSON(sh.app.stdout, sh.app.coordinator.CollectMetrics())
}

func (sh *shell) help(_ context.Context, _ []string) error {
	for _, usage := range shellHelp {
		fmt.Fprintln(sh.app.stdout, "  "+usage)
	}
	return nil
}
