// Command gateway - CLI и HTTP сервер шлюза исполнения ордеров.
//
// Использование:
//
//	gateway <command> [flags]
//
// Команды работы с ордерами используют общую конфигурацию из окружения
// (и .env), восстанавливают ордера из хранилища и пишут изменения обратно.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"execgateway/internal/config"
	"execgateway/pkg/utils"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run возвращает код выхода: 0 - успех, 1 - любая ошибка
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	name, rest := args[0], args[1:]

	// Команды без конфигурации и хранилища
	switch name {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "hash-token":
		return exitCode(stderr, runHashToken(rest, stdout))
	case "encrypt-secret":
		return exitCode(stderr, runEncryptSecret(rest, stdout))
	}

	if name != "serve" && name != "interactive" && findCommand(name) == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		printUsage(stderr)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, renderError(fmt.Errorf("config: %w", err)))
		return 1
	}

	utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer utils.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, stdin, stdout)
	if err != nil {
		fmt.Fprintln(stderr, renderError(err))
		return 1
	}
	defer a.Close()

	switch name {
	case "serve":
		err = a.serve(ctx, rest)
	case "interactive":
		err = a.interactive(ctx)
	default:
		err = a.dispatch(ctx, name, rest)
	}
	return exitCode(stderr, err)
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, renderError(err))
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("execgateway - order management and execution gateway"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: gateway <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "  %-16s %s\n", "interactive", "read commands from stdin")
	fmt.Fprintf(w, "  %-16s %s\n", "serve", "run REST/WebSocket API (--addr)")
	fmt.Fprintf(w, "  %-16s %s\n", "hash-token", "print bcrypt hash for API_TOKEN_HASH (--token, generated if empty)")
	fmt.Fprintf(w, "  %-16s %s\n", "encrypt-secret", "encrypt API secret for DERIBIT_SECRET_ENC (--secret, --key)")
}
