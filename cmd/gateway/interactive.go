package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
)

const prompt = "execgateway> "

// interactive читает команды построчно до EOF, exit или отмены контекста.
// Ошибка команды выводится и не прерывает сессию.
func (a *app) interactive(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	fmt.Fprintln(a.out, titleStyle.Render("execgateway interactive mode")+dimStyle.Render(" (help, exit)"))

	for {
		fmt.Fprint(a.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			for _, c := range commands {
				fmt.Fprintf(a.out, "  %-16s %s\n", c.name, c.summary)
			}
			continue
		}

		err := a.dispatch(ctx, fields[0], fields[1:])
		switch {
		case err == nil, errors.Is(err, flag.ErrHelp):
		case errors.Is(err, errExchange):
			// результат уже выведен
		default:
			fmt.Fprintln(a.out, renderError(err))
		}
	}
}
