package app

import (
	"errors"
	"fmt"
	"io"
)

// Command はサブコマンド名。
type Command string

const (
	CommandServe       Command = "serve"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck" // distrolessイメージのHEALTHCHECK用
	CommandHelp        Command = "help"
)

// ErrUnknownCommand は未知のサブコマンドが指定された場合のエラー。
var ErrUnknownCommand = errors.New("unknown command")

// commands は使用方法の表示順を兼ねる。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "start the dashboard API and static file server (default)"},
	{CommandMigrate, "apply pending profile database migrations and exit"},
	{CommandHealthcheck, "check GET /health on the local server, exit non-zero unless 200"},
	{CommandHelp, "show this message"},
}

// ParseCommand は最初の引数をサブコマンドとして解釈する。
// 引数が無ければserve、-h/--helpはhelpとして扱う。
// タイプミスで意図せずサーバーが起動しないよう、未知のコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := args[0]
	if name == "-h" || name == "--help" {
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// Usage はサブコマンドの一覧をwに書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: weather-dashboard [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from environment variables and an optional .env file.")
}
