package connectors

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Runner запускает внешние программы. Подменяется в тестах.
type Runner interface {
	// Start запускает процесс и не ждет его завершения.
	Start(ctx context.Context, argv []string) error
	// Run ждет завершения и возвращает stdout, stderr и код выхода.
	Run(ctx context.Context, dir string, argv []string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner: Runner поверх os/exec. Shell не используется.
type ExecRunner struct{}

func (ExecRunner) Start(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	// процесс живет дольше запроса, поэтому без ctx
	cmd := exec.Command(argv[0], argv[1:]...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, []byte, int, error) {
	if len(argv) == 0 {
		return nil, nil, -1, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return nil, nil, -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// SplitCommand режет строку команды на аргументы с учетом двойных кавычек.
func SplitCommand(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case (r == ' ' || r == '\t') && !inQuote:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}
