package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"barrier.org/internal/config"
	"barrier.org/internal/directory"
	"barrier.org/internal/gatectl"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "barrierctl",
		Short:         "Operator tool for the barrier gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHashPasswordCmd(), newEnvelopeCmd(), newOpenCmd(), newGatesCmd())
	return root
}

func newHashPasswordCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for a static directory entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), fromStdin)
			if err != nil {
				return err
			}
			hash, err := directory.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the password from the first line of stdin")
	return cmd
}

func readPassword(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", errors.New("empty password")
		}
		return line, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for interactive password prompt (use --stdin)")
	}
	fmt.Fprint(prompt, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("empty password")
	}
	return string(raw), nil
}

func newEnvelopeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envelope <controller-id>",
		Short: "Print the ControlAccess request body for a controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid controller id %q", args[0])
			}
			body, err := gatectl.Envelope(id)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}

func newOpenCmd() *cobra.Command {
	var (
		server   string
		id       int
		attempts int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Send an open sequence straight to a gate controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(server) == "" {
				server = os.Getenv("BARRIER_GATE_SERVER")
			}
			if strings.TrimSpace(server) == "" {
				return errors.New("--server (or BARRIER_GATE_SERVER) is required")
			}
			act := gatectl.New(server, gatectl.WithDelay(delay))
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := act.Actuate(ctx, id, attempts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "controller %d opened\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "controller endpoint URL")
	cmd.Flags().IntVar(&id, "id", 0, "controller device address")
	cmd.Flags().IntVar(&attempts, "attempts", 1, "number of calls to send")
	cmd.Flags().DurationVar(&delay, "delay", 100*time.Millisecond, "pause after each call")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newGatesCmd() *cobra.Command {
	var (
		path   string
		groups []string
	)
	cmd := &cobra.Command{
		Use:   "gates",
		Short: "List gates from a configuration file, optionally for a set of groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(path) == "" {
				path = os.Getenv("BARRIER_CONFIG")
			}
			if strings.TrimSpace(path) == "" {
				return errors.New("--config (or BARRIER_CONFIG) is required")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			cfg, err := config.Parse(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, ref := range cfg.UnknownGateRefs() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: undefined gate %s\n", ref)
			}

			mapper := cfg.Mapper()
			set := mapper.Gates()
			if cmd.Flags().Changed("groups") {
				set = mapper.Resolve(groups)
			}
			out := cmd.OutOrStdout()
			for _, g := range set {
				fmt.Fprintf(out, "%s\tid=%d\tretries=%d\t%s\n", g.Name, g.ID, g.Retries, g.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", "", "path to YAML configuration (default $BARRIER_CONFIG)")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "directory groups to resolve")
	return cmd
}
