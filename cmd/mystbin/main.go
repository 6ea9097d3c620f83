package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tombowditch/mystbin-go/client"
	"github.com/tombowditch/mystbin-go/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	baseURL    string
	debug      bool

	log    *logrus.Logger
	client *client.Client
}

func newRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:          "mystbin",
		Short:        "Create, fetch and delete pastes on mystb.in",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.client != nil {
				return a.client.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "Config file path")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "mystbin instance to talk to")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Log request retries and rate limits to stderr")

	root.AddCommand(
		a.versionCmd(),
		a.createCmd(),
		a.getCmd(),
		a.deleteCmd(),
		a.mineCmd(),
	)
	return root
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mystbin", "config.yaml")
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}

	a.log.SetOutput(cmd.ErrOrStderr())
	a.log.SetLevel(logrus.WarnLevel)
	if a.debug || cfg.Debug {
		a.log.SetLevel(logrus.DebugLevel)
	}

	opts := []client.Option{
		client.WithBaseURL(cfg.BaseURL),
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(a.log),
	}
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	a.client = client.New(opts...)
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print library and runtime versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mystbin-go v%s\n", client.Version)
			fmt.Fprintf(out, "%s\n", runtime.Version())
			fmt.Fprintf(out, "%s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var password, name string
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "create [file...]",
		Short: "Create a paste from files, or from stdin when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readFiles(cmd.InOrStdin(), name, args)
			if err != nil {
				return err
			}

			opts := client.CreateOptions{Password: password}
			if expires > 0 {
				opts.Expires = time.Now().Add(expires)
			}

			p, err := a.client.CreatePaste(cmd.Context(), files, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.URL())
			fmt.Fprintf(out, "security token: %s\n", p.SecurityToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Protect the paste with a password")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Expire the paste after this long (e.g. 24h)")
	cmd.Flags().StringVar(&name, "name", "stdin.txt", "Filename used for stdin input")
	return cmd
}

func readFiles(stdin io.Reader, name string, paths []string) ([]client.File, error) {
	if len(paths) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return []client.File{{Filename: name, Content: string(data)}}, nil
	}

	files := make([]client.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, client.File{Filename: filepath.Base(path), Content: string(data)})
	}
	return files, nil
}

func (a *app) getCmd() *cobra.Command {
	var password string
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <id-or-url>",
		Short: "Print a paste",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := client.GetOptions{Password: password}

			if raw {
				contents, err := a.client.GetPasteRaw(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				fmt.Fprint(out, strings.Join(contents, "\n"))
				return nil
			}

			p, err := a.client.GetPaste(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  created %s", p.URL(), p.CreatedAt.Format(time.RFC3339))
			if p.Expires != nil {
				fmt.Fprintf(out, "  expires %s", p.Expires.Format(time.RFC3339))
			}
			if p.Views != nil {
				fmt.Fprintf(out, "  views %d", *p.Views)
			}
			fmt.Fprintln(out)
			for _, f := range p.Files {
				fmt.Fprintf(out, "--- %s (%d lines)\n%s\n", f.Filename, f.LinesOfCode, f.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password of a protected paste")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print file contents only")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <security-token>",
		Short: "Delete a paste with the token returned when it was created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeletePaste(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}

func (a *app) mineCmd() *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List pastes created with your token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pastes, err := a.client.UserPastes(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range pastes {
				fmt.Fprintf(out, "%s\t%s\n", p.URL(), p.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of pastes")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "Page of results")
	return cmd
}
