package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/aussiebroadwan/rbs/pkg/realtime"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// AppFactory builds the App a command runs against.
type AppFactory func(ctx context.Context, opts ...rbs.Option) (*App, error)

// FactoryFromEnv loads Config from the environment on every invocation.
func FactoryFromEnv() AppFactory {
	return func(ctx context.Context, opts ...rbs.Option) (*App, error) {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		return New(ctx, cfg, opts...)
	}
}

// NewRootCommand assembles the rbsctl command tree.
func NewRootCommand(factory AppFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "rbsctl",
		Short:         "RBS client CLI",
		Long:          "Run actions, manage the stored session and follow realtime messages of an RBS project.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSendCommand(factory),
		newURLCommand(factory),
		newSignInCommand(factory),
		newSignOutCommand(factory),
		newStatusCommand(factory),
		newListenCommand(factory),
		&cobra.Command{
			Use:   "version",
			Short: "Print the SDK version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), rbs.Version)
			},
		},
	)
	return root
}

// withApp builds an App, runs fn under the configured timeout and closes the
// App again.
func withApp(cmd *cobra.Command, factory AppFactory, fn func(ctx context.Context, app *App) error) error {
	app, err := factory(cmd.Context(), rbs.WithoutRealtime())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Warn("close failed", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Timeout)
	defer cancel()
	return fn(ctx, app)
}

func parsePayload(args []string) (map[string]any, error) {
	if len(args) < 2 || args[1] == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func newSendCommand(factory AppFactory) *cobra.Command {
	var (
		culture string
		headers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "send <action> [json-payload]",
		Short: "Run an action and print its result items as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args)
			if err != nil {
				return err
			}

			return withApp(cmd, factory, func(ctx context.Context, app *App) error {
				items, err := app.Client.Send(ctx, rbs.ActionRequest{
					Action:  args[0],
					Payload: payload,
					Headers: headers,
					Culture: culture,
				})
				if err != nil {
					var aerr *rbs.ActionError
					if errors.As(err, &aerr) && aerr.DisplayDialog() && aerr.Message != "" {
						cmd.PrintErrln(aerr.Message)
					}
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			})
		},
	}

	cmd.Flags().StringVar(&culture, "culture", "", "Accept-Language for this request (defaults to RBS_CULTURE or the system locale)")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Extra request header as key=value; may be repeated")
	return cmd
}

func newURLCommand(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "url <action> [json-payload]",
		Short: "Print the public URL of a get action",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args)
			if err != nil {
				return err
			}

			return withApp(cmd, factory, func(_ context.Context, app *App) error {
				u, err := app.Client.GeneratePublicGetActionURL(args[0], payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
}

func newSignInCommand(factory AppFactory) *cobra.Command {
	var customToken string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with a custom token issued by your backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, func(ctx context.Context, app *App) error {
				user, err := app.Client.AuthenticateWithCustomToken(ctx, customToken)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", user.UID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&customToken, "custom-token", "", "Custom token to exchange for a session")
	_ = cmd.MarkFlagRequired("custom-token")
	return cmd
}

func newSignOutCommand(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, func(ctx context.Context, app *App) error {
				if err := app.Client.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newStatusCommand(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the stored authentication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, func(_ context.Context, app *App) error {
				fmt.Fprintln(cmd.OutOrStdout(), app.Client.CurrentAuthStatus())
				return nil
			})
		},
	}
}

var errListenDone = errors.New("listen: message count reached")

func newListenCommand(factory AppFactory) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to realtime and print messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)

			msgs := make(chan realtime.Message, 64)
			obs := realtime.ObserverFuncs{
				Connected:    func() { cmd.PrintErrln("connected") },
				Disconnected: func(reason string) { cmd.PrintErrf("disconnected %s\n", reason) },
				MessageReceived: func(msg realtime.Message) {
					select {
					case msgs <- msg:
					case <-ctx.Done():
					}
				},
				Error: func(err *realtime.ConnectionError) { cmd.PrintErrf("connection error: %v\n", err) },
			}

			app, err := factory(ctx, rbs.WithConnectionObserver(obs))
			if err != nil {
				cancel()
				return err
			}
			// Cancel first so a blocked observer lets the client close.
			defer func() {
				cancel()
				if err := app.Close(); err != nil {
					app.Logger.Warn("close failed", "error", err)
				}
			}()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				cctx, ccancel := context.WithTimeout(gctx, app.Config.Timeout)
				defer ccancel()
				if err := app.Client.ConnectRealtime(cctx); err != nil {
					return err
				}
				return app.Client.Realtime().WaitConnected(cctx)
			})
			g.Go(func() error {
				seen := 0
				for {
					select {
					case <-gctx.Done():
						return nil
					case msg := <-msgs:
						printMessage(cmd, msg)
						seen++
						if count > 0 && seen >= count {
							return errListenDone
						}
					}
				}
			})

			err = g.Wait()
			if errors.Is(err, errListenDone) || (err != nil && ctx.Err() != nil) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 runs until interrupted)")
	return cmd
}

func printMessage(cmd *cobra.Command, msg realtime.Message) {
	if msg.Binary {
		fmt.Fprintf(cmd.OutOrStdout(), "binary:%s\n", base64.StdEncoding.EncodeToString(msg.Data))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(msg.Data))
}
