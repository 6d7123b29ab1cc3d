// mediactl is the operator CLI for the media store. It talks to the same
// backend the server would pick from the environment, so it can clean up
// orphaned assets by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/propnest/backend/internal/auth"
	"github.com/propnest/backend/internal/config"
	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/storage"
)

// gatewayFactory opens the gateway for one command run.
type gatewayFactory func(ctx context.Context, cfg *config.Config) (*storage.Gateway, error)

func openGateway(ctx context.Context, cfg *config.Config) (*storage.Gateway, error) {
	backend, err := storage.NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewGateway(backend), nil
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openGateway).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open gatewayFactory) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "mediactl",
		Short:        "Inspect and clean up stored media",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(logging.Config{Level: logLevel, Format: "console", OutputPath: "stderr"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newSaveCmd(open), newDeleteCmd(open), newTokenCmd())
	return root
}

// locationFlags are shared by save and delete.
type locationFlags struct {
	category string
	sub      string
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.category, "category", "c", string(media.CategoryProfile), "asset category (profile, property, social-media)")
	cmd.Flags().StringVar(&f.sub, "sub", "", "social media kind (posts, stories, reels)")
}

func (f *locationFlags) location() (media.Location, error) {
	loc := media.Location{Category: media.Category(f.category), SubKind: media.SocialKind(f.sub)}
	if !loc.Category.Valid() {
		return loc, fmt.Errorf("%w: unknown category %q", media.ErrInvalidAsset, f.category)
	}
	if loc.Category == media.CategorySocial && !loc.SubKind.Valid() {
		return loc, fmt.Errorf("%w: --sub must be one of posts, stories, reels", media.ErrInvalidAsset)
	}
	return loc, nil
}

func newSaveCmd(open gatewayFactory) *cobra.Command {
	var (
		loc   locationFlags
		owner string
		kind  string
	)

	cmd := &cobra.Command{
		Use:   "save [file]",
		Short: "Store a file and print its reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loc.location()
			if err != nil {
				return err
			}
			k, err := media.ParseKind(kind)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gw, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			ref, err := gw.Save(cmd.Context(), media.Asset{
				Location: l,
				OwnerID:  owner,
				Kind:     k,
				File:     media.File{Data: data, Filename: filepath.Base(args[0])},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
	loc.register(cmd)
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "owning user or property id")
	cmd.Flags().StringVar(&kind, "kind", "image", "media kind (image, video)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func newDeleteCmd(open gatewayFactory) *cobra.Command {
	var (
		loc         locationFlags
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "delete [ref...]",
		Short: "Delete stored media by reference",
		Long:  "Delete one or more references (keys, rooted paths or URLs). Prints each reference followed by deleted or absent.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
			}
			l, err := loc.location()
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gw, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			results := make([]bool, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for i, ref := range args {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					results[i] = gw.Delete(ctx, ref, l)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, ref := range args {
				status := "absent"
				if results[i] {
					status = "deleted"
				}
				fmt.Fprintf(out, "%s\t%s\n", ref, status)
			}
			return nil
		},
	}
	loc.register(cmd)
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 8, "parallel deletes")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		user   string
		ttl    time.Duration
		secret string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("JWT_SECRET or --secret is required")
			}
			token, err := auth.New(secret).Sign(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id to put in the subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to JWT_SECRET)")
	cmd.MarkFlagRequired("user")
	return cmd
}
