package cmd

import (
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/oeistools/oeissync/internal/clock/system"
	"github.com/oeistools/oeissync/internal/config"
	"github.com/oeistools/oeissync/internal/export"
	"github.com/oeistools/oeissync/internal/logging"
	"github.com/oeistools/oeissync/internal/oeis"
	"github.com/oeistools/oeissync/internal/storage/gcs"
	"github.com/oeistools/oeissync/internal/storage/local"
	"github.com/oeistools/oeissync/internal/storage/memory"
	"github.com/oeistools/oeissync/internal/storage/postgres"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the mirror to the configured blob store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			store, err := postgres.NewStore(ctx, postgres.StoreConfig{
				DSN:             cfg.DB.DSN,
				MaxConns:        cfg.DB.MaxConns,
				MinConns:        cfg.DB.MinConns,
				MaxConnLifetime: cfg.ConnLifetime(),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			blobs, err := newBlobStore(cmd, cfg)
			if err != nil {
				return err
			}

			snap, err := export.NewSnapshotter(store, blobs, system.New(), logger)
			if err != nil {
				return err
			}
			uri, count, err := snap.Export(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", count, uri)
			return nil
		},
	}
}

func newBlobStore(cmd *cobra.Command, cfg config.Config) (oeis.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
