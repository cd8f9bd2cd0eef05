package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/s3-resource-publisher/cmd/flags"
	"github.com/ruteri/s3-resource-publisher/common"
	"github.com/ruteri/s3-resource-publisher/config"
	"github.com/ruteri/s3-resource-publisher/httpserver"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/metrics"
	"github.com/ruteri/s3-resource-publisher/storage"
	"github.com/urfave/cli/v2"
)

var flagCollection = &cli.StringFlag{
	Name:     "collection",
	Required: true,
	Usage:    "collection to operate on",
}

var flagAll = &cli.BoolFlag{
	Name:  "all",
	Usage: "publish every collection that has a target",
}

var flagDir = &cli.StringFlag{
	Name:     "dir",
	Required: true,
	Usage:    "local directory to publish",
}

var flagPrefix = &cli.StringFlag{
	Name:     "prefix",
	Required: true,
	Usage:    "key prefix replaced in the target bucket",
}

var flagStaticPath = &cli.StringFlag{
	Name:  "path",
	Usage: "return the URI of a statically published path instead of a resource",
}

func main() {
	if err := newApp(nil).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the CLI. newClients replaces the AWS client constructor; nil
// uses real AWS sessions.
func newApp(newClients storage.ClientsFunc) *cli.App {
	// withApplication loads the configuration, wires the object graph and
	// runs fn with it.
	withApplication := func(cCtx *cli.Context, m *metrics.Metrics, fn func(ctx context.Context, app *application) error) error {
		logger := flags.SetupLogger(cCtx)
		cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
		if err != nil {
			logger.Error("Failed to load configuration", "err", err)
			return err
		}

		ctx := cCtx.Context
		app, err := newApplication(ctx, cfg, newClients, m, logger)
		if err != nil {
			logger.Error("Failed to set up publisher", "err", err)
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Error("Failed to close publisher", "err", err)
			}
		}()
		return fn(ctx, app)
	}

	simple := func(fn func(cCtx *cli.Context, ctx context.Context, app *application) error) cli.ActionFunc {
		return func(cCtx *cli.Context) error {
			return withApplication(cCtx, nil, func(ctx context.Context, app *application) error {
				return fn(cCtx, ctx, app)
			})
		}
	}

	return &cli.App{
		Name:    "s3-publisher",
		Usage:   "Store resources content-addressed and publish them through S3 and CloudFront",
		Version: common.Version,
		Flags:   flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the resource API",
				Flags: flags.ServerFlags,
				Action: func(cCtx *cli.Context) error {
					var metricsSrv *metrics.MetricsServer
					if addr := cCtx.String(flags.MetricsAddrFlag.Name); addr != "" {
						var err error
						metricsSrv, err = metrics.New(common.MetricsNamespace, addr)
						if err != nil {
							return err
						}
					}
					var m *metrics.Metrics
					if metricsSrv != nil {
						m = metricsSrv.Metrics()
					}

					return withApplication(cCtx, m, func(ctx context.Context, app *application) error {
						handler := httpserver.NewHandler(app.manager, cCtx.Int64(flags.MaxUploadFlag.Name), app.log)
						server, err := httpserver.New(flags.ConfigureServer(cCtx, app.log), handler, metricsSrv)
						if err != nil {
							app.log.Error("Failed to create server", "err", err)
							return err
						}
						server.RunInBackground()

						exit := make(chan os.Signal, 1)
						signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

						app.log.Info("Server is running, press Ctrl+C to stop")
						select {
						case <-exit:
							app.log.Info("Shutdown signal received")
						case <-ctx.Done():
						}

						server.Shutdown()
						app.log.Info("Server shutdown complete")
						return nil
					})
				},
			},
			{
				Name:      "import",
				Usage:     "Import files into a collection",
				ArgsUsage: "FILE...",
				Flags:     []cli.Flag{flagCollection},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					if cCtx.NArg() == 0 {
						return errors.New("no files given")
					}
					enc := json.NewEncoder(cCtx.App.Writer)
					for _, path := range cCtx.Args().Slice() {
						res, err := app.manager.ImportFile(ctx, cCtx.String(flagCollection.Name), path)
						if err != nil {
							return err
						}
						if err := enc.Encode(res); err != nil {
							return err
						}
					}
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List the resources of a collection",
				Flags: []cli.Flag{flagCollection},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					resources, err := app.manager.List(ctx, cCtx.String(flagCollection.Name))
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cCtx.App.Writer)
					for _, res := range resources {
						if err := enc.Encode(res); err != nil {
							return err
						}
					}
					return nil
				}),
			},
			{
				Name:      "publish",
				Usage:     "Publish resources, a whole collection or every collection",
				ArgsUsage: "[DIGEST...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCollection.Name, Usage: flagCollection.Usage},
					flagAll,
				},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					collection := cCtx.String(flagCollection.Name)
					switch {
					case cCtx.Bool(flagAll.Name):
						return app.manager.PublishAll(ctx)
					case collection == "":
						return errors.New("either --collection or --all is required")
					case cCtx.NArg() == 0:
						return app.manager.PublishCollection(ctx, collection)
					}

					for _, arg := range cCtx.Args().Slice() {
						digest, err := interfaces.NewDigestFromHex(arg)
						if err != nil {
							return err
						}
						outcome, err := app.manager.Publish(ctx, collection, digest)
						if err != nil {
							return err
						}
						uri, err := app.manager.PublicURI(ctx, collection, digest)
						if err != nil {
							return err
						}
						fmt.Fprintf(cCtx.App.Writer, "%s\t%s\t%s\n", digest, outcome, uri)
					}
					return nil
				}),
			},
			{
				Name:      "unpublish",
				Usage:     "Revoke the publication of resources",
				ArgsUsage: "DIGEST...",
				Flags:     []cli.Flag{flagCollection},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					return forEachDigest(cCtx, func(digest interfaces.Digest) error {
						outcome, err := app.manager.Unpublish(ctx, cCtx.String(flagCollection.Name), digest)
						if err != nil {
							return err
						}
						fmt.Fprintf(cCtx.App.Writer, "%s\t%s\n", digest, outcome)
						return nil
					})
				}),
			},
			{
				Name:      "delete",
				Usage:     "Remove resources from a collection",
				ArgsUsage: "DIGEST...",
				Flags:     []cli.Flag{flagCollection},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					return forEachDigest(cCtx, func(digest interfaces.Digest) error {
						return app.manager.Delete(ctx, cCtx.String(flagCollection.Name), digest)
					})
				}),
			},
			{
				Name:  "publish-dir",
				Usage: "Replace a key prefix of the collection's target with a local directory",
				Flags: []cli.Flag{flagCollection, flagDir, flagPrefix},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					return app.manager.PublishDirectory(ctx,
						cCtx.String(flagCollection.Name),
						cCtx.String(flagDir.Name),
						cCtx.String(flagPrefix.Name))
				}),
			},
			{
				Name:      "uri",
				Usage:     "Print public URIs",
				ArgsUsage: "[DIGEST...]",
				Flags:     []cli.Flag{flagCollection, flagStaticPath},
				Action: simple(func(cCtx *cli.Context, ctx context.Context, app *application) error {
					collection := cCtx.String(flagCollection.Name)
					if p := cCtx.String(flagStaticPath.Name); p != "" {
						uri, err := app.manager.PublicStaticURI(collection, p)
						if err != nil {
							return err
						}
						fmt.Fprintln(cCtx.App.Writer, uri)
						return nil
					}
					return forEachDigest(cCtx, func(digest interfaces.Digest) error {
						uri, err := app.manager.PublicURI(ctx, collection, digest)
						if err != nil {
							return err
						}
						fmt.Fprintln(cCtx.App.Writer, uri)
						return nil
					})
				}),
			},
		},
	}
}

func forEachDigest(cCtx *cli.Context, fn func(interfaces.Digest) error) error {
	if cCtx.NArg() == 0 {
		return errors.New("no digests given")
	}
	for _, arg := range cCtx.Args().Slice() {
		digest, err := interfaces.NewDigestFromHex(arg)
		if err != nil {
			return err
		}
		if err := fn(digest); err != nil {
			return fmt.Errorf("%s: %w", digest.Short(), err)
		}
	}
	return nil
}
