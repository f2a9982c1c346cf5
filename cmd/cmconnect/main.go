package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/adapter"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/connector/pool"
	"github.com/contentops/cmconnect/pkg/extract"
	"github.com/contentops/cmconnect/pkg/logger"
	"github.com/contentops/cmconnect/pkg/vault"
)

var version = "0.1.0"

func main() {
	var configFile, logLevel string

	root := &cobra.Command{
		Use:   "cmconnect",
		Short: "cmconnect - multi-version Content Manager connector",
		Long: `cmconnect extracts system configuration, users, records, and document
metadata from Content Manager installations over direct database access or
the ServiceAPI, adapting queries to the detected server version.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel, Encoding: "console"})
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to connection configuration YAML file (required)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cmconnect v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "detect",
		Short: "Probe the target system and report its detected version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnector(configFile, func(ctx context.Context, conn *connector.Connector) error {
				info, err := conn.DetectVersion(ctx)
				if err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check connectivity and report round-trip latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnector(configFile, func(ctx context.Context, conn *connector.Connector) error {
				status := conn.CheckHealth(ctx)
				if err := printJSON(status); err != nil {
					return err
				}
				if !status.Connected {
					os.Exit(1)
				}
				return nil
			})
		},
	})

	var fields, filters []string
	var offset, limit int

	extractCmd := &cobra.Command{
		Use:   "extract [system|users|records|documents]",
		Short: "Extract an entity class from the target system",
		Long: `Extract data from the target system as unified model JSON, one object
per line. User extraction is streamed; pass --offset to resume an
interrupted run from the offset reported in the failure.`,
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"system", "users", "records", "documents"},
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return withConnector(configFile, func(ctx context.Context, conn *connector.Connector) error {
				return runExtract(ctx, conn, args[0], fields, parsed, offset, limit)
			})
		},
	}
	extractCmd.Flags().StringSliceVar(&fields, "fields", nil, "Fields to extract (default: all supported by the detected version)")
	extractCmd.Flags().StringSliceVar(&filters, "filter", nil, "Filter as field:op:value, e.g. active:eq:true (repeatable)")
	extractCmd.Flags().IntVar(&offset, "offset", 0, "Start offset for user extraction (resume point)")
	extractCmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many users (0 = all)")
	root.AddCommand(extractCmd)

	root.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Connect and print a pool occupancy snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnector(configFile, func(ctx context.Context, conn *connector.Connector) error {
				if err := conn.Connect(ctx); err != nil {
					return err
				}
				return printJSON(conn.Metrics())
			})
		},
	})

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withConnector builds a connector from the config file and the secret in
// CMCONNECT_SECRET, runs fn, and tears the pool down afterwards.
func withConnector(configFile string, fn func(context.Context, *connector.Connector) error) error {
	if configFile == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	v, creds, err := bootstrapVault(cfg.CredentialRef)
	if err != nil {
		return err
	}

	log := logger.Get()
	pools := pool.NewRegistry(log)
	factory := connector.NewFactory(pools, adapter.NewRegistry(log), v, creds, log)

	conn, err := factory.NewConnector(cfg)
	if err != nil {
		return err
	}
	logger.ForSystem(cfg.SystemID).Debug("connector ready",
		zap.String("type", string(cfg.Type)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	defer func() { _ = conn.Disconnect(context.Background()) }()

	return fn(ctx, conn)
}

// bootstrapVault seals the secret from the environment into a fresh vault
// under the config's credential ref. The key is ephemeral; nothing is
// persisted and the plaintext is wiped once sealed.
func bootstrapVault(credentialRef string) (*vault.Vault, *vault.Store, error) {
	secret := os.Getenv("CMCONNECT_SECRET")
	if secret == "" {
		return nil, nil, fmt.Errorf("CMCONNECT_SECRET is not set")
	}

	var key []byte
	if encoded := os.Getenv("CMCONNECT_MASTER_KEY"); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, nil, fmt.Errorf("CMCONNECT_MASTER_KEY is not valid base64: %w", err)
		}
		key = decoded
	} else {
		key = make([]byte, vault.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, err
		}
	}

	v, err := vault.New(key)
	if err != nil {
		return nil, nil, err
	}

	plaintext := []byte(secret)
	record, err := v.Encrypt(plaintext)
	if err != nil {
		return nil, nil, err
	}
	vault.Zero(plaintext)

	creds := vault.NewStore()
	if err := creds.Put(credentialRef, record); err != nil {
		return nil, nil, err
	}
	return v, creds, nil
}

func runExtract(ctx context.Context, conn *connector.Connector, entity string, fields []string, filters []core.Filter, offset, limit int) error {
	switch entity {
	case "system":
		sys, err := conn.ExtractSystemConfig(ctx)
		if err != nil {
			return err
		}
		return printJSON(sys)

	case "users":
		it, err := conn.ExtractUsers(ctx, extract.UserOptions{
			Fields:      fields,
			Filters:     filters,
			StartOffset: offset,
		})
		if err != nil {
			return err
		}
		count := 0
		for {
			user, err := it.Next(ctx)
			if err != nil {
				return fmt.Errorf("user extraction failed at offset %d: %w", it.Offset(), err)
			}
			if user == nil {
				return nil
			}
			if err := printJSON(user); err != nil {
				return err
			}
			count++
			if limit > 0 && count >= limit {
				return nil
			}
		}

	case "records":
		recs, err := conn.ExtractRecords(ctx, filters, fields)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := printJSON(rec); err != nil {
				return err
			}
		}
		return nil

	case "documents":
		docs, err := conn.ExtractDocuments(ctx, filters, fields)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := printJSON(doc); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown entity %q", entity)
}

// parseFilters parses repeated field:op:value flags. The value keeps any
// further colons intact so timestamps survive.
func parseFilters(raw []string) ([]core.Filter, error) {
	filters := make([]core.Filter, 0, len(raw))
	for _, item := range raw {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid filter %q, expected field:op:value", item)
		}
		filters = append(filters, core.Filter{
			Field: parts[0],
			Op:    core.FilterOp(parts[1]),
			Value: parts[2],
		})
	}
	return filters, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
