package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/toolharbor/toolharbor/pkg/config"
)

// newCacheCmd creates the cache management command. It operates on the
// file backend's directory; Redis-backed caches expire entries by TTL
// and are managed through Redis itself.
func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the HTTP response cache",
	}

	cmd.AddCommand(newCacheClearCmd(configPath))
	cmd.AddCommand(newCacheInfoCmd(configPath))
	return cmd
}

// cacheDirFromConfig resolves the file cache directory for the given
// config path.
func cacheDirFromConfig(configPath string) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return defaultCacheDir()
}

func newCacheClearCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached HTTP responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			dir, err := cacheDirFromConfig(*configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				logger.Info("cache is empty", "dir", dir)
				return nil
			}

			count := 0
			err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
				if err != nil || path == dir {
					return nil
				}
				if !info.IsDir() {
					if err := os.Remove(path); err == nil {
						count++
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			// Clean up empty subdirectories left by the key sharding.
			_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
				if err != nil || path == dir {
					return nil
				}
				if info.IsDir() {
					os.Remove(path)
				}
				return nil
			})

			logger.Info("cleared cache", "entries", count, "dir", dir)
			return nil
		},
	}
}

func newCacheInfoCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "info",
		Aliases: []string{"path"},
		Short:   "Print the cache directory path and entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cacheDirFromConfig(*configPath)
			if err != nil {
				return err
			}

			count := 0
			_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() {
					count++
				}
				return nil
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dir:     %s\n", dir)
			fmt.Fprintf(out, "entries: %d\n", count)
			return nil
		},
	}
}
