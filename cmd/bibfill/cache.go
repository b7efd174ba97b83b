package main

import (
	"fmt"

	"github.com/matsen/bibfill/internal/cache"
	"github.com/matsen/bibfill/internal/config"
	"github.com/spf13/cobra"
)

var cacheNamespace string

func init() {
	cacheClearCmd.Flags().StringVar(&cacheNamespace, "namespace", "", "Clear only this namespace (default: everything)")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the fetch cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached records",
	RunE:  runCacheClear,
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the cache location",
	RunE:  runCacheInfo,
}

// CacheResponse is the response for cache commands.
type CacheResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		exitWithError(ExitError, "opening cache: %v", err)
	}
	defer store.Close()

	if err := store.Clear(cacheNamespace); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		fmt.Printf("Cache cleared: %s\n", cfg.CachePath)
	} else {
		outputJSON(CacheResponse{Status: "cleared", Path: cfg.CachePath})
	}
	return nil
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	if humanOutput {
		fmt.Println(cfg.CachePath)
	} else {
		outputJSON(CacheResponse{Status: "ok", Path: cfg.CachePath})
	}
	return nil
}
