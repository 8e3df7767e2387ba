// Package main provides a small cobra-based command-line entry point
// over the embedded neural database engine, for local exploration and
// scripting rather than as a service frontend (the HTTP surface,
// telemetry, and distributed coordinator described alongside this
// engine are out of scope here — this binary only exercises the core
// API: open, add, get, find).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"synapsedb.dev/synapsedb/common"
	"synapsedb.dev/synapsedb/engine"
	"synapsedb.dev/synapsedb/query"
	"synapsedb.dev/synapsedb/types"
	"synapsedb.dev/synapsedb/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "synapsedb",
	Short: "Inspect and query a synapsedb branch from the command line",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .synapsedb.yaml)")
	rootCmd.PersistentFlags().String("branch", "main", "branch to operate on")
	rootCmd.PersistentFlags().String("storage", "memory", "storage backend: memory, localfs, bolt, s3")
	rootCmd.PersistentFlags().String("path", "", "localfs/bolt storage path")
	_ = viper.BindPFlag("storage.branch", rootCmd.PersistentFlags().Lookup("branch"))
	_ = viper.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("storage.localfs.path", rootCmd.PersistentFlags().Lookup("path"))
	_ = viper.BindPFlag("storage.bolt.path", rootCmd.PersistentFlags().Lookup("path"))

	rootCmd.AddCommand(addCmd, getCmd, findCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func openDB(cmd *cobra.Command) (*engine.Database, error) {
	v := engine.NewViper("SYNAPSEDB")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}
	branch, _ := cmd.Flags().GetString("branch")
	backend, _ := cmd.Flags().GetString("storage")
	path, _ := cmd.Flags().GetString("path")
	v.Set("storage.branch", branch)
	v.Set("storage.backend", backend)
	if path != "" {
		v.Set("storage.localfs.path", path)
		v.Set("storage.bolt.path", path)
	}
	cfg, err := engine.LoadConfig(v)
	if err != nil {
		return nil, err
	}
	return engine.Open(context.Background(), cfg, nil)
}

var addCmd = &cobra.Command{
	Use:   "add [noun-type] [vector-json]",
	Short: "Add a noun with an explicit vector (JSON array of floats)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nt, ok := types.ParseNounType(args[0])
		if !ok {
			return fmt.Errorf("unknown noun type %q", args[0])
		}
		var vec []float32
		if err := json.Unmarshal([]byte(args[1]), &vec); err != nil {
			return fmt.Errorf("parsing vector: %w", err)
		}
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close(cmd.Context())
		id, err := db.Add(cmd.Context(), engine.AddParams{Type: nt, Vector: vec})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Fetch a noun by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close(cmd.Context())
		n, err := db.Get(cmd.Context(), args[0], true)
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("not found: %s", args[0])
		}
		enc := common.Must(json.MarshalIndent(n, "", "  "))
		fmt.Println(string(enc))
		return nil
	},
}

var findLimit int

var findCmd = &cobra.Command{
	Use:   "find [noun-type]",
	Short: "List nouns of a given type, paginated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nt, ok := types.ParseNounType(args[0])
		if !ok {
			return fmt.Errorf("unknown noun type %q", args[0])
		}
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close(cmd.Context())
		page, err := db.Find(cmd.Context(), query.FindParams{
			NounTypes: []types.NounType{nt},
			Limit:     findLimit,
		})
		if err != nil {
			return err
		}
		for _, n := range page.Items {
			fmt.Println(n.ID)
		}
		return nil
	},
}

func init() {
	findCmd.Flags().IntVar(&findLimit, "limit", 50, "max results")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print engine version and build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("synapsedb %s\n", version.GetEngineVersion())
		info := version.GetBuildInfo()
		fmt.Printf("go %s, %d dependencies\n", info.GoVersion, len(info.Dependencies))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
