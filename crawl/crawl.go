package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	extr "github.com/nci/s2dash/crawl/extractor"
	"github.com/nci/s2dash/mas"
	"github.com/nci/s2dash/utils"
	"github.com/spf13/cobra"
)

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "crawl",
		Short:         "Extract and index Sentinel-2 scene metadata",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)

	rootCmd.AddCommand(newExtractCmd(stdin))
	rootCmd.AddCommand(newFindCmd())
	rootCmd.AddCommand(newIngestCmd())
	return rootCmd
}

func newExtractCmd(stdin io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <metadata.yaml|->",
		Short: "Print the metadata document of one scene as JSON",
		Long:  "Print the metadata document of one scene as JSON. '-' reads the path from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if path == "-" {
				scanner := bufio.NewScanner(stdin)
				scanner.Scan()
				path = scanner.Text()
			}

			geoFile, err := extr.ExtractSentinel2Yaml(path)
			if err != nil {
				return err
			}

			out, err := json.Marshal(geoFile)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newFindCmd() *cobra.Command {
	var (
		conc          int
		pattern       string
		followSymlink bool
		outputFormat  string
	)

	cmd := &cobra.Command{
		Use:   "find <root_dir>",
		Short: "List files under a directory matching a pattern expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return extr.ExtractPosix(cmd.OutOrStdout(), args[0], conc, pattern, followSymlink, outputFormat)
		},
	}

	cmd.Flags().IntVarP(&conc, "conc", "c", 8, "directories read concurrently")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", extr.DefaultMetadataPattern, "expression over path and type ('d' or 'f')")
	cmd.Flags().BoolVarP(&followSymlink, "follow_symlink", "l", false, "follow symbolic links")
	cmd.Flags().StringVar(&outputFormat, "fmt", "json", "output format: json or tsv")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		conc       int
		driver     string
		dsn        string
		collection string
	)

	cmd := &cobra.Command{
		Use:   "ingest <root_dir>",
		Short: "Crawl a directory of scenes into the metadata index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := utils.Component(utils.NewLogger(cmd.ErrOrStderr(), "info", true), "crawl")

			geoFiles, err := extr.ExtractDir(args[0], conc)
			if err != nil {
				return err
			}

			index, err := mas.Open(driver, dsn)
			if err != nil {
				return err
			}
			defer index.Close()

			ctx := context.Background()
			for _, gf := range geoFiles {
				if err := index.Ingest(ctx, collection, gf); err != nil {
					return err
				}
				log.Info().Str("file", gf.FileName).Time("time", gf.TimeStamp).Int("bands", len(gf.DataSets)).Msg("ingested")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d scenes ingested into %s\n", len(geoFiles), collection)
			return nil
		},
	}

	cmd.Flags().IntVarP(&conc, "conc", "c", 8, "directories read concurrently")
	cmd.Flags().StringVar(&driver, "driver", utils.DefaultIndexDriver, "index database driver: sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "mas.db", "index database DSN")
	cmd.Flags().StringVar(&collection, "collection", utils.DefaultCollection, "collection name")
	return cmd
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
