package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vidvault/api/internal/config"
	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/storage"
	"github.com/vidvault/api/internal/worker"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vidvault",
		Short:         "Dehydrate videos into compact artifacts and reconstitute them",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newStoreCmd())
	root.AddCommand(newReconstituteCmd())
	root.AddCommand(newCacheCmd())
	return root
}

func newStoreCmd() *cobra.Command {
	var (
		outputDir   string
		forceScript bool
		noDiff      bool
		audioFormat string
		audioMaxMB  float64
		diffQuality int
	)

	cmd := &cobra.Command{
		Use:   "store <input>",
		Short: "Run the store pipeline on a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if audioFormat != "" {
				cfg.Audio.Format = audioFormat
			}
			if cmd.Flags().Changed("audio-max-mb") {
				cfg.Audio.MaxMB = audioMaxMB
			}
			if noDiff {
				cfg.Diff.Enabled = false
			}
			if cmd.Flags().Changed("quality") {
				cfg.Diff.Quality = diffQuality
			}

			input := args[0]
			ext := strings.ToLower(filepath.Ext(input))
			if !storage.AllowedInputExtensions[strings.TrimPrefix(ext, ".")] {
				return fmt.Errorf("unsupported input format %q", ext)
			}

			dir := outputDir
			if dir == "" {
				dir = strings.TrimSuffix(input, filepath.Ext(input)) + "_store"
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			// The item directory is self-contained; the input is copied in
			// so reconstitution and retries never depend on the source path.
			localInput := filepath.Join(dir, "input"+ext)
			if _, err := os.Stat(localInput); os.IsNotExist(err) {
				if err := copyFile(input, localInput); err != nil {
					return fmt.Errorf("copy input: %w", err)
				}
			}

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetDescription("storing"),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
			)

			orch := worker.DefaultBuilder(media.NewRunner())(cfg)
			m, err := orch.Run(context.Background(), localInput, dir, forceScript,
				func(phase string, progress float64, message string) {
					bar.Describe(fmt.Sprintf("%-17s %s", phase, message))
					_ = bar.Set(int(progress * 100))
				})
			if err != nil {
				return err
			}

			fmt.Printf("Stored %s -> %s\n", input, dir)
			if m.DiffVideo != nil {
				fmt.Printf("Diff video: %s\n", *m.DiffVideo)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default <input>_store)")
	cmd.Flags().BoolVar(&forceScript, "force-script", false, "regenerate the script and resultant video")
	cmd.Flags().BoolVar(&noDiff, "no-diff", false, "skip diff video computation")
	cmd.Flags().StringVar(&audioFormat, "audio-format", "", "audio codec, aac or mp3")
	cmd.Flags().Float64Var(&audioMaxMB, "audio-max-mb", 5, "target audio size in MB")
	cmd.Flags().IntVar(&diffQuality, "quality", 6, "theora quality for the diff video, 0-10")
	return cmd
}

func newReconstituteCmd() *cobra.Command {
	var (
		useDiff bool
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "reconstitute <dir>",
		Short: "Rebuild a playable video from a stored directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			engine := media.NewEngine(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, media.NewRunner())
			merger := reconstitute.NewMerger(engine, diff.NewEngine(engine))

			result, err := merger.MergeDir(context.Background(), args[0], useDiff)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := os.Rename(result, outPath); err != nil {
					// Rename fails across filesystems; fall back to a copy.
					if err := copyFile(result, outPath); err != nil {
						return err
					}
					os.Remove(result)
				}
				result = outPath
			}
			fmt.Printf("Reconstituted %s\n", result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useDiff, "use-diff", false, "restore the original look from the diff video")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default inside the stored directory)")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect stored items",
	}

	listCmd := &cobra.Command{
		Use:   "list <root>",
		Short: "List stored items under a storage root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewStore(args[0])
			if err != nil {
				return err
			}
			ids, err := store.List()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Status", "Diff", "Reconstituted"})
			for _, id := range ids {
				status := "incomplete"
				hasDiff := ""
				if m, err := store.ReadManifest(id); err == nil {
					status = "ready"
					if m.DiffVideo != nil {
						hasDiff = "yes"
					}
				}
				recon := ""
				dir := store.Dir(id)
				for _, name := range []string{storage.ReconstitutedDiffName, storage.ReconstitutedName} {
					if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
						recon = name
						break
					}
				}
				t.AppendRow(table.Row{id, status, hasDiff, recon})
			}
			t.Render()
			fmt.Printf("%d item(s)\n", len(ids))
			return nil
		},
	}

	cacheCmd.AddCommand(listCmd)
	return cacheCmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
