package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/spf13/cobra"
)

var (
	chunksJSON     bool
	chunksShowText bool
)

var chunksCmd = &cobra.Command{
	Use:   "chunks FILE",
	Short: "Print the chunk plan for a PDF without translating it",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunks,
}

func init() {
	chunksCmd.Flags().BoolVar(&chunksJSON, "json", false, "print chunks as JSON")
	chunksCmd.Flags().BoolVar(&chunksShowText, "text", false, "include chunk text")
	rootCmd.AddCommand(chunksCmd)
}

func runChunks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	pages, err := newLoader(cfg).Load(f, filepath.Base(args[0]))
	if err != nil {
		return err
	}
	chunks := chunker.Split(pages, chunkConfig(cfg))

	out := cmd.OutOrStdout()
	if chunksJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	}

	fmt.Fprintf(out, "%d pages, %d chunks (size %d, overlap %d, join pages %v)\n",
		len(pages), len(chunks), cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkJoinPages)
	for _, c := range chunks {
		fmt.Fprintf(out, "#%-4d pages %d-%d  core %5d  overlap %4d  ~%d tokens\n",
			c.Index+1, c.PageStart, c.PageEnd,
			utf8.RuneCountInString(c.Core), utf8.RuneCountInString(c.Overlap),
			chunker.EstimateTokens(c.Core))
		if chunksShowText {
			fmt.Fprintf(out, "%s\n\n", c.Text)
		}
	}
	return nil
}
