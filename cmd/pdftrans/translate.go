package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/parser"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate FILE",
	Short: "Translate a PDF and stream the result to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := cliLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	upload := document.UploadedFile{Filename: filepath.Base(args[0]), Data: data}
	if err := parser.CheckUpload(upload); err != nil {
		return err
	}

	tr, err := newTranslator(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " Translating the document..."
	sp.Writer = os.Stderr
	sp.Start()
	var stopSpinner sync.Once
	defer stopSpinner.Do(sp.Stop)

	// The spinner and the streamed text share the terminal, so the spinner
	// goes away with the first fragment.
	r := render.Multi{
		render.Func(func(render.Update) { stopSpinner.Do(sp.Stop) }),
		render.NewTerminal(cmd.OutOrStdout()),
	}

	sess := session.New(ctx, "", upload)
	pipe := pipeline.New(newLoader(cfg), chunkConfig(cfg), tr, log)
	runErr := pipe.Run(ctx, sess, r)
	stopSpinner.Do(sp.Stop)
	fmt.Fprintln(cmd.OutOrStdout())

	snap := sess.Snapshot()
	if snap.Status == session.StatusPartial {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d of %d chunks stopped at the %d token output limit\n",
			snap.Progress.ChunksIncomplete, snap.Progress.TotalChunks, cfg.MaxOutputTokens)
	}
	if runErr != nil {
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return runErr
	}
	return nil
}
