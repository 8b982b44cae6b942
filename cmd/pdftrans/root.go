package main

import (
	"log/slog"
	"os"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/parser"
	"github.com/dgallion1/pdftrans/internal/translate"
	"github.com/spf13/cobra"
)

var (
	envFile string
	verbose bool

	flagHost      string
	flagModel     string
	flagLanguage  string
	flagMaxTokens int
	flagChunkSize int
	flagOverlap   int
	flagJoinPages bool
)

var rootCmd = &cobra.Command{
	Use:   "pdftrans",
	Short: "Translate PDF documents with a local language model",
	Long: `pdftrans extracts the text of a PDF, splits it into overlapping chunks and
streams a translation of each chunk from an Ollama server, either in a web page
(serve) or in the terminal (translate).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv(envFile)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flagHost, "host", "", "Ollama server URL (OLLAMA_HOST)")
	pf.StringVarP(&flagModel, "model", "m", "", "model name (OLLAMA_MODEL)")
	pf.StringVarP(&flagLanguage, "language", "l", "", "target language (TARGET_LANGUAGE)")
	pf.IntVar(&flagMaxTokens, "max-tokens", 0, "output token cap per chunk (MAX_OUTPUT_TOKENS)")
	pf.IntVar(&flagChunkSize, "chunk-size", 0, "maximum chunk size in characters (CHUNK_SIZE)")
	pf.IntVar(&flagOverlap, "chunk-overlap", 0, "characters carried into the next chunk (CHUNK_OVERLAP)")
	pf.BoolVar(&flagJoinPages, "join-pages", false, "let chunks and overlap cross page boundaries (CHUNK_JOIN_PAGES)")
}

// loadConfig reads the environment and applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load()
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.OllamaHost = flagHost
	}
	if flags.Changed("model") {
		cfg.OllamaModel = flagModel
	}
	if flags.Changed("language") {
		cfg.TargetLanguage = flagLanguage
	}
	if flags.Changed("max-tokens") {
		cfg.MaxOutputTokens = flagMaxTokens
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = flagChunkSize
	}
	if flags.Changed("chunk-overlap") {
		cfg.ChunkOverlap = flagOverlap
	}
	if flags.Changed("join-pages") {
		cfg.ChunkJoinPages = flagJoinPages
	}
	return cfg, cfg.Validate()
}

// cliLogger logs to stderr so stdout carries only the translation.
func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func chunkConfig(cfg config.Config) chunker.Config {
	c := chunker.DefaultConfig()
	c.ChunkSize = cfg.ChunkSize
	c.ChunkOverlap = cfg.ChunkOverlap
	c.JoinPages = cfg.ChunkJoinPages
	return c
}

func newLoader(cfg config.Config) *parser.PDFLoader {
	return &parser.PDFLoader{FallbackPdftotext: cfg.PDFFallbackPdftotext}
}

func newTranslator(cfg config.Config, stats *translate.LLMStats) (*translate.Translator, error) {
	client, err := translate.NewOllamaClient(cfg.OllamaHost)
	if err != nil {
		return nil, err
	}
	return translate.New(client, translate.Config{
		Model:          cfg.OllamaModel,
		TargetLanguage: cfg.TargetLanguage,
		MaxTokens:      cfg.MaxOutputTokens,
		Retries:        cfg.InferenceRetries,
		ChunkTimeout:   cfg.ChunkTimeout,
	}, stats), nil
}
