package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/voicequiz/internal/audio"
	"github.com/pavelanni/voicequiz/internal/evaluation"
	"github.com/pavelanni/voicequiz/internal/handler"
	appI18n "github.com/pavelanni/voicequiz/internal/i18n"
	"github.com/pavelanni/voicequiz/internal/llm"
	"github.com/pavelanni/voicequiz/internal/metrics"
	"github.com/pavelanni/voicequiz/internal/model"
	"github.com/pavelanni/voicequiz/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voicequiz",
		Short: "Spoken-answer quiz grading service",
	}

	serve := serveCmd()
	root.AddCommand(serve, evaluateCmd(), statsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `voicequiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "voicequiz.db", "SQLite database path")
	f.StringSliceP("quizzes", "q", nil, "Paths to quiz JSON files to import (repeatable)")
	f.String("audio-dir", "audio", "Directory for stored answer audio")
	f.String("ffmpeg-bin", "ffmpeg", "ffmpeg executable")
	f.Duration("transcode-timeout", 30*time.Second, "Upper bound for one ffmpeg run")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("s3-endpoint", "", "S3-compatible endpoint for mirroring audio (empty disables)")
	f.String("s3-access-key", "", "S3 access key")
	f.String("s3-secret-key", "", "S3 secret key")
	f.String("s3-bucket", "voicequiz-audio", "S3 bucket for mirrored audio")
	f.Bool("s3-secure", true, "Use TLS for the S3 endpoint")
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade a student's latest answers for a quiz and print the evaluation",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.String("db", "voicequiz.db", "SQLite database path")
	f.Int64("student", 0, "Student ID (required)")
	f.Int64("quiz", 0, "Quiz ID (required)")
	addLLMFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("quiz")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print evaluation statistics for a quiz",
		RunE:  runStats,
	}
	f := cmd.Flags()
	f.String("db", "voicequiz.db", "SQLite database path")
	f.Int64("quiz", 0, "Quiz ID (required)")
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("quiz")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a quiz's evaluations and statistics as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "voicequiz.db", "SQLite database path")
	f.Int64("quiz", 0, "Quiz ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("quiz")
	return cmd
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("openai-key", "", "API key for the OpenAI-compatible endpoint")
	f.String("transcribe-model", "whisper-1", "Speech-to-text model")
	f.String("embedding-model", "text-embedding-3-small", "Embedding model for the embedding scorer")
	f.String("judge-model", "gpt-4o-mini", "Chat model for the judge scorer")
	f.String("scorer", string(llm.ScorerEmbedding), "Similarity scorer (embedding, judge)")
	f.String("transcribe-lang", "", "Language hint for transcription (ISO-639-1)")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

// setupLogging installs the default slog logger. The returned func
// releases the log file, if any.
func setupLogging(cmd *cobra.Command) func() {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	cleanup := func() {}
	if path := v.GetString("log-file"); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, lj)
		cleanup = func() { _ = lj.Close() }
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
	return cleanup
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("VOICEQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("voicequiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/voicequiz")
	v.AddConfigPath("/etc/voicequiz")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func llmConfig(v *viper.Viper) (llm.Config, error) {
	mode := strings.ToLower(strings.TrimSpace(v.GetString("scorer")))
	if !llm.IsValidMode(mode) {
		return llm.Config{}, fmt.Errorf("invalid scorer %q (want embedding or judge)", mode)
	}
	return llm.Config{
		BaseURL:         v.GetString("openai-url"),
		APIKey:          v.GetString("openai-key"),
		TranscribeModel: v.GetString("transcribe-model"),
		EmbeddingModel:  v.GetString("embedding-model"),
		JudgeModel:      v.GetString("judge-model"),
		Mode:            llm.ScorerMode(mode),
		Language:        v.GetString("transcribe-lang"),
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	defer setupLogging(cmd)()
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := loadQuizzes(ctx, db, v.GetStringSlice("quizzes")); err != nil {
		return fmt.Errorf("load quizzes: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg, err := llmConfig(v)
	if err != nil {
		return err
	}
	llmClient, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", cfg.BaseURL, "scorer", cfg.Mode)

	m := metrics.New()

	ff := audio.FFmpeg{Bin: v.GetString("ffmpeg-bin")}
	if ver, err := ff.Version(ctx); err != nil {
		slog.Warn("ffmpeg not available, answers will be stored in their original container", "error", err)
	} else {
		slog.Info("ffmpeg found", "version", ver)
	}

	opts := []audio.Option{audio.WithMetrics(m)}
	if endpoint := v.GetString("s3-endpoint"); endpoint != "" {
		mirror, err := audio.NewS3Mirror(ctx, audio.S3Config{
			Endpoint:  endpoint,
			AccessKey: v.GetString("s3-access-key"),
			SecretKey: v.GetString("s3-secret-key"),
			Bucket:    v.GetString("s3-bucket"),
			Secure:    v.GetBool("s3-secure"),
		})
		if err != nil {
			slog.Warn("audio mirror disabled", "endpoint", endpoint, "error", err)
		} else {
			opts = append(opts, audio.WithMirror(mirror))
			slog.Info("mirroring audio", "endpoint", endpoint, "bucket", v.GetString("s3-bucket"))
		}
	}
	normalizer := audio.New(audio.Config{
		Dir:     v.GetString("audio-dir"),
		Timeout: v.GetDuration("transcode-timeout"),
	}, ff, opts...)

	rec := evaluation.NewRecorder(db)
	h := handler.New(db,
		evaluation.NewIntake(rec, normalizer, llmClient),
		evaluation.NewAggregator(db, llmClient, m),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	r.Use(m.Middleware)
	r.Handle("/metrics", m.Handler())
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"audio_dir", normalizer.Dir(),
		"scorer", cfg.Mode,
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	defer setupLogging(cmd)()
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cfg, err := llmConfig(v)
	if err != nil {
		return err
	}
	llmClient, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	agg := evaluation.NewAggregator(db, llmClient, nil)
	ev, err := agg.Evaluate(context.Background(), v.GetInt64("student"), v.GetInt64("quiz"))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return writeJSONTo("-", ev)
}

func runStats(cmd *cobra.Command, _ []string) error {
	defer setupLogging(cmd)()
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	st, err := evaluation.NewAggregator(db, nil, nil).Statistics(context.Background(), v.GetInt64("quiz"))
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	return writeJSONTo("-", st)
}

func runExport(cmd *cobra.Command, _ []string) error {
	defer setupLogging(cmd)()
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	quizID := v.GetInt64("quiz")
	export, err := db.ExportQuiz(context.Background(), quizID)
	if err != nil {
		return fmt.Errorf("export quiz: %w", err)
	}
	if export == nil {
		return fmt.Errorf("quiz %d: %w", quizID, evaluation.ErrQuizNotFound)
	}
	if err := writeJSONTo(v.GetString("output"), export); err != nil {
		return err
	}
	slog.Info("exported quiz", "quiz_id", quizID, "evaluations", len(export.Evaluations))
	return nil
}

// writeJSONTo writes v as indented JSON to path, or stdout for "" and "-".
func writeJSONTo(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// loadQuizzes imports each quiz file once. A file whose content changed after
// import is skipped so existing submissions keep pointing at the same questions.
func loadQuizzes(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("quiz file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("quiz file changed since last import, skipping to avoid breaking existing submissions",
				"path", path)
			continue
		}

		var imports []model.QuizImport
		if err := json.Unmarshal(data, &imports); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		// Validate the whole file before writing anything.
		quizzes := make([]model.Quiz, 0, len(imports))
		for i, qi := range imports {
			quiz := model.Quiz{
				Title:     qi.Title,
				Published: qi.Published,
				Questions: qi.Questions,
				Answers:   qi.Answers,
			}
			if err := quiz.Validate(); err != nil {
				return fmt.Errorf("quiz %d in %s: %w", i, path, err)
			}
			quizzes = append(quizzes, quiz)
		}

		ids, err := db.ImportQuizzes(ctx, path, hash, quizzes)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported quizzes", "path", path, "count", len(ids), "quiz_ids", ids)
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
