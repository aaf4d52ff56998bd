package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/care-ai/gateway/internal/audio"
	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/pipeline"
	"github.com/hubenschmidt/care-ai/gateway/internal/speech"
	"github.com/hubenschmidt/care-ai/gateway/internal/ws"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Care portal AI gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), analyzeCmd(), transcribeCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config) {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return newApp(ctx, cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var traces traceReader
			if a.traceStore != nil {
				traces = a.traceStore
			}

			mux := http.NewServeMux()
			registerRoutes(mux, deps{
				analyzer:      a.orchestrator,
				requestBudget: a.cfg.RequestBudget,
				traceStore:    traces,
				wsHandler: ws.NewHandler(ws.HandlerConfig{
					Speech:        a.speech,
					Credentials:   a.resolver,
					MaxConcurrent: a.cfg.MaxConcurrentSessions,
				}),
			})

			addr := ":" + a.cfg.Port
			srv := &http.Server{Addr: addr, Handler: mux}

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				sig := <-sigCh
				slog.Info("shutting down", "signal", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			slog.Info("gateway starting", "addr", addr, "env", a.cfg.Env, "max_concurrent_sessions", a.cfg.MaxConcurrentSessions)

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server failed: %w", err)
			}

			slog.Info("gateway stopped")
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:       "analyze <kind>",
		Short:     "Run one pipeline against a request file and print the result",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"document", "image", "conversation", "transcription"},
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(file)
			if err != nil {
				return err
			}
			var req pipeline.Request
			if err = json.Unmarshal(body, &req); err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
			req.Kind = pipeline.Kind(args[0])

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestBudget)
			defer cancel()
			res, err := a.orchestrator.Execute(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file (- for stdin)")
	return cmd
}

func transcribeCmd() *cobra.Command {
	var (
		file string
		lang string
		rate int
	)
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Stream an audio file to the speech recognizer and print the transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			pcm, err := audio.ToRecognizerPCM(data, rate)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.resolver.Get(cmd.Context(), credentials.AzureSpeech)
			if err != nil {
				return err
			}
			res, err := a.speech.Transcribe(cmd.Context(), pcm, speech.Config{Language: lang, SampleRate: audio.RecognizerRate}, cred)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "WAV or raw PCM16 file (- for stdin)")
	cmd.Flags().StringVar(&lang, "lang", speech.DefaultLanguage, "recognition language")
	cmd.Flags().IntVar(&rate, "rate", speech.DefaultSampleRate, "sample rate of headerless PCM input")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
