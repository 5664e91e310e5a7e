// Command fdprec runs a small scripted simulation against the entity
// repository and exercises the flight recorder / playback stack around it.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
//   - A ComponentFilterHandler sits between the base handler and every
//     component logger so --debug-component can raise one component's
//     verbosity without touching the rest
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof is intentionally available when --pprof flag is set
	"os"
	"time"

	"github.com/spf13/cobra"

	"fdprec/internal/logging"
	"fdprec/internal/playback"
	"fdprec/internal/recorder"
)

var version = "dev"

func main() {
	// Base handler accepts every level; ComponentFilterHandler does the
	// actual filtering so --debug-component can raise one component's
	// verbosity without touching the rest.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "fdprec",
		Short: "Deterministic entity simulation kernel with flight recorder and playback",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debugComponents, _ := cmd.Flags().GetStringSlice("debug-component")
			for _, c := range debugComponents {
				filterHandler.SetLevel(c, slog.LevelDebug)
			}

			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					pprofSrv := &http.Server{Addr: pprofAddr, Handler: nil, ReadHeaderTimeout: 10 * time.Second}
					if err := pprofSrv.ListenAndServe(); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060)")
	rootCmd.PersistentFlags().StringSlice("debug-component", nil,
		"component names to raise to debug level (e.g. recorder,playback-controller)")

	rootCmd.AddCommand(
		newSimCmd(logger),
		newRecordCmd(logger),
		newPlayCmd(logger),
		newInspectCmd(logger),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func simFlags(cmd *cobra.Command) {
	cmd.Flags().Int("ticks", 100, "number of ticks to simulate")
	cmd.Flags().Int("entities", 64, "number of entities spawned at tick 1")
	cmd.Flags().Int("keyframe-interval", 10, "ticks between keyframes")
	cmd.Flags().Int("max-entities", 0, "entity universe cap (0 = library default)")
}

func simParamsFromFlags(cmd *cobra.Command) simParams {
	ticks, _ := cmd.Flags().GetInt("ticks")
	entities, _ := cmd.Flags().GetInt("entities")
	keyframeInterval, _ := cmd.Flags().GetInt("keyframe-interval")
	maxEntities, _ := cmd.Flags().GetInt("max-entities")
	return simParams{
		Ticks:            ticks,
		Entities:         entities,
		KeyframeInterval: keyframeInterval,
		MaxEntities:      maxEntities,
	}
}

func newSimCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the scripted simulation in memory and log periodic stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := simParamsFromFlags(cmd)
			repo, ser, err := newSimRepository(p.MaxEntities)
			if err != nil {
				return err
			}
			defer ser.Close()

			w := newWorld(repo, p.Entities)
			for tick := 1; tick <= p.Ticks; tick++ {
				repo.Tick()
				w.step(tick)
				if tick%10 == 0 || tick == p.Ticks {
					logger.Info("tick", "tick", tick, "alive", repo.EntityCount(), "version", repo.GlobalVersion())
				}
			}
			return nil
		},
	}
	simFlags(cmd)
	return cmd
}

func newRecordCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run the scripted simulation while recording every tick to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return fmt.Errorf("record: --out is required")
			}
			p := simParamsFromFlags(cmd)
			repo, ser, err := newSimRepository(p.MaxEntities)
			if err != nil {
				return err
			}
			defer ser.Close()

			ar, err := recorder.NewAsyncRecorder(out, repo, nil, recorder.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}

			w := newWorld(repo, p.Entities)
			var prevTick uint32
			for tick := 1; tick <= p.Ticks; tick++ {
				v := repo.Tick()
				w.step(tick)

				var captureErr error
				if tick == 1 || tick%p.KeyframeInterval == 0 {
					captureErr = ar.CaptureKeyframe(true)
				} else {
					captureErr = ar.CaptureFrame(prevTick, true)
				}
				if captureErr != nil {
					_ = ar.Dispose()
					return fmt.Errorf("capture frame at tick %d: %w", tick, captureErr)
				}
				prevTick = v
			}

			if err := ar.Dispose(); err != nil {
				return fmt.Errorf("close recording: %w", err)
			}
			logger.Info("recording complete",
				"path", out, "frames", ar.RecordedFrames(), "dropped", ar.DroppedFrames(), "session", ar.SessionID())
			return nil
		},
	}
	cmd.Flags().String("out", "", "recording output path (required)")
	simFlags(cmd)
	return cmd
}

func newPlayCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Replay a recording onto a fresh repository and print progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			if in == "" {
				return fmt.Errorf("play: --in is required")
			}
			maxEntities, _ := cmd.Flags().GetInt("max-entities")

			repo, ser, err := newSimRepository(maxEntities)
			if err != nil {
				return err
			}
			defer ser.Close()

			pc, err := playback.NewPlaybackController(in, nil, playback.WithControllerLogger(logger))
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}
			defer pc.Close()

			logger.Info("recording opened", "path", in, "frames", pc.Total(), "session", pc.SessionID())

			err = pc.PlayToEnd(repo, func(current, total int) {
				if current%10 == 0 || current == total {
					logger.Info("replayed frame", "frame", current, "total", total,
						"alive", repo.EntityCount(), "version", repo.GlobalVersion())
				}
			})
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			logger.Info("replay complete", "alive", repo.EntityCount(), "version", repo.GlobalVersion())
			return nil
		},
	}
	cmd.Flags().String("in", "", "recording input path (required)")
	cmd.Flags().Int("max-entities", 0, "entity universe cap, must match the recording's source repository")
	return cmd
}

func newInspectCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a recording's header, component dictionary, and frame index",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			if in == "" {
				return fmt.Errorf("inspect: --in is required")
			}

			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			timestamp, names, err := recorder.ReadRecordingHeader(f)
			if err != nil {
				return fmt.Errorf("read header: %w", err)
			}
			fmt.Printf("created: %s\n", time.Unix(timestamp, 0).UTC())
			fmt.Printf("components (%d):\n", len(names))
			for cid, name := range names {
				fmt.Printf("  %3d  %s\n", cid, name)
			}

			var keyframes, deltas int
			for {
				frame, err := recorder.DecodeFrame(f)
				if err != nil {
					break
				}
				if frame.Type == recorder.FrameKeyframe {
					keyframes++
				} else {
					deltas++
				}
			}
			fmt.Printf("frames: %d keyframes, %d deltas\n", keyframes, deltas)
			return nil
		},
	}
	cmd.Flags().String("in", "", "recording input path (required)")
	return cmd
}
