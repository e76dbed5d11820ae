// 命令行工具：离线分析单张影像、按 JSON 请求做道路外扩计数、检查模型后端健康
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"roadscan-api/internal/api"
	"roadscan-api/internal/bootstrap"
	"roadscan-api/internal/config"
	"roadscan-api/internal/georef"
	"roadscan-api/internal/logger"
	"roadscan-api/internal/service"
	"roadscan-api/internal/shape"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roadscan",
		Short:         "Road and tree extraction from georeferenced imagery",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotenv()
			logger.Use(logger.New(cmd.ErrOrStderr(), logger.ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT")))
		},
	}
	root.AddCommand(newAnalyzeCmd(), newExtendCmd(), newHealthCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	var width float64
	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Segment an image and print road/tree polygons with metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			georef.Register()
			ctx := cmd.Context()
			env, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			mm := bootstrap.Models(cfg)
			mm.Heartbeat(ctx)

			opts := []service.Option{service.WithCache(env.Cache)}
			if env.Store != nil {
				opts = append(opts, service.WithRecorder(env.Store))
			}
			up := service.Upload{Filename: filepath.Base(args[0]), Data: data}
			if cmd.Flags().Changed("width") {
				up.ExtensionWidth = &width
			}
			res, err := service.NewDefault(cfg, mm, opts...).Analyze(ctx, up)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Float64VarP(&width, "width", "w", 0, "extension width for per-road tree counts (CRS units)")
	return cmd
}

// extendFile：与 /extend 相同的请求体
type extendFile struct {
	RoadPolygons   []shape.Object  `json:"road_polygons"`
	TreePolygons   []shape.Object  `json:"tree_polygons"`
	ExtensionWidth json.RawMessage `json:"extension_width"`
}

func newExtendCmd() *cobra.Command {
	var width float64
	cmd := &cobra.Command{
		Use:   "extend <request.json>",
		Short: "Buffer road polygons and count trees inside the corridors",
		Long:  "Reads a JSON body shaped like the /extend request. Use - to read stdin. --width overrides extension_width.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var req extendFile
			if err := json.NewDecoder(r).Decode(&req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}
			w := width
			if !cmd.Flags().Changed("width") {
				parsed, err := api.ParseWidth(req.ExtensionWidth)
				if err != nil {
					return err
				}
				w = parsed
			}
			roads, err := shape.Polygons(req.RoadPolygons)
			if err != nil {
				return fmt.Errorf("road_polygons: %w", err)
			}
			trees, err := shape.Polygons(req.TreePolygons)
			if err != nil {
				return fmt.Errorf("tree_polygons: %w", err)
			}
			a := service.NewAnalyzer("", nil, nil)
			res, err := a.Extend(cmd.Context(), roads, trees, w)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Float64VarP(&width, "width", "w", 0, "extension width (CRS units)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the configured model backends once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			mm := bootstrap.Models(cfg)
			mm.Heartbeat(cmd.Context())
			st := mm.Status()
			roles := make([]string, 0, len(st))
			for r := range st {
				roles = append(roles, r)
			}
			sort.Strings(roles)
			bad := 0
			for _, r := range roles {
				mark := "ok"
				if !st[r] {
					mark = "down"
					bad++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r, cfg.Models[r].Name, mark)
			}
			if bad > 0 {
				return fmt.Errorf("%d model backend(s) unavailable", bad)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
