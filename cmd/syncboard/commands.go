package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mitmirani09/syncboard/internal/config"
)

func buildServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay and persistence server",
		Long: `Start the server. It relays draw events between the sessions of each
room over WebSocket (/ws) and stores committed shapes behind the HTTP API
(/api/rooms/{roomId}/shapes).

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults (SQLite in ./data)
  syncboard serve

  # Start with a config file
  syncboard serve --config /etc/syncboard/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

type clientFlags struct {
	server string
	room   string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVarP(&f.room, "room", "r", "", "Room id")
	cmd.MarkFlagRequired("room")
}

func buildSnapshotCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a room's committed shapes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func buildClearCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every committed shape of a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

type drawFlags struct {
	clientFlags
	tool   string
	points string
	text   string
	color  string
	width  float64
}

func buildDrawCmd() *cobra.Command {
	var flags drawFlags
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Join a room, draw one shape and print it",
		Long: `Join a room as a headless client, perform a single gesture and commit it.
The first point is the pointer-down position; the rest are pointer moves.`,
		Example: `  syncboard draw --room lobby --tool freehand --points "0,0 5,5 10,3"
  syncboard draw --room lobby --tool ellipse --points "100,100 103,104"
  syncboard draw --room lobby --tool text --points "20,30" --text hello`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraw(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.tool, "tool", "t", "freehand", "freehand, eraser, rectangle, ellipse or text")
	cmd.Flags().StringVarP(&flags.points, "points", "p", "", `Pointer positions as "x,y x,y ..."`)
	cmd.Flags().StringVar(&flags.text, "text", "", "Text for the text tool")
	cmd.Flags().StringVar(&flags.color, "color", "#000000", "Stroke color")
	cmd.Flags().Float64Var(&flags.width, "width", 3, "Stroke width")
	cmd.MarkFlagRequired("points")
	return cmd
}

func buildDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List servers advertised on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.OutOrStdout(), timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to listen for answers")
	return cmd
}
