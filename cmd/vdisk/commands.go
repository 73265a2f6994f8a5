package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jimyag/vdisk/internal/vdisk"
	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "vdisk",
		Short:         "vdisk - storage pool, disk image and node task executor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default $VDISK_CONFIG)")

	cmd.AddCommand(
		newServeCommand(opts),
		newRunTaskCommand(opts),
		newSubmitCommand(opts),
	)
	return cmd
}

func (o *options) server() (*vdisk.Server, error) {
	cfg, err := config.New(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return vdisk.New(cfg)
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the task worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := opts.server()
			if err != nil {
				return err
			}
			return server.Run(cmd.Context())
		},
	}
}

func newRunTaskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run-task TASK_ID",
		Short: "Execute one not_active task in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := opts.server()
			if err != nil {
				return err
			}
			defer server.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.RunTask(ctx, args[0])
		},
	}
}

func newSubmitCommand(opts *options) *cobra.Command {
	req := &entity.SubmitTaskRequest{}
	var taskType string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a task for the worker",
		Example: `  vdisk submit --type storage --action mount --obj Storage=storage-1
  vdisk submit --type image --action attach --obj Image=img-1 --obj VM=vm-1 --prop device=2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Type = entity.TaskType(taskType)

			server, err := opts.server()
			if err != nil {
				return err
			}
			defer server.Close()

			task, err := server.Tasks().Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&taskType, "type", "", "task type: storage, image or node")
	flags.StringVar(&req.Action, "action", "", "action to execute")
	flags.StringToStringVar(&req.Objects, "obj", nil, "referenced object as Kind=ID, repeatable")
	flags.StringToStringVar(&req.Props, "prop", nil, "task property as key=value, repeatable")
	flags.BoolVar(&req.IgnoreErrors, "ignore-errors", false, "tolerate recoverable errors")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("obj")
	return cmd
}
