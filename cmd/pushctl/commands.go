package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ssepush-lite/internal/model"
	"ssepush-lite/internal/reachability"
	"ssepush-lite/internal/receive"
	"ssepush-lite/internal/sse"
)

func newShowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the locally stored installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			inst, err := a.service.Current()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inst.Payload())
		},
	}
}

func newSaveCommand(flags *globalFlags) *cobra.Command {
	var (
		channels       []string
		allowedSenders []string
		options        []string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Register or update the installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			inst, err := a.service.Current()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("channel") {
				inst.Channels = channels
			}
			if cmd.Flags().Changed("allowed-sender") {
				inst.AllowedSenders = allowedSenders
			}
			if err := applyOptions(inst, options); err != nil {
				return err
			}

			saved, err := a.service.Save(cmd.Context(), inst)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved.Payload())
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to subscribe to (repeatable)")
	cmd.Flags().StringSliceVar(&allowedSenders, "allowed-sender", nil, "Sender allowed to push (repeatable)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "Custom field as key=value; an empty value removes it")
	return cmd
}

func newRefreshCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Replace the local installation with the backend's copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			inst, err := a.service.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inst.Payload())
		},
	}
}

func newDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the installation on the backend and locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			if err := a.service.Delete(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return err
		},
	}
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every installation (requires PUSH_MASTER_KEY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			list, err := a.service.List(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(list))
			for _, inst := range list {
				out = append(out, inst.Payload())
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newListenCommand(flags *globalFlags) *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the stream and print messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			inst, err := a.service.Current()
			if err != nil {
				return err
			}
			if !inst.Registered() {
				return fmt.Errorf("installation is not registered, run save first")
			}

			network := reachability.NewBroadcaster()
			prober, err := reachability.NewProber(a.cfg.BaseURL, network,
				reachability.WithInterval(a.cfg.ReachabilityInterval),
				reachability.WithProberLogger(a.log))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printMessage := func(m model.Message) {
				_ = printJSON(out, map[string]string{"id": m.ID, "event": m.Event, "data": m.Data})
			}
			opts := []receive.Option{
				receive.WithLogger(a.log),
				receive.WithNotifier(network),
				receive.OnOpen(func() { a.log.Info("listening") }),
				receive.OnClose(func() { a.log.Info("stream closed") }),
				receive.OnError(func(status int, body []byte) {
					a.log.WithField("status", status).Errorf("stream error: %s", strings.TrimSpace(string(body)))
				}),
			}
			if len(events) == 0 {
				events = []string{model.DefaultEventType}
			}
			for _, ev := range events {
				opts = append(opts, receive.OnMessage(ev, printMessage))
			}

			client, err := receive.New(sse.New(sse.WithLogger(a.log)), a.service, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := client.Connect(); err != nil {
				return err
			}
			defer client.Disconnect()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return prober.Run(ctx) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&events, "event", nil, "Event type to print (repeatable, default message)")
	return cmd
}

// applyOptions sets key=value custom fields. Reserved keys are rejected.
func applyOptions(inst *model.Installation, pairs []string) error {
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid option %q, want key=value", pair)
		}
		if model.IsReservedKey(key) {
			return fmt.Errorf("option %q is a reserved field", key)
		}
		if inst.Options == nil {
			inst.Options = make(map[string]any)
		}
		if value == "" {
			delete(inst.Options, key)
			continue
		}
		inst.Options[key] = value
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
