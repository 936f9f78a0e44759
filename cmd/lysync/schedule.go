package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/schedule"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule <address>",
	Short: "Re-sync a LYWSD02 on a schedule",
	Long: `Keep a LYWSD02 clock in sync by repeating the sync on a schedule until
interrupted. --every accepts a cron expression ("0 3 * * *"), a descriptor
("@daily", "@every 6h") or a plain duration ("6h").`,
	Example: `  lysync schedule E7:2E:00:B1:38:96 --every @daily --tz 1
  lysync schedule E7:2E:00:B1:38:96 --every 6h --now`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

var (
	scheduleFlags updateFlags
	scheduleEvery string
	scheduleNow   bool
)

func init() {
	scheduleFlags.register(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleEvery, "every", "@daily", "Cron expression, descriptor or duration")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "Also sync once immediately")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	address := args[0]

	if _, err := schedule.Parse(scheduleEvery); err != nil {
		return fmt.Errorf("invalid --every: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	offset, unit, halfHour, err := scheduleFlags.resolve(cmd, a.cfg)
	if err != nil {
		return err
	}
	if err := (protocol.Request{Offset: offset}).Validate(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sched := schedule.New(a.bridge, a.logger)
	build := func(now time.Time) protocol.Request {
		return protocol.NewRequest(address, now, offset, unit, halfHour)
	}
	if err := sched.Add(address, scheduleEvery, build); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &plainWriter{w: cmd.OutOrStdout()}
	sched.Start()
	defer sched.Stop()

	for _, e := range sched.Entries() {
		out.Println(fmt.Sprintf("Scheduled %s (%s), next run %s", e.Name, e.Expr, e.Next.Format(time.RFC3339)))
	}
	if scheduleNow {
		if err := sched.Trigger(address); err != nil {
			return err
		}
	}

	for {
		ev, err := a.await(ctx, out, bridge.UpdateFinished, nil)
		if err != nil {
			// Interrupted: a normal way to end a schedule
			return nil
		}
		out.Println(fmt.Sprintf("%s %s", ev.Time.Format(time.RFC3339), ev.Outcome.Message()))
	}
}
