// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var (
	monitorInterval time.Duration
	monitorPlain    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch die temperature and supply rails against the burn windows",
	Long: `Continuously sample the analog monitor and show each reading against the
read and write windows of the detected variant. Useful to let a part settle
before programming.

Link statistics are shown when connected to a probe.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", time.Second, "Sample interval")
	monitorCmd.Flags().BoolVar(&monitorPlain, "plain", false, "Print one line per sample instead of the TUI")
	rootCmd.AddCommand(monitorCmd)
}

type sampleMsg struct {
	at     time.Time
	sample efuse.Sample
	err    error
	link   *probewire.Statistics
}

func takeSample(t *target) sampleMsg {
	s, err := t.session.Sample()
	msg := sampleMsg{at: time.Now(), sample: s, err: err}
	if t.client != nil {
		stats := t.client.Stats()
		stats.CalculateRates()
		msg.link = &stats
	}
	return msg
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return withTarget(func(t *target) error {
		id, err := t.session.Identity()
		if err != nil {
			return err
		}
		geo, err := t.session.Geometry()
		if err != nil {
			return err
		}

		if monitorPlain {
			return monitorLines(t, geo.Env)
		}

		p := tea.NewProgram(newMonitorModel(id, t.info, geo.Env), tea.WithAltScreen())
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(monitorInterval)
			defer ticker.Stop()
			for {
				p.Send(takeSample(t))
				select {
				case <-done:
					return
				case <-ticker.C:
				}
			}
		}()

		_, err = p.Run()
		close(done)
		if err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	})
}

func monitorLines(t *target, env efuse.EnvLimits) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	wt, wa, wi := env.For(efuse.OpWrite)
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		msg := takeSample(t)
		if msg.err != nil {
			fmt.Printf("%s  ERROR %v\n", msg.at.Format("15:04:05"), msg.err)
		} else {
			s := msg.sample
			writable := wt.Contains(s.Temperature) && wa.Contains(s.VCCAUX) && wi.Contains(s.VCCINT)
			fmt.Printf("%s  %6.2f C  VCCAUX %.3f V  VCCINT %.3f V  write=%t\n",
				msg.at.Format("15:04:05"), s.Temperature, s.VCCAUX, s.VCCINT, writable)
		}
		select {
		case <-sig:
			return nil
		case <-ticker.C:
		}
	}
}
