package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fxnlabs/hwrt/internal/node"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Run an allocate, query and free round trip on every device",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Value: "device", Usage: "Allocation kind: device, optimized_host or shared"},
			&cli.Uint64Flag{Name: "size", Value: 1 << 20, Usage: "Allocation size in bytes"},
			&cli.IntFlag{Name: "iterations", Value: 16, Usage: "Round trips per device"},
			&cli.IntFlag{Name: "device", Value: -1, Usage: "Only probe the device with this index"},
		},
		Action: func(c *cli.Context) error {
			log := appLogger(c)
			m, err := node.Open(appConfig(c), log, rt.NewErrorQueue(log))
			if err != nil {
				return err
			}
			defer m.Close()

			req := probers.AllocationRequest{
				Kind:       c.String("kind"),
				Size:       c.Uint64("size"),
				Iterations: c.Int("iterations"),
			}
			if d := c.Int("device"); d >= 0 {
				req.Device = &d
			}
			result, err := probers.NewAllocationProber(m).Execute(req, log.Named("probe"))
			if err != nil {
				return err
			}
			results := result.([]probers.AllocationResult)
			renderProbe(c.App.Writer, results)

			for _, r := range results {
				if r.Error != "" {
					return cli.Exit(fmt.Sprintf("probe failed on %s: %s", r.ID, r.Error), 1)
				}
			}
			return nil
		},
	}
}

func renderProbe(w io.Writer, results []probers.AllocationResult) {
	us := func(s *probers.LatencyStats, pick func(*probers.LatencyStats) float64) string {
		if s == nil {
			return "-"
		}
		return strconv.FormatFloat(pick(s), 'f', 1, 64)
	}
	mean := func(s *probers.LatencyStats) float64 { return s.Mean }
	p99 := func(s *probers.LatencyStats) float64 { return s.P99 }

	data := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		switch {
		case r.Error != "":
			status = r.Error
		case r.Skipped != "":
			status = "skipped: " + r.Skipped
		}
		data = append(data, []string{
			r.ID,
			r.Kind,
			us(r.Allocate, mean), us(r.Allocate, p99),
			us(r.Query, mean),
			us(r.Free, mean), us(r.Free, p99),
			status,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"DEVICE", "KIND", "ALLOC MEAN", "ALLOC P99", "QUERY MEAN", "FREE MEAN", "FREE P99", "STATUS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()
}
