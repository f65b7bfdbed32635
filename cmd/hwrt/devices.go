package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/node"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List discovered backends and devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-banner", Usage: "Do not print the banner"},
		},
		Action: func(c *cli.Context) error {
			log := appLogger(c)
			m, err := node.Open(appConfig(c), log, rt.NewErrorQueue(log))
			if err != nil {
				return err
			}
			defer m.Close()

			w := c.App.Writer
			if !c.Bool("no-banner") {
				fmt.Fprintln(w, figure.NewFigure("hwrt", "", true).String())
			}
			fmt.Fprintf(w, "%d backends, %d drivers, %d devices\n\n", len(m.Backends()), m.NumPlatforms(), m.NumDevices())
			renderDevices(w, m)
			return nil
		},
	}
}

func renderDevices(w io.Writer, m *gpu.Manager) {
	data := make([][]string, 0, m.NumDevices())
	for _, r := range probers.Reports(m) {
		data = append(data, []string{
			strconv.Itoa(r.Index),
			r.ID,
			r.Platform,
			strconv.Itoa(r.PlatformIndex),
			r.Name,
			r.Vendor,
			r.DriverVersion,
			strconv.FormatUint(r.ComputeUnits, 10),
			gpu.FormatBytes(r.GlobalMemory),
			strconv.FormatBool(r.USM),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "ID", "TYPE", "PLATFORM", "NAME", "VENDOR", "DRIVER", "UNITS", "MEMORY", "USM"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
