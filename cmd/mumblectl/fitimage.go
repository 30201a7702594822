package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lrhodin/mumblesync/pkg/transmit"
)

var fitImageCommand = &cli.Command{
	Name:      "fit-image",
	Usage:     "Recompress an image the way it would be sent to a server",
	ArgsUsage: "FILE",
	Action:    cmdFitImage,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "budget",
			Aliases: []string{"b"},
			Usage:   "Byte budget for the encoded image",
			Value:   transmit.CompatibleBudget,
		},
		&cli.IntFlag{
			Name:  "max-message-length",
			Usage: "Derive the budget from a server's image message length instead",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the encoded image to this file",
		},
		&cli.BoolFlag{
			Name:  "html",
			Usage: "Print the message HTML with the image as a data URL",
		},
	},
}

func cmdFitImage(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify an image file")
	}
	data, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	budget := ctx.Int("budget")
	if limit := ctx.Int("max-message-length"); limit > 0 {
		budget = transmit.BudgetForMessageLength(limit)
	}

	fitter := transmit.NewFitter(zerolog.Nop(), transmit.JPEGEncoder{}, transmit.DrawScaler{}, nil)
	res, err := fitter.Fit(data, budget)
	if err != nil {
		return err
	}
	if ctx.Bool("html") {
		fmt.Println(transmit.ImageHTML(res.MIME, res.Data))
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s %dx%d, %d bytes (budget %d), quality %.2f", res.MIME, res.Width, res.Height, len(res.Data), budget, res.Quality)
	switch {
	case res.AsIs:
		fmt.Fprint(os.Stderr, ", sent as-is")
	case res.Fallback:
		fmt.Fprint(os.Stderr, ", low quality fallback")
	}
	fmt.Fprintln(os.Stderr)
	if output := ctx.String("output"); output != "" {
		if err = os.WriteFile(output, res.Data, 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
