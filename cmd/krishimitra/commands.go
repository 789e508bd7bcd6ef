package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/krishimitra/advisory-service/internal/models"
)

const farewell = "Dhanyavaad! KrishiMitra aapke saath hamesha hai."

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name, usage string, e env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprint(e.stderr, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse returns -1 when parsing succeeded, otherwise the exit code to use.
func parse(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	return -1
}

func runCrop(ctx context.Context, args []string, e env) int {
	fs := newFlagSet("crop", "Usage: krishimitra crop [--location NAME] [--season SEASON]\n\n", e)
	loc := fs.StringP("location", "l", models.DefaultLocation, "place name to geocode")
	season := fs.StringP("season", "s", models.DefaultSeason, "growing season, e.g. Kharif or Rabi")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	return withAdvisor(e, func(a advisor) (interface{}, error) {
		return a.RecommendCrop(ctx, models.CropInput{Location: *loc, Season: *season})
	})
}

func runSoil(ctx context.Context, args []string, e env) int {
	fs := newFlagSet("soil", "Usage: krishimitra soil [--crop CROP] [--location NAME]\n\n", e)
	crop := fs.StringP("crop", "c", models.DefaultCrop, "crop to fertilize")
	loc := fs.StringP("location", "l", models.DefaultLocation, "place name to geocode")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	return withAdvisor(e, func(a advisor) (interface{}, error) {
		return a.AnalyzeSoil(ctx, models.SoilInput{Crop: *crop, Location: *loc})
	})
}

func runIrrigation(ctx context.Context, args []string, e env) int {
	fs := newFlagSet("irrigation", "Usage: krishimitra irrigation [--city NAME] [--crop CROP] [--soil-type TYPE]\n\n", e)
	city := fs.String("city", models.DefaultIrrigationCity, "city to forecast")
	crop := fs.StringP("crop", "c", models.DefaultIrrigationCrop, "crop being irrigated")
	soil := fs.String("soil-type", models.DefaultSoilType, "soil type, e.g. Loamy, Black, Sandy")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	return withAdvisor(e, func(a advisor) (interface{}, error) {
		return a.AnalyzeIrrigation(ctx, models.IrrigationInput{City: *city, Crop: *crop, SoilType: *soil})
	})
}

func runDisease(ctx context.Context, args []string, e env) int {
	fs := newFlagSet("disease", "Usage: krishimitra disease --image PATH\n\n", e)
	image := fs.StringP("image", "i", "", "path to a leaf photo (JPEG or PNG)")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if *image == "" && fs.NArg() > 0 {
		*image = fs.Arg(0)
	}
	if *image == "" {
		fmt.Fprintln(e.stderr, "Error: --image is required")
		return ExitUsage
	}
	return withAdvisor(e, func(a advisor) (interface{}, error) {
		return a.AnalyzeLeaf(ctx, *image)
	})
}

func runQnA(ctx context.Context, args []string, e env) int {
	fs := newFlagSet("qna", "Usage: krishimitra qna [question...]\n\nWithout a question, starts an interactive session.\n\n", e)
	if code := parse(fs, args); code >= 0 {
		return code
	}
	a, code := connect(e)
	if a == nil {
		return code
	}
	if q := strings.TrimSpace(strings.Join(fs.Args(), " ")); q != "" {
		answer, err := a.Answer(ctx, q)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return ExitPipeline
		}
		fmt.Fprintln(e.stdout, answer)
		return ExitOK
	}
	return chat(ctx, a, e)
}

// chat runs the interactive loop until exit/quit/stop, EOF or cancellation.
func chat(ctx context.Context, a advisor, e env) int {
	fmt.Fprint(e.stdout, "KrishiMitra AI Chatbot Ready!\n\nType your farming question (or 'exit' to quit)\n\n")
	scanner := bufio.NewScanner(e.stdin)
	for {
		fmt.Fprint(e.stdout, "Farmer: ")
		if !scanner.Scan() {
			fmt.Fprintln(e.stdout)
			return ExitOK
		}
		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "exit", "quit", "stop":
			fmt.Fprintln(e.stdout, farewell)
			return ExitOK
		case "":
			continue
		}
		if ctx.Err() != nil {
			return ExitOK
		}
		answer, err := a.Answer(ctx, query)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(e.stdout, "KrishiMitra: %s\n\n", answer)
	}
}

func connect(e env) (advisor, int) {
	a, err := e.connect()
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return nil, ExitConfig
	}
	return a, ExitOK
}

func withAdvisor(e env, call func(advisor) (interface{}, error)) int {
	a, code := connect(e)
	if a == nil {
		return code
	}
	result, err := call(a)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return ExitPipeline
	}
	return printJSON(e.stdout, result)
}

func printJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ExitPipeline
	}
	return ExitOK
}
