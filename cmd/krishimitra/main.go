package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/krishimitra/advisory-service/internal/bootstrap"
	"github.com/krishimitra/advisory-service/internal/config"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/observability"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitConfig   = 3
	ExitPipeline = 4
)

// advisor is the part of advisory.Service the CLI drives.
type advisor interface {
	RecommendCrop(ctx context.Context, in models.CropInput) (models.CropRecommendation, error)
	AnalyzeSoil(ctx context.Context, in models.SoilInput) (models.FertilizerAdvice, error)
	AnalyzeLeaf(ctx context.Context, imagePath string) (models.DiseaseRemedy, error)
	AnalyzeIrrigation(ctx context.Context, in models.IrrigationInput) (models.IrrigationAdvice, error)
	Answer(ctx context.Context, query string) (string, error)
}

type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// connect builds the advisor lazily so --help never needs an API key.
	connect func() (advisor, error)
}

func main() {
	logger, err := observability.NewConsoleLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	e := env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		connect: func() (advisor, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			return bootstrap.NewAdvisor(cfg, logger, bootstrap.Options{})
		},
	}
	code := run(ctx, os.Args[1:], e)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, args []string, e env) int {
	if len(args) == 0 {
		printUsage(e.stderr)
		return ExitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "crop":
		return runCrop(ctx, rest, e)
	case "soil":
		return runSoil(ctx, rest, e)
	case "irrigation":
		return runIrrigation(ctx, rest, e)
	case "disease":
		return runDisease(ctx, rest, e)
	case "qna":
		return runQnA(ctx, rest, e)
	case "help", "-h", "--help":
		printUsage(e.stdout)
		return ExitOK
	default:
		fmt.Fprintf(e.stderr, "Error: unknown command %q\n\n", cmd)
		printUsage(e.stderr)
		return ExitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: krishimitra <command> [options]

Commands:
  crop        Recommend three crops for a location and season
  soil        Recommend a fertilizer for a crop at a location
  irrigation  Weekly weather trend and irrigation advice for a city
  disease     Diagnose a leaf image and suggest a remedy
  qna         Ask a farming question, or start an interactive session

Run 'krishimitra <command> --help' for command options.
`)
}
