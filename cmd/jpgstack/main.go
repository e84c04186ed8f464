// Command-line interface for packing MRC volumes into JPEG slice containers and back.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/janelia-flyem/jpgstack/config"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/tomo"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Print the version and exit.
	showVersion = flag.Bool("version", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.  Flags override its settings.
	configFile = flag.String("config", "", "")

	// Output file for a single input, otherwise an output directory.
	output = flag.String("o", "", "")

	// Lossy codec quality in [1,100].
	quality = flag.Int("q", slicecodec.DefaultQuality, "")

	// Slice codec name.
	codecName = flag.String("codec", "", "")

	// Worker budget; 0 uses every CPU.
	workers = flag.Int("workers", 0, "")

	// Bucket URL holding inputs and outputs instead of the local filesystem.
	bucket = flag.String("bucket", "", "")

	// Viewer program launched on unpacked volumes.
	viewer = flag.String("e", "", "")

	// Address for http communication.
	httpAddress = flag.String("http", config.DefaultHTTPAddress, "")

	// Re-encode format for extracted slices, e.g. "png" or "jpg:90".
	format = flag.String("format", "", "")
)

const helpMessage = `
jpgstack packs MRC tomograms into containers of compressed slices and back

Usage: jpgstack [options] <command>

      -o          =string   Output file for a single input, else output directory.
      -q          =number   Quality of the lossy codec in [1,100] (default 80).
      -codec      =string   Slice codec: jpg, png, or tiff (default jpg).
      -workers    =number   Worker budget, 0 uses every CPU.
      -config     =string   TOML configuration file.  Flags override its settings.
      -bucket     =string   Bucket URL (gs://, s3://, file://, mem://) for all paths.
      -e          =string   Viewer program to open unpacked volumes with.
      -http       =string   Address for HTTP communication when serving.
      -format     =string   Re-encode format for extracted slices, e.g. "png".
      -verbose    (flag)    Run in verbose mode.
      -version    (flag)    Print the version.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	pack    <volume, directory, or glob> ...
	unpack  <container, directory, or glob> ...
	info    <container>
	extract <container> <slice index>
	serve   <directory or bucket prefix>
	token   <user>
`

// Exit codes.
const (
	exitOK = iota
	exitError
	exitPartialFailure
)

var usage = func() {
	fmt.Print(helpMessage)
}

// settings are the resolved configuration plus command-line only options.
type settings struct {
	config  *config.Config
	output  string
	viewer  string
	format  string
	verbose bool
}

// loadSettings reads the configuration file and applies any flags set explicitly.
func loadSettings() (*settings, error) {
	c, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "q":
			c.Pack.Quality = *quality
		case "codec":
			c.Pack.Codec = *codecName
		case "workers":
			c.Workers.Count = *workers
		case "bucket":
			c.Storage.Bucket = *bucket
		case "http":
			c.Server.HTTPAddress = *httpAddress
		}
	})
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &settings{
		config:  c,
		output:  *output,
		viewer:  *viewer,
		format:  *format,
		verbose: *runVerbose,
	}, nil
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showVersion {
		fmt.Println(tomo.Version)
		os.Exit(exitOK)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(exitOK)
	}
	if *runVerbose {
		tomo.SetLogMode(tomo.DebugMode)
	}

	s, err := loadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitError)
	}
	s.config.Logging.SetLogger()

	// Capture ctrl+c and other interrupts.  Running jobs fail on the canceled context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	console := newConsole(os.Stdout)
	code := DoCommand(ctx, console, s, flag.Args())
	stop()
	tomo.Shutdown()
	os.Exit(code)
}
