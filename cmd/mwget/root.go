// Package main provides the mwget command-line entry point: a cobra root
// command binding internal/config's flags and wiring the Controller.
//
// Follows the cobra.Command{Use, Short, Args, RunE} / cmdFlags := command.Flags()
// wiring style used elsewhere in this codebase, with a package-level
// function-var (runDownload) swapped out in tests for dependency
// injection.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgetgo/mwget/internal/config"
	"github.com/mgetgo/mwget/internal/controller"
	"github.com/mgetgo/mwget/internal/cookies"
	"github.com/mgetgo/mwget/internal/httpsession"
	"github.com/mgetgo/mwget/internal/lifecycle"
	"github.com/mgetgo/mwget/internal/log"
	"github.com/mgetgo/mwget/internal/pathmap"
)

var opts = config.Default()

var rootCmd = &cobra.Command{
	Use:   "mwget [flags] URL...",
	Short: "Recursive, multi-threaded HTTP and Metalink downloader",
	Long: `
mwget fetches one or more URLs, optionally following links recursively
and fanning piece-wise Metalink mirrors across a pool of worker goroutines.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(args)
	},
	SilenceUsage: true,
}

func init() {
	config.RegisterFlags(rootCmd.Flags(), opts)
}

// runDownload is swapped out in tests for dependency injection.
var runDownload = defaultRunDownload

func defaultRunDownload(rawURIs []string) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	switch {
	case opts.Debug:
		log.SetLevel(log.Debug)
	case opts.Verbose:
		log.SetLevel(log.Verbose)
	case opts.Quiet:
		log.SetLevel(log.Quiet)
	default:
		log.SetLevel(log.Normal)
	}

	restrict, caseMode, err := pathmap.ParseRestrict(opts.RestrictFileNames)
	if err != nil {
		return err
	}
	pathOpts := pathmap.Options{
		Spider:              opts.Spider,
		OutputDocument:      opts.OutputDocument,
		Recursive:           opts.Recursive,
		Directories:         opts.Directories,
		ForceDirectories:    opts.ForceDirectories,
		DirectoryPrefix:     opts.DirectoryPrefix,
		ProtocolDirectories: opts.ProtocolDirectories,
		HostDirectories:     !opts.NoHostDirectories,
		CutDirectories:      opts.CutDirectories,
		DeleteAfter:         opts.DeleteAfter,
		Restrict:            restrict,
		Case:                caseMode,
	}

	var jar = http.CookieJar(nil)
	if opts.Cookies {
		jar, err = cookies.NewJar()
		if err != nil {
			return fmt.Errorf("building cookie jar: %w", err)
		}
	}

	sessOpts := httpsession.DefaultOptions()
	sessOpts.KeepAlive = opts.KeepAlive
	sessOpts.UserAgent = opts.UserAgent
	sessOpts.ServerResponse = opts.ServerResponse
	sess := httpsession.New(sessOpts, jar)
	defer sess.Close()

	lc := lifecycle.New()
	defer lc.Stop()

	c := controller.New(opts, pathOpts, lc, sess)
	if err := c.Seed(rawURIs); err != nil {
		return err
	}
	c.Run(lc.Context())

	if !opts.Quiet {
		fmt.Fprint(os.Stderr, c.StatsSummary())
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
