// Package config defines the process-wide Options struct and binds it to
// command-line flags, one field per recognized downloader option.
//
// Struct-tag style (`config:"url"` etc.) follows backend/http.Options (see
// backend/http/http.go), bound directly to a pflag.FlagSet rather than
// through configstruct.Set/configmap.Mapper (an rclone remote-config-file
// indirection with no analogue here), since this program has no persisted
// remote config — only process flags. See DESIGN.md's Open Question
// resolution.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options is the full set of recognized CLI options.
type Options struct {
	Recursive           bool   `config:"recursive"`
	SpanHosts           bool   `config:"span-hosts"`
	Directories         bool   `config:"directories"`
	ForceDirectories    bool   `config:"force-directories"`
	NoHostDirectories   bool   `config:"no-host-directories"`
	ProtocolDirectories bool   `config:"protocol-directories"`
	CutDirectories      int    `config:"cut-directories"`
	DirectoryPrefix     string `config:"directory-prefix"`
	OutputDocument      string `config:"output-document"`
	DeleteAfter         bool   `config:"delete-after"`
	Continue            bool   `config:"continue"`
	Timestamping        bool   `config:"timestamping"`
	NumThreads          int    `config:"num-threads"`
	MaxRedirect         int    `config:"max-redirect"`
	KeepAlive           bool   `config:"keep-alive"`
	Cookies             bool   `config:"cookies"`
	SaveCookies         string `config:"save-cookies"`
	KeepSessionCookies  bool   `config:"keep-session-cookies"`
	UserAgent           string `config:"user-agent"`
	ServerResponse      bool   `config:"server-response"`
	Spider              bool   `config:"spider"`
	RestrictFileNames   string `config:"restrict-file-names"`

	Quiet   bool `config:"quiet"`
	Verbose bool `config:"verbose"`
	Debug   bool `config:"debug"`
}

// Default returns the option set with its stated defaults applied.
func Default() *Options {
	return &Options{
		Directories: true,
		NumThreads:  5,
		MaxRedirect: 3,
		KeepAlive:   true,
	}
}

// RegisterFlags binds every Options field to fs, one flag per option.
func RegisterFlags(fs *pflag.FlagSet, o *Options) {
	fs.BoolVarP(&o.Recursive, "recursive", "r", o.Recursive, "Enable link following.")
	fs.BoolVar(&o.SpanHosts, "span-hosts", o.SpanHosts, "Allow recursion to leave the initial host set.")
	fs.BoolVar(&o.Directories, "directories", o.Directories, "Create a directory hierarchy for recursive downloads.")
	fs.BoolVarP(&o.ForceDirectories, "force-directories", "x", o.ForceDirectories, "Force directory creation even without --recursive.")
	fs.BoolVar(&o.NoHostDirectories, "no-host-directories", o.NoHostDirectories, "Omit the host segment from the local path.")
	fs.BoolVar(&o.ProtocolDirectories, "protocol-directories", o.ProtocolDirectories, "Prepend the scheme segment to the local path.")
	fs.IntVar(&o.CutDirectories, "cut-directories", o.CutDirectories, "Strip N leading path segments from the local path.")
	fs.StringVarP(&o.DirectoryPrefix, "directory-prefix", "P", o.DirectoryPrefix, "Prepend P to all local paths.")
	fs.StringVarP(&o.OutputDocument, "output-document", "O", o.OutputDocument, "Write all bodies to F (append); '-' means stdout.")
	fs.BoolVar(&o.DeleteAfter, "delete-after", o.DeleteAfter, "Do not persist bodies.")
	fs.BoolVarP(&o.Continue, "continue", "c", o.Continue, "Resume with Range starting at the local file size.")
	fs.BoolVarP(&o.Timestamping, "timestamping", "N", o.Timestamping, "Conditional GET with If-Modified-Since.")
	fs.IntVar(&o.NumThreads, "num-threads", o.NumThreads, "Size of the worker pool.")
	fs.IntVar(&o.MaxRedirect, "max-redirect", o.MaxRedirect, "Redirect chain limit.")
	fs.BoolVar(&o.KeepAlive, "keep-alive", o.KeepAlive, "Request connection reuse.")
	fs.BoolVar(&o.Cookies, "cookies", o.Cookies, "Enable cookie handling.")
	fs.StringVar(&o.SaveCookies, "save-cookies", o.SaveCookies, "Save cookies to this file on exit.")
	fs.BoolVar(&o.KeepSessionCookies, "keep-session-cookies", o.KeepSessionCookies, "Save session cookies too.")
	fs.StringVarP(&o.UserAgent, "user-agent", "U", o.UserAgent, "Override the User-Agent header.")
	fs.BoolVarP(&o.ServerResponse, "server-response", "S", o.ServerResponse, "Print response headers to the log.")
	fs.BoolVar(&o.Spider, "spider", o.Spider, "Do not write bodies; discover links only.")
	fs.StringVar(&o.RestrictFileNames, "restrict-file-names", o.RestrictFileNames, "unix|windows|nocontrol|ascii, optionally suffixed ,lowercase or ,uppercase.")
	fs.BoolVarP(&o.Quiet, "quiet", "q", o.Quiet, "Suppress all but error output.")
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Print controller/worker receipt lines.")
	fs.BoolVarP(&o.Debug, "debug", "d", o.Debug, "Print internal progress notes.")
}

// Validate performs the startup-time checks whose failure is a
// ConfigError.
func (o *Options) Validate() error {
	if o.NumThreads <= 0 {
		return fmt.Errorf("num-threads must be positive, got %d", o.NumThreads)
	}
	if o.MaxRedirect < 0 {
		return fmt.Errorf("max-redirect must not be negative, got %d", o.MaxRedirect)
	}
	if o.Spider && o.OutputDocument != "" {
		return fmt.Errorf("--spider and --output-document are mutually exclusive")
	}
	return nil
}
