// Command mdfdump prints the structure and channel data of a measurement
// file. Defaults can come from a YAML config file; command-line flags
// override it. Output can be mirrored to a rotating log file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/scigolib/mdf"
)

type options struct {
	Convert  bool   `long:"convert" description:"apply physical conversions" yaml:"convert"`
	Channels string `long:"channels" description:"comma-separated channel filter" yaml:"channels"`
	Samples  int    `long:"samples" description:"samples to print per channel" yaml:"samples"`
	JSON     bool   `long:"json" description:"emit JSON instead of text" yaml:"json"`
	LogFile  string `long:"log-file" description:"mirror output to a rotating log file" yaml:"log_file"`
	Config   string `long:"config" description:"YAML config file with defaults" yaml:"-"`

	Args struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes" yaml:"-"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := options{Samples: 10}

	// First pass picks up --config; the second parse lets flags override
	// whatever the config file set.
	pre := opts
	preParser := flags.NewParser(&pre, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if pre.Config != "" {
		if err := loadConfig(pre.Config, &opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var out io.Writer = os.Stdout
	if opts.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
		})
	}

	ro := mdf.DefaultReadOptions()
	ro.ConvertAfterRead = opts.Convert
	if opts.Channels != "" {
		for _, name := range strings.Split(opts.Channels, ",") {
			if name = strings.TrimSpace(name); name != "" {
				ro.ChannelList = append(ro.ChannelList, name)
			}
		}
	}

	f, err := mdf.Open(opts.Args.File, &ro)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdfdump: %v\n", err)
		return 1
	}

	if opts.JSON {
		if err := dumpJSON(out, f, opts.Samples); err != nil {
			fmt.Fprintf(os.Stderr, "mdfdump: %v\n", err)
		}
		return 0
	}
	dumpText(out, f, opts.Samples)
	return 0
}

func loadConfig(path string, opts *options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func dumpText(w io.Writer, f *mdf.File, samples int) {
	fmt.Fprintf(w, "version: %d\n", f.Version())
	if !f.StartTime().IsZero() {
		fmt.Fprintf(w, "start:   %s\n", f.StartTime().Format("2006-01-02 15:04:05 MST"))
	}
	meta := []struct{ label, v string }{
		{"author", f.Author()},
		{"org", f.Organisation()},
		{"project", f.Project()},
		{"subject", f.Subject()},
		{"comment", f.Comment()},
	}
	for _, m := range meta {
		if m.v != "" {
			fmt.Fprintf(w, "%-8s %s\n", m.label+":", m.v)
		}
	}

	for _, d := range f.Diagnostics() {
		fmt.Fprintf(w, "warning: %s\n", d.Message())
	}

	masters := f.Masters()
	for _, name := range f.Channels() {
		ch, _ := f.Channel(name)
		role := ""
		if ch.Master {
			role = fmt.Sprintf(" [master of %d channels]", len(masters[name]))
		}
		unit := ch.Unit
		if unit != "" {
			unit = " [" + unit + "]"
		}
		fmt.Fprintf(w, "\n%s%s%s: %d samples (%s)\n",
			name, unit, role, ch.Len(), ch.ConversionKind())

		n := ch.Len()
		if samples > 0 && n > samples {
			n = samples
		}
		for i := 0; i < n; i++ {
			fmt.Fprintf(w, "  %s\n", ch.Sample(i))
		}
		if n < ch.Len() {
			fmt.Fprintf(w, "  ... %d more\n", ch.Len()-n)
		}
	}

	for _, at := range f.Attachments() {
		fmt.Fprintf(w, "\nattachment: %s (%s, %d bytes)\n",
			at.FileName, at.MimeType, at.OriginalSize)
	}
}

type jsonChannel struct {
	Name       string   `json:"name"`
	Unit       string   `json:"unit,omitempty"`
	Master     bool     `json:"master,omitempty"`
	Conversion string   `json:"conversion"`
	Samples    int      `json:"samples"`
	Head       []string `json:"head,omitempty"`
}

type jsonDump struct {
	Version     uint16        `json:"version"`
	Author      string        `json:"author,omitempty"`
	Project     string        `json:"project,omitempty"`
	Comment     string        `json:"comment,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Channels    []jsonChannel `json:"channels"`
	Attachments []string      `json:"attachments,omitempty"`
}

func dumpJSON(w io.Writer, f *mdf.File, samples int) error {
	d := jsonDump{
		Version: f.Version(),
		Author:  f.Author(),
		Project: f.Project(),
		Comment: f.Comment(),
	}
	for _, diag := range f.Diagnostics() {
		d.Warnings = append(d.Warnings, diag.Message())
	}
	for _, name := range f.Channels() {
		ch, _ := f.Channel(name)
		jc := jsonChannel{
			Name:       name,
			Unit:       ch.Unit,
			Master:     ch.Master,
			Conversion: ch.ConversionKind(),
			Samples:    ch.Len(),
		}
		n := ch.Len()
		if samples > 0 && n > samples {
			n = samples
		}
		for i := 0; i < n; i++ {
			jc.Head = append(jc.Head, ch.Sample(i))
		}
		d.Channels = append(d.Channels, jc)
	}
	for _, at := range f.Attachments() {
		d.Attachments = append(d.Attachments, at.FileName)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
