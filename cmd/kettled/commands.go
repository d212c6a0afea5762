package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/pentaho/pentaho-kettle-sub148/server"
	"github.com/pentaho/pentaho-kettle-sub148/services/diagnostic"
	"github.com/pentaho/pentaho-kettle-sub148/services/logging"
	"github.com/pentaho/pentaho-kettle-sub148/services/runstore"
	"github.com/pentaho/pentaho-kettle-sub148/services/storage"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:      "config",
		Aliases:   []string{"c"},
		Usage:     "Path to the TOML configuration file",
		TakesFile: true,
		EnvVars:   []string{"KETTLE_CONFIG_PATH"},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "format",
		Usage: "Exchange encoding, json or yaml",
		Value: "json",
	}
}

func (m *Main) newRunCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Compile and run a pipeline document",
		ArgsUsage: "[pipeline document or '-' for stdin]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Cancel the run after the given duration",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
			&cli.BoolFlag{
				Name:  "in-memory",
				Usage: "Keep run results in memory only",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the run result as JSON",
			},
			&cli.IntFlag{
				Name:  "preview",
				Usage: "Number of collected rows printed per collect operation",
				Value: 10,
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := loadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			if l := ctx.String("log-level"); l != "" {
				c.Logging.Level = l
			}
			if ctx.Bool("in-memory") {
				c.Storage.InMemory = true
			}
			p, err := m.readPipeline(ctx.Args().First())
			if err != nil {
				return err
			}

			logService := logging.NewService(c.Logging, m.Stdout, m.Stderr)
			if err := logService.Open(); err != nil {
				return errors.Wrap(err, "init logging")
			}
			defer logService.Close()

			s, err := server.New(c, logService)
			if err != nil {
				return errors.Wrap(err, "create server")
			}
			if err := s.Open(); err != nil {
				return errors.Wrap(err, "open server")
			}
			defer s.Close()

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := s.Run(runCtx, p, kettle.Options{Timeout: ctx.Duration("timeout")})
			if err != nil && res.RunID == "" {
				return err
			}

			if ctx.Bool("json") {
				if err := res.WriteJSON(m.Stdout); err != nil {
					return err
				}
			} else {
				writeSummary(m.Stdout, res)
				m.writePreview(s, ctx.Int("preview"))
			}

			switch res.Status {
			case kettle.StatusFailure:
				return cli.Exit(fmt.Sprintf("run %s failed: %v", res.RunID, res.Fault), 1)
			case kettle.StatusCancelled:
				return cli.Exit(fmt.Sprintf("run %s cancelled", res.RunID), 2)
			}
			return nil
		},
	}
}

func (m *Main) newCompileCmd() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Compile a pipeline document and print its exchange form",
		ArgsUsage: "[pipeline document or '-' for stdin]",
		Flags:     []cli.Flag{formatFlag()},
		Action: func(ctx *cli.Context) error {
			data, err := m.compile(ctx.Args().First(), ctx.String("format"))
			if err != nil {
				return err
			}
			_, err = m.Stdout.Write(data)
			return err
		},
	}
}

func (m *Main) newExportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Compile a pipeline document and write its exchange form to a file",
		ArgsUsage: "[pipeline document or '-' for stdin]",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.StringFlag{
				Name:      "out",
				Aliases:   []string{"o"},
				Usage:     "Path of the exchange file",
				Required:  true,
				TakesFile: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			data, err := m.compile(ctx.Args().First(), ctx.String("format"))
			if err != nil {
				return err
			}
			out := ctx.String("out")
			if err := ioutil.WriteFile(out, data, 0644); err != nil {
				return errors.Wrap(err, "export")
			}
			fmt.Fprintf(m.Stdout, "wrote %s to %s\n", humanize.Bytes(uint64(len(data))), out)
			return nil
		},
	}
}

func (m *Main) newRunsCmd() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List the stored results of past runs",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "Glob pattern matched against run ids",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of results to skip",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: 20,
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := loadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			ds := diagnostic.NewService(nil)
			st := storage.NewService(c.Storage, ds.NewStorageHandler())
			if err := st.Open(); err != nil {
				return errors.Wrap(err, "open storage")
			}
			defer st.Close()
			rs := runstore.NewService(c.RunStore, ds.NewRunStoreHandler())
			rs.StorageService = st
			if err := rs.Open(); err != nil {
				return err
			}
			defer rs.Close()

			recs, err := rs.Results(ctx.String("pattern"), ctx.Int("offset"), ctx.Int("limit"))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(m.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tPIPELINE\tSTATUS\tROWS WRITTEN\tERRORS\tELAPSED\tSAVED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
					r.Result.RunID,
					r.Result.Pipeline,
					r.Result.Status,
					humanize.Comma(r.Result.RowsWritten),
					humanize.Comma(r.Result.Errors),
					r.Result.Elapsed.Round(time.Millisecond),
					humanize.Time(r.Saved),
				)
			}
			return w.Flush()
		},
	}
}

func (m *Main) newConfigCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the default configuration",
		Flags: []cli.Flag{configFlag()},
		Action: func(ctx *cli.Context) error {
			c, err := loadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			return toml.NewEncoder(m.Stdout).Encode(c)
		},
	}
}

// loadConfig reads the config file at path, or the demo config when no path
// is given, and applies the environment overrides.
func loadConfig(path string) (*server.Config, error) {
	var c *server.Config
	if path == "" {
		var err error
		if c, err = server.NewDemoConfig(); err != nil {
			return nil, err
		}
	} else {
		c = server.NewConfig()
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := c.ApplyEnvOverrides(); err != nil {
		return nil, errors.Wrap(err, "apply env config")
	}
	return c, nil
}

func (m *Main) readPipeline(path string) (*pipeline.Pipeline, error) {
	var r io.Reader
	switch path {
	case "":
		return nil, errors.New("must specify a pipeline document")
	case "-":
		r = m.Stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return pipeline.ReadDocument(r)
}

func (m *Main) compile(path, format string) ([]byte, error) {
	p, err := m.readPipeline(path)
	if err != nil {
		return nil, err
	}
	g, err := pipeline.Compile(p)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		data, err := g.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case "yaml":
		return g.YAML()
	default:
		return nil, fmt.Errorf("unknown format %q, expected json or yaml", format)
	}
}

func writeSummary(out io.Writer, res kettle.Result) {
	fmt.Fprintf(out, "run %s of %s finished %s in %v\n",
		res.RunID, res.Pipeline, res.Status, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "rows read %s, written %s, errors %s\n",
		humanize.Comma(res.RowsRead), humanize.Comma(res.RowsWritten), humanize.Comma(res.Errors))
	if res.Fault != nil {
		fmt.Fprintf(out, "fault: %v\n", res.Fault)
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tCOPY\tSTATE\tREAD\tWRITTEN\tERRORS\tAVG CYCLE")
	for _, u := range res.Units {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%v\n",
			u.Operation, u.Copy, u.State,
			humanize.Comma(u.RowsRead), humanize.Comma(u.RowsWritten), humanize.Comma(u.Errors),
			u.AvgCycle)
	}
	w.Flush()
}

func (m *Main) writePreview(s *server.Server, n int) {
	if n <= 0 {
		return
	}
	for _, op := range s.Collector.Operations() {
		b := s.Collector.Rows(op)
		fmt.Fprintf(m.Stdout, "\n%s: %s rows %v\n", op, humanize.Comma(int64(len(b.Rows))), b.Schema)
		for i, r := range b.Rows {
			if i == n {
				fmt.Fprintln(m.Stdout, "...")
				break
			}
			fmt.Fprintln(m.Stdout, r)
		}
	}
}
