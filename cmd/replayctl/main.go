package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/HowardHan99/RerunPublicRobot/internal/library"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
)

func main() {
	cmd := &cli.Command{
		Name:  "replayctl",
		Usage: "Inspect and export replay recording files",
		Commands: []*cli.Command{
			listCommand(),
			inspectCommand(),
			stateAtCommand(),
			validateCommand(),
			exportCSVCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the recordings in a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding recording files",
				Value:   "recordings",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.String("dir")
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("read %s: %w", dir, err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDURATION\tENTITIES\tSAMPLES")
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() || !strings.HasSuffix(name, library.Ext) {
					continue
				}
				rec, err := replay.LoadRecording(filepath.Join(dir, name))
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%.2fs\t%d\t%d\n",
					strings.TrimSuffix(name, library.Ext), rec.TotalDuration, len(rec.EntityIDs()), rec.SampleCount())
			}
			return w.Flush()
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize one recording file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("inspect: a recording file is required")
			}
			rec, err := replay.LoadRecording(path)
			if err != nil {
				return err
			}

			fmt.Printf("duration: %.3fs\n", rec.TotalDuration)
			fmt.Printf("entities: %d\n", len(rec.EntityIDs()))
			fmt.Printf("samples:  %d\n", rec.SampleCount())
			for _, id := range rec.EntityIDs() {
				tl := rec.Timeline(id)
				first, last := 0.0, 0.0
				if tl.Len() > 0 {
					first = tl.Samples[0].Timestamp
					last = tl.Samples[tl.Len()-1].Timestamp
				}
				fmt.Printf("  %s: %d samples [%.3fs..%.3fs]%s\n", id, tl.Len(), first, last, propertySummary(tl))
			}
			return nil
		},
	}
}

func propertySummary(tl *replay.Timeline) string {
	keys := make(map[string]struct{})
	for i := range tl.Samples {
		for _, key := range tl.Samples[i].Properties.Keys() {
			keys[key] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)
	return " props=" + strings.Join(sorted, ",")
}

func stateAtCommand() *cli.Command {
	return &cli.Command{
		Name:      "state-at",
		Usage:     "Print interpolated entity state at a point in time",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "t", Usage: "Seconds into the recording", Value: -1},
			&cli.FloatFlag{Name: "u", Usage: "Normalized position in [0,1]", Value: -1},
			&cli.StringFlag{Name: "id", Usage: "Restrict output to one entity"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("state-at: a recording file is required")
			}
			rec, err := replay.LoadRecording(path)
			if err != nil {
				return err
			}

			var states map[string]replay.StateSnapshot
			switch {
			case cmd.Float("u") >= 0:
				states = replay.StateAtNormalized(rec, cmd.Float("u"))
			case cmd.Float("t") >= 0:
				states = replay.StateAtAll(rec, cmd.Float("t"))
			default:
				return fmt.Errorf("state-at: --t or --u is required")
			}

			if id := cmd.String("id"); id != "" {
				snap, ok := states[id]
				if !ok {
					return fmt.Errorf("state-at: unknown entity %q", id)
				}
				states = map[string]replay.StateSnapshot{id: snap}
			}

			docs := make([]replay.StateDocument, 0, len(states))
			for _, snap := range states {
				doc, err := replay.EncodeState(snap)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			sort.Slice(docs, func(i, j int) bool { return docs[i].EntityID < docs[j].EntityID })

			data, err := json.MarshalIndent(docs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check that a recording file decodes cleanly",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("validate: a recording file is required")
			}
			rec, err := replay.LoadRecording(path)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %.3fs, %d timelines, %d samples\n",
				rec.TotalDuration, len(rec.EntityIDs()), rec.SampleCount())
			return nil
		},
	}
}

func exportCSVCommand() *cli.Command {
	return &cli.Command{
		Name:      "export-csv",
		Usage:     "Write one entity's timeline as CSV",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Entity to export", Required: true},
			&cli.StringFlag{Name: "out", Usage: "Output file, stdout when omitted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("export-csv: a recording file is required")
			}
			rec, err := replay.LoadRecording(path)
			if err != nil {
				return err
			}
			tl := rec.Timeline(cmd.String("id"))
			if tl == nil {
				return fmt.Errorf("export-csv: unknown entity %q", cmd.String("id"))
			}

			out := os.Stdout
			if outPath := cmd.String("out"); outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer file.Close()
				out = file
			}

			w := csv.NewWriter(out)
			header := []string{"timestamp", "px", "py", "pz", "rx", "ry", "rz", "rw", "sx", "sy", "sz", "properties"}
			if err := w.Write(header); err != nil {
				return err
			}
			for i := range tl.Samples {
				row, err := csvRow(tl.Samples[i])
				if err != nil {
					return err
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
			w.Flush()
			return w.Error()
		},
	}
}

func csvRow(snap replay.StateSnapshot) ([]string, error) {
	props := ""
	if snap.Properties.Len() > 0 {
		doc, err := replay.EncodeState(snap)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(doc.Properties)
		if err != nil {
			return nil, err
		}
		props = string(data)
	}
	return []string{
		formatFloat(snap.Timestamp),
		formatFloat(snap.Position.X), formatFloat(snap.Position.Y), formatFloat(snap.Position.Z),
		formatFloat(snap.Rotation.X), formatFloat(snap.Rotation.Y), formatFloat(snap.Rotation.Z), formatFloat(snap.Rotation.W),
		formatFloat(snap.Scale.X), formatFloat(snap.Scale.Y), formatFloat(snap.Scale.Z),
		props,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
