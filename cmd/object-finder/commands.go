package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/objectfinder/object-finder/internal/client"
	"github.com/objectfinder/object-finder/internal/objects"
)

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <question>",
		Short: "Ask where an object is",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			res, err := newClient(cmd).Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, res)
			}

			out := cmd.OutOrStdout()
			if !res.Found {
				fmt.Fprintln(out, res.Message)
				return nil
			}

			name := "It"
			if res.Object != nil {
				name = "Your " + res.Object.Name
			}
			fmt.Fprintf(out, "%s is %s\n", name, res.Location)
			if res.Timestamp != nil {
				fmt.Fprintf(out, "  seen:       %s\n", humanize.Time(time.UnixMilli(*res.Timestamp)))
			}
			if res.Confidence != nil {
				fmt.Fprintf(out, "  confidence: %.0f%%\n", *res.Confidence*100)
			}
			if res.RecordingID != "" {
				fmt.Fprintf(out, "  recording:  %s\n", res.RecordingID)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recently found objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			h, err := newClient(cmd).History(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, h)
			}

			out := cmd.OutOrStdout()
			if len(h.FoundObjects) == 0 {
				fmt.Fprintf(out, "Nothing found yet (%d objects tracked)\n", h.TotalTracked)
				return nil
			}
			fmt.Fprintln(out, objectTable(h.FoundObjects))
			fmt.Fprintf(out, "%d of %d tracked objects have been found\n", h.TotalFound, h.TotalTracked)
			return nil
		},
	}
}

func suggestionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggestions",
		Short: "Show example questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := newClient(cmd).Suggestions(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, s)
			}
			for _, q := range s.Suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", q)
			}
			return nil
		},
	}
}

func objectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objects",
		Aliases: []string{"obj"},
		Short:   "Manage tracked objects",
	}
	cmd.AddCommand(objectsAddCmd(), objectsListCmd(), objectsGetCmd(), objectsDeleteCmd(), objectsCommonCmd())
	return cmd
}

func objectsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Teach a new object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, _ := cmd.Flags().GetString("alias")

			ctx, cancel := commandContext(cmd)
			defer cancel()

			obj, err := newClient(cmd).CreateObject(ctx, args[0], alias)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, obj)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking %q (id %d)\n", obj.Name, obj.ID)
			return nil
		},
	}
	cmd.Flags().StringP("alias", "a", "", "other ways you refer to it, comma separated")
	return cmd
}

func objectsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			term, _ := cmd.Flags().GetString("search")

			ctx, cancel := commandContext(cmd)
			defer cancel()

			list, err := newClient(cmd).ListObjects(ctx, client.ListOptions{Limit: limit, Search: term})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No objects tracked yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), objectTable(list))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "maximum objects to show (1-100)")
	cmd.Flags().String("search", "", "only objects whose name or alias matches")
	return cmd
}

func objectsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one tracked object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			obj, err := newClient(cmd).GetObject(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, obj)
			}
			fmt.Fprintln(cmd.OutOrStdout(), objectTable([]objects.TrackedObject{*obj}))
			return nil
		},
	}
}

func objectsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Stop tracking an object",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := newClient(cmd).DeleteObject(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Object %d deleted\n", id)
			return nil
		},
	}
}

func objectsCommonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "common",
		Short: "Show commonly tracked objects and alias tips",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			co, err := newClient(cmd).CommonObjects(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, co)
			}

			rows := make([][]string, 0, len(co.Objects))
			for _, o := range co.Objects {
				rows = append(rows, []string{o.Name, o.Alias})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Name", "Alias"}, rows, nil))
			fmt.Fprintln(out, "Tips:")
			for _, tip := range co.Tips {
				fmt.Fprintf(out, "  - %s\n", tip)
			}
			return nil
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a home recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()

			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))

			ctx, cancel := commandContext(cmd)
			defer cancel()

			res, err := newClient(cmd).Upload(ctx, f, filepath.Base(path), contentType)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploaded %s (%s)\n", res.FileName, humanize.Bytes(uint64(res.FileSize)))
			fmt.Fprintf(out, "  recording: %s\n", res.RecordingID)
			if res.Message != "" {
				fmt.Fprintf(out, "  %s\n", res.Message)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <recording>",
		Short: "Show processing status of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := newClient(cmd).UploadStatus(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n  %s\n", s.RecordingID, s.Status, s.Message)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c := newClient(cmd)
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s at %s\n  database: %s\n  uptime:   %s\n",
				h.Service, h.Status, c.BaseURL(), h.Database, h.Uptime)
			return nil
		},
	}
}

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show video service call metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			m, err := newClient(cmd).Metrics(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, m)
			}

			names := make([]string, 0, len(m.Performance))
			for name := range m.Performance {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				p := m.Performance[name]
				rows = append(rows, []string{
					name,
					humanize.Comma(p.Calls),
					fmt.Sprintf("%.3fs", p.AvgSeconds),
					fmt.Sprintf("%.3fs", p.MinSeconds),
					fmt.Sprintf("%.3fs", p.MaxSeconds),
					humanize.Comma(p.ErrorCount),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Operation", "Calls", "Avg", "Min", "Max", "Errors"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Cache: %d/%d entries, ttl %s, %d hits, %d misses\n",
				m.Cache.Size, m.Cache.MaxSize,
				time.Duration(m.Cache.TTLSeconds*float64(time.Second)),
				m.Cache.Hits, m.Cache.Misses)
			fmt.Fprintf(out, "Video: %s, breaker %s, up %s\n",
				m.System.VideoMode, m.System.BreakerState,
				time.Duration(m.System.UptimeSeconds*float64(time.Second)).Round(time.Second))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero all call metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := newClient(cmd).ResetMetrics(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Metrics reset")
			return nil
		},
	})
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the server's search cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached search results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := newClient(cmd).ClearCache(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return id, nil
}

// objectTable renders objects with their last sighting.
func objectTable(list []objects.TrackedObject) string {
	rows := make([][]string, 0, len(list))
	for _, o := range list {
		seen, location := "never", "-"
		if o.LastSeenTimestamp != nil {
			seen = humanize.Time(time.UnixMilli(*o.LastSeenTimestamp))
		}
		if o.LocationPhrase != nil {
			location = *o.LocationPhrase
		}
		rows = append(rows, []string{strconv.FormatInt(o.ID, 10), o.Name, o.Alias, location, seen})
	}
	return renderTable(
		[]string{"ID", "Name", "Alias", "Location", "Last Seen"},
		rows,
		[]columnAlignment{alignRight},
	)
}
