package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/eventsync/internal/category"
	"github.com/roach88/eventsync/internal/cluster"
	"github.com/roach88/eventsync/internal/event"
)

// ClusterOptions holds flags for the cluster command.
type ClusterOptions struct {
	*RootOptions
	Classify bool
}

// ClusterReport is the cluster command's payload.
type ClusterReport struct {
	Summary  cluster.Summary   `json:"summary"`
	Clusters []cluster.Cluster `json:"clusters"`
}

// eventsDocument is the mapping form of an events file.
type eventsDocument struct {
	Events []event.Event `yaml:"events"`
}

// NewClusterCommand creates the cluster command.
func NewClusterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClusterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cluster <events-file>",
		Short: "Group events into map markers",
		Long: `Group the events in a YAML or JSON file into location clusters.

The file holds either a list of events or a mapping with an "events" list.
Events sharing a coordinate (to six decimal places) form one marker, ordered
by start time.

Example:
  eventsync cluster ./testdata/events.yaml
  eventsync cluster --format json events.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCluster(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Classify, "classify", true, "fill in missing or unknown categories before clustering")

	return cmd
}

func runCluster(opts *ClusterOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	events, err := loadEventsFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("events file not found: %s", path), err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("cannot read events file %s", path), err)
	}
	formatter.VerboseLog("Loaded %d event(s) from %s", len(events), path)

	if opts.Classify {
		c := category.New()
		for i := range events {
			ev := &events[i]
			ev.Category = string(c.Repair(ev.Category, ev.Name, ev.Description))
		}
	}

	clusters := cluster.Build(events)
	report := ClusterReport{Summary: cluster.Summarize(clusters), Clusters: clusters}
	if report.Clusters == nil {
		report.Clusters = []cluster.Cluster{}
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	return outputClusters(formatter, report)
}

// loadEventsFile reads a YAML or JSON events file. Events without a location
// are placed at the sentinel coordinate.
func loadEventsFile(path string) ([]event.Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []event.Event
	if listErr := yaml.Unmarshal(b, &events); listErr != nil {
		var doc eventsDocument
		if docErr := yaml.Unmarshal(b, &doc); docErr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, docErr)
		}
		events = doc.Events
	}

	for i := range events {
		if events[i].ID == "" {
			return nil, fmt.Errorf("parse %s: event %d has no id", path, i+1)
		}
		events[i].Location = events[i].Location.Sanitize()
	}
	return events, nil
}

func outputClusters(formatter *OutputFormatter, report ClusterReport) error {
	w := formatter.Writer
	s := report.Summary
	fmt.Fprintf(w, "%d marker(s), %d event(s), %d single, largest %d\n", s.Clusters, s.Events, s.Singles, s.Largest)
	for _, c := range report.Clusters {
		fmt.Fprintf(w, "\n%s  %d event(s)  [%s]\n", c.Location, c.Count, strings.Join(c.Categories, ", "))
		for _, ev := range c.Events {
			fmt.Fprintf(w, "  %s  %s\n", ev.StartsAt.Format("2006-01-02 15:04"), ev.Name)
		}
	}
	return nil
}
