package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-resource-query/pkg/di"
	"github.com/goliatone/go-resource-query/resource"
	"github.com/goliatone/go-resource-query/resourcecache"
	"github.com/goliatone/go-resource-query/view"
)

type app struct {
	envFile  string
	baseURL  string
	logLevel string

	container *di.Container
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Read and write portal entities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.container != nil {
				a.container.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file with PORTAL_* variables")
	flags.StringVar(&a.baseURL, "base-url", "", "backend origin, overrides PORTAL_BASE_URL")
	flags.StringVar(&a.logLevel, "log-level", "", "log level, overrides PORTAL_LOG_LEVEL")

	root.AddCommand(
		a.listCmd(),
		a.getCmd(),
		a.createCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	s, err := loadSettings(a.envFile)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		s.Container.Resource.BaseURL = a.baseURL
	}
	if a.logLevel != "" {
		s.Container.Logging.Level = a.logLevel
	}
	s.Container.Logging.Output = stderr

	container, err := di.NewContainer(s.Container)
	if err != nil {
		return err
	}

	session := container.Session()
	if s.AccessToken != "" || s.RefreshToken != "" {
		session.SetTokens(s.AccessToken, s.RefreshToken)
	}
	if s.Tenant != "" {
		session.SetTenant(s.Tenant)
	}

	a.container = container
	return nil
}

// resource builds the container on first use and returns the dynamic
// resource for name.
func (a *app) resource(cmd *cobra.Command, name string) (*resourcecache.Resource[resource.Record], error) {
	if a.container == nil {
		if err := a.setup(cmd.ErrOrStderr()); err != nil {
			return nil, err
		}
	}
	d, err := resource.NewDescriptor[resource.Record](name)
	if err != nil {
		return nil, err
	}
	return di.NewResource(a.container, d)
}

func (a *app) listCmd() *cobra.Command {
	var (
		filters []string
		skip    int
		size    int
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List one page of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			filter, err := parseFilters(filters)
			if err != nil {
				return err
			}

			var page resource.Page[resource.Record]
			if all {
				page, err = res.All(cmd.Context(), filter)
			} else {
				page, err = res.List(cmd.Context(), resource.ListInput{Filter: filter, SkipCount: skip, MaxResultCount: size})
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}

	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as name=value; repeatable")
	cmd.Flags().IntVar(&skip, "skip", 0, "records to skip")
	cmd.Flags().IntVar(&size, "max", resource.DefaultMaxResultCount, "page size")
	cmd.Flags().BoolVar(&all, "all", false, "read up to 1000 records")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Read one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			rec, err := res.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var data, file string

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a record from a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			payload, err := readPayload(data, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			rec, err := res.Create(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	addPayloadFlags(cmd, &data, &file)
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var data, file string

	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Update a record from a JSON object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			payload, err := readPayload(data, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			rec, err := res.Update(cmd.Context(), args[1], payload)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	addPayloadFlags(cmd, &data, &file)
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			if err := res.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", args[0], args[1])
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		filters  []string
		size     int
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch <resource>",
		Short: "Follow the first page of a resource and print every settled state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resource(cmd, args[0])
			if err != nil {
				return err
			}
			filter, err := parseFilters(filters)
			if err != nil {
				return err
			}

			states := newStateQueue()
			list := res.ListView(
				view.WithFilter[resource.Record](filter),
				view.WithPageSize[resource.Record](size),
				view.WithListChange[resource.Record](states.push),
			)
			defer list.Close()

			var tick <-chan time.Time
			if interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}

			out := cmd.OutOrStdout()
			printed := 0
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-tick:
					list.Refetch()
				case <-states.ready:
					for _, s := range states.drain() {
						printState(out, args[0], list, s)
						printed++
						if count > 0 && printed >= count {
							return nil
						}
					}
				}
			}
		},
	}

	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as name=value; repeatable")
	cmd.Flags().IntVar(&size, "max", resource.DefaultMaxResultCount, "page size")
	cmd.Flags().DurationVar(&interval, "interval", 0, "refetch period; 0 only follows invalidations")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many states; 0 runs until interrupted")
	return cmd
}

// stateQueue buffers settled view states for the watch loop. Consecutive
// non-error states collapse into the latest one; error states are always kept.
type stateQueue struct {
	mu     sync.Mutex
	states []view.State
	ready  chan struct{}
}

func newStateQueue() *stateQueue {
	return &stateQueue{ready: make(chan struct{}, 1)}
}

func (q *stateQueue) push(s view.State) {
	if s.Kind == view.KindLoading || s.Refreshing {
		return
	}

	q.mu.Lock()
	if n := len(q.states); n > 0 && q.states[n-1].Kind != view.KindError && s.Kind != view.KindError {
		q.states[n-1] = s
	} else {
		q.states = append(q.states, s)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *stateQueue) drain() []view.State {
	q.mu.Lock()
	defer q.mu.Unlock()
	states := q.states
	q.states = nil
	return states
}

func printState[T any](w io.Writer, name string, list *view.List[T], s view.State) {
	switch s.Kind {
	case view.KindError:
		fmt.Fprintf(w, "%s error: %s\n", name, s.Message)
	default:
		fmt.Fprintf(w, "%s %s total=%d page=%d/%d\n", name, s.Kind, list.TotalCount(), list.Page()+1, list.PageCount())
	}
}

func addPayloadFlags(cmd *cobra.Command, data, file *string) {
	cmd.Flags().StringVarP(data, "data", "d", "", "JSON object")
	cmd.Flags().StringVar(file, "file", "", "read the JSON object from a file, - for stdin")
}

func readPayload(data, file string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "" && file != "":
		return nil, errors.New("use either --data or --file")
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, errors.New("a JSON payload is required (--data or --file)")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return json.RawMessage(raw), nil
}

func parseFilters(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	filter := make(map[string]string, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid filter %q, want name=value", v)
		}
		filter[name] = value
	}
	return filter, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
