package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/backend"
	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/eventbus"
	"github.com/superlogger/superlogger/pkg/logger"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
)

const closeTimeout = 10 * time.Second

// app holds what the commands open, so tests can swap the store.
type app struct {
	configPath string

	openSink func(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*sink.Sink, error)
	openBus  func(ctx context.Context, cfg *config.Config) (*eventbus.Bus, func() error, error)
}

func defaultApp() *app {
	return &app{
		openSink: func(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*sink.Sink, error) {
			desc, err := backend.Descriptor(ctx, cfg, zl)
			if err != nil {
				return nil, err
			}
			return sink.New(backend.SinkOptions(cfg, desc, zl))
		},
		openBus: func(ctx context.Context, cfg *config.Config) (*eventbus.Bus, func() error, error) {
			client, err := eventbus.NewClient(ctx, &cfg.Redis)
			if err != nil {
				return nil, nil, err
			}
			return eventbus.NewBus(client, cfg.Redis.Channel), client.Close, nil
		},
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "logtail",
		Short:         "Query and follow stored logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: search /etc/superlogger and .)")
	root.AddCommand(newQueryCommand(a), newTailCommand(a))
	return root
}

func (a *app) loadConfig() (*config.Config, *zap.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	zl, err := logger.NewOperational(cfg.Logging.Level, "console")
	if err != nil {
		return nil, nil, err
	}
	return cfg, zl, nil
}

// withSink runs fn against a sink built from configuration and closes it after.
func (a *app) withSink(ctx context.Context, fn func(*sink.Sink) error) error {
	cfg, zl, err := a.loadConfig()
	if err != nil {
		return err
	}
	defer zl.Sync()

	s, err := a.openSink(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			zl.Warn("failed to close sink", zap.Error(err))
		}
	}()
	return fn(s)
}

func newQueryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored logs matching the filters as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := querySpecFromFlags(cmd)
			if err != nil {
				return err
			}
			if _, err := spec.Normalize(time.Now()); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return a.withSink(cmd.Context(), func(s *sink.Sink) error {
				res, err := s.Query(cmd.Context(), spec)
				if err != nil {
					return err
				}
				return encodeRows(enc, res)
			})
		},
	}

	flags := cmd.Flags()
	flags.String("context", "", "context substring")
	flags.String("logblock", "", "logblock substring")
	flags.String("source", "", "source substring")
	flags.String("content", "", "content substring")
	flags.String("level", "", "exact level name")
	flags.Int("type", -1, "log type (0 base, 1 rest-server, 2 rest-client, 3 websocket)")
	flags.String("from", "", "window start, RFC3339 or unix ms (default: until - 24h)")
	flags.String("until", "", "window end, RFC3339 or unix ms (default: now)")
	flags.Int("limit", model.DefaultQueryLimit, "documents to return")
	flags.Int("start", 0, "documents to skip")
	flags.String("order", string(model.OrderDesc), "asc or desc")
	flags.StringSlice("fields", nil, "fields to return")
	flags.Bool("group", false, "group the page by logblock")
	return cmd
}

// encodeRows prints one JSON line per document, record or group.
func encodeRows(enc *json.Encoder, res sink.Result) error {
	var rows []any
	switch {
	case res.Projected && res.Grouped:
		for _, g := range res.RecordGroups {
			rows = append(rows, g)
		}
	case res.Projected:
		for _, r := range res.Records {
			rows = append(rows, r)
		}
	case res.Grouped:
		for _, g := range res.Groups {
			rows = append(rows, g)
		}
	default:
		for _, doc := range res.Documents {
			rows = append(rows, doc)
		}
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func querySpecFromFlags(cmd *cobra.Command) (model.QuerySpec, error) {
	flags := cmd.Flags()
	spec := model.QuerySpec{}
	spec.Context, _ = flags.GetString("context")
	spec.Logblock, _ = flags.GetString("logblock")
	spec.Source, _ = flags.GetString("source")
	spec.Content, _ = flags.GetString("content")
	spec.Limit, _ = flags.GetInt("limit")
	spec.Start, _ = flags.GetInt("start")
	spec.Fields, _ = flags.GetStringSlice("fields")
	order, _ := flags.GetString("order")
	spec.Order = model.Order(order)

	if group, _ := flags.GetBool("group"); group {
		spec.Group = model.GroupByLogblock
	}
	if name, _ := flags.GetString("level"); name != "" {
		level, err := model.ParseLevel(name)
		if err != nil {
			return spec, err
		}
		spec.Level = &level
	}
	if n, _ := flags.GetInt("type"); n >= 0 {
		t := model.LogType(n)
		spec.Type = &t
	}

	var err error
	from, _ := flags.GetString("from")
	if spec.From, err = parseTimeFlag(from); err != nil {
		return spec, fmt.Errorf("invalid --from: %w", err)
	}
	until, _ := flags.GetString("until")
	if spec.Until, err = parseTimeFlag(until); err != nil {
		return spec, fmt.Errorf("invalid --until: %w", err)
	}
	return spec, nil
}

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, value)
}

func newTailCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow new logs as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, _ := cmd.Flags().GetInt("start")
			ids, _ := cmd.Flags().GetBool("ids")
			count, _ := cmd.Flags().GetInt("count")
			bus, _ := cmd.Flags().GetBool("bus")

			out := &lineWriter{enc: json.NewEncoder(cmd.OutOrStdout()), remaining: count}
			if bus {
				return a.tailBus(cmd.Context(), out)
			}

			opts := sink.StreamOptions{IncludeIDs: ids}
			if start >= 0 {
				opts.Start = &start
			}
			return a.withSink(cmd.Context(), func(s *sink.Sink) error {
				st := s.Stream(cmd.Context(), opts)
				defer st.Destroy()
				for ev := range st.Events() {
					if ev.Kind == sink.EventError {
						fmt.Fprintln(cmd.ErrOrStderr(), "stream error:", ev.Err)
						continue
					}
					more, err := out.write(ev.Doc)
					if err != nil || !more {
						return err
					}
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.Int("start", -1, "replay stored logs from this offset before following (-1 follows new logs only)")
	flags.Bool("ids", false, "include document ids")
	flags.Int("count", 0, "exit after this many logs (0 follows until interrupted)")
	flags.Bool("bus", false, "follow the redis event bus instead of the store")
	return cmd
}

func (a *app) tailBus(ctx context.Context, out *lineWriter) error {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return err
	}
	bus, closeBus, err := a.openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for doc := range bus.Subscribe(ctx) {
		more, err := out.write(doc)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

type lineWriter struct {
	enc       *json.Encoder
	remaining int
}

// write prints doc and reports whether more lines are wanted.
func (w *lineWriter) write(doc model.Document) (bool, error) {
	if err := w.enc.Encode(doc); err != nil {
		return false, err
	}
	if w.remaining == 0 {
		return true, nil
	}
	w.remaining--
	return w.remaining > 0, nil
}
