package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	kv "github.com/micro/go-kv"
	"github.com/micro/go-kv/codec"
	"github.com/micro/go-kv/query"
	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/sync"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Commands returns the builtin subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "get",
			Usage:     "Print the value of a key",
			ArgsUsage: "KEY",
			Action:    withKV(get),
		},
		{
			Name:      "set",
			Usage:     "Write a value, parsed as json when it is valid json",
			ArgsUsage: "KEY VALUE",
			Flags: []cli.Flag{
				&cli.DurationFlag{Name: "ttl", Usage: "Expire after the duration"},
				&cli.BoolFlag{Name: "sliding", Usage: "Renew the ttl on every read"},
				&cli.TimestampFlag{Name: "expire-at", Usage: "Expire at an RFC3339 time", Layout: time.RFC3339},
				&cli.StringSliceFlag{Name: "tag", Usage: "Tag the record"},
			},
			Action: withKV(set),
		},
		{
			Name:      "rm",
			Usage:     "Remove keys",
			ArgsUsage: "KEY [KEY...]",
			Action:    withKV(rm),
		},
		{
			Name:  "keys",
			Usage: "List the live keys",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "prefix", Usage: "Keys starting with"},
				&cli.StringFlag{Name: "match", Usage: "Keys matching the regular expression"},
			},
			Action: withKV(keys),
		},
		{
			Name:  "clear",
			Usage: "Remove every record, or those selected by the flags",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "expired", Usage: "Only expired records"},
				&cli.StringSliceFlag{Name: "tag", Usage: "Records carrying the tag"},
				&cli.StringFlag{Name: "prefix", Usage: "Keys starting with"},
				&cli.StringFlag{Name: "match", Usage: "Keys matching the regular expression"},
			},
			Action: withKV(clearKeys),
		},
		{
			Name:      "query",
			Usage:     "Print the entries whose value matches a json condition",
			ArgsUsage: "[CONDITION]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "sort", Usage: "Sort paths, - for descending: age,-name"},
				&cli.StringFlag{Name: "project", Usage: "Projected paths, - to exclude: name,email"},
				&cli.IntFlag{Name: "limit", Usage: "Maximum number of entries"},
				&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
			},
			Action: withKV(find),
		},
		{
			Name:      "ttl",
			Usage:     "Print the time left before a key expires",
			ArgsUsage: "KEY",
			Action:    withKV(timeToLive),
		},
		{
			Name:  "expiring",
			Usage: "List the keys expiring soon",
			Flags: []cli.Flag{
				&cli.DurationFlag{Name: "within", Value: time.Minute, Usage: "Window from now"},
			},
			Action: withKV(expiring),
		},
		{
			Name:   "sweep",
			Usage:  "Remove one batch of expired records",
			Action: withKV(sweep),
		},
		{
			Name:   "watch",
			Usage:  "Print changes until interrupted",
			Action: withKV(watch),
		},
	}
}

// withKV opens the store for the duration of the action.
func withKV(fn func(ctx *cli.Context, k *kv.KV) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		k, err := Open(ctx)
		if err != nil {
			return err
		}
		defer k.Close()
		return fn(ctx, k)
	}
}

func arg(ctx *cli.Context, i int, name string) (string, error) {
	if ctx.NArg() <= i {
		return "", errors.Errorf("missing %s", name)
	}
	return ctx.Args().Get(i), nil
}

// printValue writes v as tagged json.
func printValue(w io.Writer, v interface{}) error {
	b, err := codec.Tagged{}.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parse reads s as tagged json, falling back to the plain string.
func parse(s string) interface{} {
	var v interface{}
	if err := (codec.Tagged{}).Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func get(ctx *cli.Context, k *kv.KV) error {
	key, err := arg(ctx, 0, "key")
	if err != nil {
		return err
	}
	v, err := k.Get(ctx.Context, key)
	if err != nil {
		return errors.Wrap(err, key)
	}
	return printValue(ctx.App.Writer, v)
}

func set(ctx *cli.Context, k *kv.KV) error {
	key, err := arg(ctx, 0, "key")
	if err != nil {
		return err
	}
	value, err := arg(ctx, 1, "value")
	if err != nil {
		return err
	}

	var opts []kv.SetOption
	if d := ctx.Duration("ttl"); d > 0 {
		opts = append(opts, kv.TTL(d))
	}
	if ctx.Bool("sliding") {
		opts = append(opts, kv.Sliding())
	}
	if t := ctx.Timestamp("expire-at"); t != nil {
		opts = append(opts, kv.ExpireAt(*t))
	}
	if tags := ctx.StringSlice("tag"); len(tags) > 0 {
		opts = append(opts, kv.Tags(tags...))
	}
	return k.Set(ctx.Context, key, parse(value), opts...)
}

func rm(ctx *cli.Context, k *kv.KV) error {
	if ctx.NArg() == 0 {
		return errors.New("missing key")
	}
	for _, key := range ctx.Args().Slice() {
		if err := k.Remove(ctx.Context, key); err != nil {
			return errors.Wrap(err, key)
		}
	}
	return nil
}

func keys(ctx *cli.Context, k *kv.KV) error {
	var opts []store.KeysOption
	if p := ctx.String("prefix"); len(p) > 0 {
		opts = append(opts, store.KeysPrefix(p))
	}
	if m := ctx.String("match"); len(m) > 0 {
		re, err := regexp.Compile(m)
		if err != nil {
			return errors.Wrap(err, "match")
		}
		opts = append(opts, store.KeysMatch(re))
	}

	list, err := k.Keys(ctx.Context, opts...)
	if err != nil {
		return err
	}
	for _, key := range list {
		fmt.Fprintln(ctx.App.Writer, key)
	}
	return nil
}

func clearKeys(ctx *cli.Context, k *kv.KV) error {
	var opts []store.ClearOption
	if ctx.Bool("expired") {
		opts = append(opts, store.ClearExpired())
	}
	if tags := ctx.StringSlice("tag"); len(tags) > 0 {
		opts = append(opts, store.ClearTags(tags...))
	}
	if p := ctx.String("prefix"); len(p) > 0 {
		opts = append(opts, store.ClearPrefix(p))
	}
	if m := ctx.String("match"); len(m) > 0 {
		re, err := regexp.Compile(m)
		if err != nil {
			return errors.Wrap(err, "match")
		}
		opts = append(opts, store.ClearMatch(re))
	}
	return k.Clear(ctx.Context, opts...)
}

func find(ctx *cli.Context, k *kv.KV) error {
	var cond interface{}
	if ctx.NArg() > 0 {
		if err := (codec.Tagged{}).Unmarshal([]byte(ctx.Args().First()), &cond); err != nil {
			return errors.Wrap(err, "condition")
		}
	}

	var opts []kv.QueryOption
	if s := ctx.String("sort"); len(s) > 0 {
		order, err := query.ParseOrder(s)
		if err != nil {
			return err
		}
		opts = append(opts, kv.Sort(order))
	}
	if p := ctx.String("project"); len(p) > 0 {
		opts = append(opts, kv.Project(query.ParseProjection(p)))
	}
	opts = append(opts, kv.Limit(ctx.Int("limit")), kv.Offset(ctx.Int("offset")))

	entries, err := k.Query(ctx.Context, cond, opts...)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := printValue(ctx.App.Writer, map[string]interface{}{"key": e.Key, "value": e.Value}); err != nil {
			return err
		}
	}
	return nil
}

func timeToLive(ctx *cli.Context, k *kv.KV) error {
	key, err := arg(ctx, 0, "key")
	if err != nil {
		return err
	}
	d, ok, err := k.TTL(ctx.Context, key)
	if err != nil {
		return errors.Wrap(err, key)
	}
	if !ok {
		fmt.Fprintln(ctx.App.Writer, "never")
		return nil
	}
	fmt.Fprintln(ctx.App.Writer, d.Round(time.Millisecond))
	return nil
}

func expiring(ctx *cli.Context, k *kv.KV) error {
	list, err := k.ExpiringSoon(ctx.Context, ctx.Duration("within"))
	if err != nil {
		return err
	}
	for _, e := range list {
		fmt.Fprintf(ctx.App.Writer, "%s\t%s\n", e.Key, e.TTL.Round(time.Millisecond))
	}
	return nil
}

func sweep(ctx *cli.Context, k *kv.KV) error {
	res, err := k.Sweep(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "visited %d, removed %d\n", res.Visited, len(res.Expired))
	if len(res.Expired) > 0 {
		fmt.Fprintln(ctx.App.Writer, strings.Join(res.Expired, "\n"))
	}
	return res.Err
}

func watch(ctx *cli.Context, k *kv.KV) error {
	sigctx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return follow(sigctx, ctx.App.Writer, k)
}

// follow prints every change as a json line until ctx is done.
func follow(ctx context.Context, w io.Writer, k *kv.KV) error {
	changes := make(chan sync.Change, 64)
	sub := k.Subscribe(func(c sync.Change) {
		select {
		case changes <- c:
		default:
		}
	})
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			err := printValue(w, map[string]interface{}{
				"kind":      string(c.Kind),
				"key":       c.Key,
				"value":     c.NewValue,
				"source":    string(c.Source),
				"backend":   c.Backend,
				"timestamp": c.Timestamp.UnixMilli(),
			})
			if err != nil {
				return err
			}
		}
	}
}
