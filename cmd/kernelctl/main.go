package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/api/client"
)

const usage = `usage: kernelctl [-addr URL] <command>

commands:
  health               liveness check
  stats                kernel snapshot as JSON
  tasks                live tasks
  task <label>         one task as JSON
  services [prefix]    registered services
`

func main() {
	addr := flag.String("addr", envOr("KERNELD_URL", "http://127.0.0.1:8080"), "kerneld introspection URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, client.New(*addr), flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "kernelctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string) error {
	switch args[0] {
	case "health":
		out, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "stats":
		out, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "tasks":
		tasks, err := c.Tasks(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tNAME\tSTATE\tPRIO\tHANDLES\tREGIONS")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", t.Label, t.Name, t.State, t.Priority, t.Handles, t.Regions)
		}
		return w.Flush()
	case "task":
		if len(args) != 2 {
			return fmt.Errorf("task needs a label")
		}
		out, err := c.Task(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out)
	case "services":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		services, err := c.Services(ctx, prefix, 0)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tOWNER\tCHANNEL\tREGISTERED")
		for _, s := range services {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Owner, s.Channel, s.RegisteredAt.Format(time.RFC3339))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(data))
	return err
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
